package fleetglow

import (
	"log/slog"

	"libdb.so/fleetglow/internal/led"
	"libdb.so/fleetglow/ledserial"
)

// RandomSource is a source of random numbers in [0, 1). *rand.Rand satisfies
// it.
type RandomSource interface {
	Float64() float64
}

// Cursor points at the device and 0-based strand that receives the next
// ambient frame.
type Cursor struct {
	Device int
	Strand int
}

// Next returns the cursor advanced by one step. Devices are visited in order
// for each strand before moving on to the next strand:
//
//	(0, 0) -> (1, 0) -> ... -> (n-1, 0) -> (0, 1) -> ...
func (c Cursor) Next(devices, strands int) Cursor {
	if devices < 1 || strands < 1 {
		return Cursor{}
	}

	c.Device = (c.Device + 1) % devices
	if c.Device == 0 {
		c.Strand = (c.Strand + 1) % strands
	}
	return c
}

// AmbientStyle controls the look of ambient frames.
type AmbientStyle struct {
	Color led.RGBColor
	// MinSpeed and SpeedSpan bound the speed to [MinSpeed, MinSpeed+SpeedSpan).
	MinSpeed  int
	SpeedSpan int
	// MaxLength and LengthSpan bound the length to
	// (MaxLength-LengthSpan, MaxLength].
	MaxLength  int
	LengthSpan int
	Options    TransmitOptions
}

// Scheduler drives the ambient animation one device at a time.
type Scheduler struct {
	fleet  *Fleet
	rand   RandomSource
	style  AmbientStyle
	logger *slog.Logger
}

// NewScheduler creates a new ambient scheduler.
func NewScheduler(fleet *Fleet, rand RandomSource, style AmbientStyle, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		fleet:  fleet,
		rand:   rand,
		style:  style,
		logger: logger,
	}
}

// Frame returns a new ambient frame. Speed and length come from the same
// random draw, so faster drops are always shorter.
func (s *Scheduler) Frame() ledserial.Frame {
	r := s.rand.Float64()
	speed := s.style.MinSpeed + int(r*float64(s.style.SpeedSpan))
	length := s.style.MaxLength - int(r*float64(s.style.LengthSpan))

	return ledserial.NewFrame(
		int(s.style.Color.R()), int(s.style.Color.G()), int(s.style.Color.B()),
		speed, length,
	)
}

// Tick sends one ambient frame to the device and strand under the cursor and
// returns the advanced cursor. The strand count of the first device is used
// for wrapping.
func (s *Scheduler) Tick(c Cursor) Cursor {
	if s.fleet.Len() == 0 {
		return c
	}

	f := s.Frame()
	d := s.fleet.Device(c.Device)
	if d.Send(f, c.Strand, s.style.Options) {
		s.logger.Debug(
			"ambient frame",
			"device", d.Name(),
			"strand", c.Strand+1,
			"frame", f)
	}

	return c.Next(s.fleet.Len(), s.fleet.Device(0).Strands())
}

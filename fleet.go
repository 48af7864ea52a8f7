package fleetglow

import (
	"context"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"libdb.so/fleetglow/ledserial"
)

// Fleet is the ordered set of devices. The order is the round-robin order of
// the ambient animation and the order of broadcasts.
type Fleet struct {
	devices []*Device
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

// NewFleet creates a fleet from the given devices. The devices are expected
// to be opened already.
func NewFleet(devices []*Device, logger *slog.Logger) *Fleet {
	return &Fleet{
		devices: devices,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// OpenFleet creates and opens a device for each device in the configuration.
// Devices that fail to open are kept in the fleet but disabled. Simulated
// devices write to sink.
func OpenFleet(cfg *Config, sink io.Writer, logger *slog.Logger) *Fleet {
	devices := make([]*Device, len(cfg.Devices))
	for i, dc := range cfg.Devices {
		var ch Channel
		if cfg.Simulate || dc.Simulated {
			ch = NewSimulatedChannel(sink, logger.With("device", dc.DisplayName()))
		} else {
			ch = NewPhysicalChannel(dc.Path, cfg.Baud, time.Duration(cfg.OpenSettle), logger)
		}

		devices[i] = NewDevice(dc.DisplayName(), dc.Strands, ch, logger)
		// Open logs its own failure.
		devices[i].Open()
	}
	return NewFleet(devices, logger)
}

// Len returns the number of devices in the fleet.
func (f *Fleet) Len() int { return len(f.devices) }

// Device returns the device at index i.
func (f *Fleet) Device(i int) *Device { return f.devices[i] }

// Devices returns all devices in fleet order.
func (f *Fleet) Devices() []*Device { return f.devices }

// MaxStrands returns the largest strand count of any device.
func (f *Fleet) MaxStrands() int {
	var n int
	for _, d := range f.devices {
		if d.Strands() > n {
			n = d.Strands()
		}
	}
	return n
}

// Broadcast sends the frame to every enabled device in fleet order, waiting
// pause between devices so that a shared bus is not saturated. Disabled
// devices are skipped. The frame takes priority over ambient frames already
// waiting on a device. It returns the number of devices the frame was queued
// on.
//
// The strand selector is the fleet's maximum strand count, one past the last
// strand of the largest device, rather than any particular strand.
func (f *Fleet) Broadcast(ctx context.Context, frame ledserial.Frame, pause time.Duration, opts TransmitOptions) int {
	strand := f.MaxStrands()

	var sent, visited int
	for _, d := range f.devices {
		if !d.Enabled() {
			continue
		}

		if visited++; visited > 1 && pause > 0 {
			if err := f.sleep(ctx, pause); err != nil {
				return sent
			}
		}

		if d.Interrupt(frame, strand, opts) {
			sent++
		}
	}

	f.logger.Debug("broadcast frame", "frame", frame, "devices", sent)
	return sent
}

// Run runs the send workers of every device until ctx is canceled.
func (f *Fleet) Run(ctx context.Context) error {
	errg, ctx := errgroup.WithContext(ctx)
	for _, d := range f.devices {
		d := d
		errg.Go(func() error { return d.Run(ctx) })
	}
	return errg.Wait()
}

// Close closes every device.
func (f *Fleet) Close() error {
	var firstErr error
	for _, d := range f.devices {
		if err := d.Close(); err != nil {
			f.logger.Warn("failed to close device", "device", d.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package fleetglow

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"libdb.so/fleetglow/ledserial"
)

// ErrChannelDisabled is returned when sending to a channel that is not open.
var ErrChannelDisabled = errors.New("channel is disabled")

// TransmitOptions controls how a single frame is sent.
type TransmitOptions struct {
	// FieldPause is the pause between field pairs.
	FieldPause time.Duration
	// Readback makes the channel wait for a single reply byte after the frame
	// and log it. It is only useful for debugging the controllers.
	Readback bool
}

// Channel is a connection to a single strand controller. A channel is opened
// once and never reopened.
//
// Transmit always ends by clearing both buffers of the channel, whether or not
// the frame was sent successfully. Implementations need not be safe for
// concurrent use; Device guarantees that only one transmission runs at a time.
type Channel interface {
	// Open establishes the connection.
	Open() error
	// Transmit sends a frame to the given 0-based strand.
	Transmit(ctx context.Context, f ledserial.Frame, strand int, opts TransmitOptions) error
	// ClearBuffers discards anything pending in either direction. It is
	// idempotent.
	ClearBuffers() error
	// Close closes the connection.
	Close() error
}

// readbackTimeout bounds how long a readback waits for the reply byte.
const readbackTimeout = time.Second

// PhysicalChannel is a Channel backed by a serial port.
type PhysicalChannel struct {
	path   string
	mode   serial.Mode
	settle time.Duration
	logger *slog.Logger
	port   serial.Port
}

var _ Channel = (*PhysicalChannel)(nil)

// NewPhysicalChannel creates a channel for the serial device at path. settle
// is how long to wait after opening the port before it is used.
func NewPhysicalChannel(path string, baud int, settle time.Duration, logger *slog.Logger) *PhysicalChannel {
	return &PhysicalChannel{
		path:   path,
		mode:   serial.Mode{BaudRate: baud},
		settle: settle,
		logger: logger,
	}
}

// Open implements Channel.
func (c *PhysicalChannel) Open() error {
	port, err := serial.Open(c.path, &c.mode)
	if err != nil {
		return errors.Wrapf(err, "failed to open serial port %s", c.path)
	}

	// Opening the port resets most controllers; give them a moment.
	time.Sleep(c.settle)

	c.port = port
	c.logger.Debug("opened serial port", "path", c.path, "baud", c.mode.BaudRate)
	return nil
}

// Transmit implements Channel.
func (c *PhysicalChannel) Transmit(ctx context.Context, f ledserial.Frame, strand int, opts TransmitOptions) (err error) {
	if c.port == nil {
		return ErrChannelDisabled
	}

	defer func() {
		if cerr := c.ClearBuffers(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := ledserial.WriteFrame(ctx, c.port, f, strand, opts.FieldPause); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}

	if opts.Readback {
		if err := c.readback(); err != nil {
			return err
		}
	}

	return nil
}

func (c *PhysicalChannel) readback() error {
	if err := c.port.SetReadTimeout(readbackTimeout); err != nil {
		return errors.Wrap(err, "failed to set read timeout")
	}

	var b [1]byte
	n, err := c.port.Read(b[:])
	if err != nil {
		return errors.Wrap(err, "failed to read back")
	}
	if n == 0 {
		c.logger.Info("no readback from controller", "path", c.path)
		return nil
	}

	c.logger.Info("readback from controller", "path", c.path, "byte", b[0])
	return nil
}

// ClearBuffers implements Channel.
func (c *PhysicalChannel) ClearBuffers() error {
	if c.port == nil {
		return nil
	}
	if err := c.port.ResetInputBuffer(); err != nil {
		return errors.Wrap(err, "failed to reset input buffer")
	}
	if err := c.port.ResetOutputBuffer(); err != nil {
		return errors.Wrap(err, "failed to reset output buffer")
	}
	return nil
}

// Close implements Channel.
func (c *PhysicalChannel) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}

// SimulatedChannel is a Channel that writes frames to a diagnostic sink
// instead of a controller. Each frame is written to the sink in one piece,
// followed by a blank line, so several simulated channels may share a sink.
type SimulatedChannel struct {
	sink   io.Writer
	logger *slog.Logger
	out    bytes.Buffer
	open   bool
}

var _ Channel = (*SimulatedChannel)(nil)

// NewSimulatedChannel creates a simulated channel writing to sink.
func NewSimulatedChannel(sink io.Writer, logger *slog.Logger) *SimulatedChannel {
	return &SimulatedChannel{
		sink:   sink,
		logger: logger,
	}
}

// Open implements Channel.
func (c *SimulatedChannel) Open() error {
	if c.sink == nil {
		return errors.New("simulated channel has no sink")
	}
	c.open = true
	c.logger.Info("simulated channel enabled")
	return nil
}

// Transmit implements Channel.
func (c *SimulatedChannel) Transmit(ctx context.Context, f ledserial.Frame, strand int, opts TransmitOptions) error {
	if !c.open {
		return ErrChannelDisabled
	}

	defer c.ClearBuffers()

	if err := ledserial.WriteFrame(ctx, &c.out, f, strand, opts.FieldPause); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	c.out.WriteString("\n\n")

	if _, err := c.sink.Write(c.out.Bytes()); err != nil {
		return errors.Wrap(err, "failed to write to sink")
	}

	if opts.Readback {
		c.logger.Info("readback is not available on simulated channels")
	}

	return nil
}

// ClearBuffers implements Channel.
func (c *SimulatedChannel) ClearBuffers() error {
	c.out.Reset()
	return nil
}

// Close implements Channel.
func (c *SimulatedChannel) Close() error {
	c.open = false
	return nil
}

type sendJob struct {
	frame  ledserial.Frame
	strand int
	opts   TransmitOptions
}

// Device is one strand controller in the fleet. It owns a Channel and a
// single send worker, so at most one frame is on the wire at a time.
//
// Behind the frame on the wire wait at most one ambient frame and one
// reactive frame. The worker always takes the reactive frame first, and
// queueing a reactive frame discards the waiting ambient one.
type Device struct {
	name    string
	strands int
	ch      Channel
	logger  *slog.Logger

	enabled atomic.Bool
	pending chan sendJob
	urgent  chan sendJob
	once    sync.Once
}

// NewDevice creates a new device. The device is disabled until Open succeeds.
func NewDevice(name string, strands int, ch Channel, logger *slog.Logger) *Device {
	return &Device{
		name:    name,
		strands: strands,
		ch:      ch,
		logger:  logger.With("device", name),
		pending: make(chan sendJob, 1),
		urgent:  make(chan sendJob, 1),
	}
}

// Name returns the device's human-readable name.
func (d *Device) Name() string { return d.name }

// Strands returns the number of strands on the device.
func (d *Device) Strands() int { return d.strands }

// Enabled returns whether the device accepts frames.
func (d *Device) Enabled() bool { return d.enabled.Load() }

// Open opens the underlying channel. On failure the device stays disabled
// and the error is logged and returned; the rest of the fleet is unaffected.
func (d *Device) Open() error {
	if err := d.ch.Open(); err != nil {
		d.logger.Warn("failed to open device, disabling it", "error", err)
		return errors.Wrapf(err, "device %s", d.name)
	}
	d.enabled.Store(true)
	return nil
}

// Close disables the device and closes its channel.
func (d *Device) Close() error {
	var err error
	d.once.Do(func() {
		d.enabled.Store(false)
		err = d.ch.Close()
	})
	return err
}

// Send queues an ambient frame for the 0-based strand without blocking. It
// returns false if the device is disabled or already has a frame waiting.
func (d *Device) Send(f ledserial.Frame, strand int, opts TransmitOptions) bool {
	if !d.Enabled() {
		return false
	}

	select {
	case d.pending <- sendJob{frame: f, strand: strand, opts: opts}:
		return true
	default:
		d.logger.Debug("device busy, dropping frame", "frame", f, "strand", strand+1)
		return false
	}
}

// Interrupt queues a reactive frame for the 0-based strand without blocking.
// It takes the place of any waiting ambient frame and of any older reactive
// frame that has not been sent yet. It returns false only if the device is
// disabled.
//
// Interrupt and Send must be called from a single goroutine.
func (d *Device) Interrupt(f ledserial.Frame, strand int, opts TransmitOptions) bool {
	if !d.Enabled() {
		return false
	}

	select {
	case old := <-d.pending:
		d.logger.Debug("discarding ambient frame", "frame", old.frame, "strand", old.strand+1)
	default:
	}

	job := sendJob{frame: f, strand: strand, opts: opts}
	for {
		select {
		case d.urgent <- job:
			return true
		default:
		}

		select {
		case old := <-d.urgent:
			d.logger.Debug("replacing unsent reactive frame", "frame", old.frame)
		default:
		}
	}
}

// Run runs the send worker until ctx is canceled. Failed frames are logged
// and abandoned.
func (d *Device) Run(ctx context.Context) error {
	for {
		select {
		case job := <-d.urgent:
			d.transmit(ctx, job)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-d.urgent:
			d.transmit(ctx, job)
		case job := <-d.pending:
			d.transmit(ctx, job)
		}
	}
}

func (d *Device) transmit(ctx context.Context, job sendJob) {
	d.logger.Debug(
		"transmitting frame",
		"frame", job.frame,
		"strand", job.strand+1)

	if err := d.ch.Transmit(ctx, job.frame, job.strand, job.opts); err != nil {
		if ctx.Err() != nil {
			return
		}
		d.logger.Warn(
			"failed to transmit frame",
			"frame", job.frame,
			"strand", job.strand+1,
			"error", err)
	}
}

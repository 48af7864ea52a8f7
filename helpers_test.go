package fleetglow

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"libdb.so/fleetglow/ledserial"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentFrame struct {
	frame  ledserial.Frame
	strand int
	opts   TransmitOptions
}

// fakeChannel is a Channel that records what it is asked to send.
type fakeChannel struct {
	openErr     error
	transmitErr error
	// block, if not nil, makes Transmit wait until it is closed.
	block chan struct{}

	started chan struct{}
	sent    chan sentFrame

	mu          sync.Mutex
	inflight    int
	maxInflight int
	clears      int
	closed      bool
}

var _ Channel = (*fakeChannel)(nil)

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		started: make(chan struct{}, 16),
		sent:    make(chan sentFrame, 16),
	}
}

func (c *fakeChannel) Open() error { return c.openErr }

func (c *fakeChannel) Transmit(ctx context.Context, f ledserial.Frame, strand int, opts TransmitOptions) error {
	c.mu.Lock()
	c.inflight++
	if c.inflight > c.maxInflight {
		c.maxInflight = c.inflight
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inflight--
		c.mu.Unlock()
		c.ClearBuffers()
	}()

	c.started <- struct{}{}

	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if c.transmitErr != nil {
		return c.transmitErr
	}

	c.sent <- sentFrame{frame: f, strand: strand, opts: opts}
	return nil
}

func (c *fakeChannel) ClearBuffers() error {
	c.mu.Lock()
	c.clears++
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) stats() (maxInflight, clears int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxInflight, c.clears
}

func waitSent(t *testing.T, c *fakeChannel) sentFrame {
	t.Helper()

	select {
	case s := <-c.sent:
		return s
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
		return sentFrame{}
	}
}

func waitStarted(t *testing.T, c *fakeChannel) {
	t.Helper()

	select {
	case <-c.started:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for transmission to start")
	}
}

// newTestDevice creates and opens a device on a fake channel.
func newTestDevice(t *testing.T, name string, strands int, ch *fakeChannel) *Device {
	t.Helper()

	d := NewDevice(name, strands, ch, testLogger(t))
	if err := d.Open(); err != nil && ch.openErr == nil {
		t.Fatalf("failed to open %s: %v", name, err)
	}
	return d
}

// pendingJob returns the frame waiting on the device, if any, reactive frames
// first. It must only be used while the device's worker is not running.
func pendingJob(d *Device) (sendJob, bool) {
	select {
	case job := <-d.urgent:
		return job, true
	default:
	}

	select {
	case job := <-d.pending:
		return job, true
	default:
		return sendJob{}, false
	}
}

// sequenceRandom returns its values in order, wrapping around.
type sequenceRandom struct {
	values []float64
	i      int
}

func (r *sequenceRandom) Float64() float64 {
	v := r.values[r.i%len(r.values)]
	r.i++
	return v
}

// lockedBuffer is a bytes.Buffer safe for concurrent use.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

var errFake = errors.New("fake failure")

package fleetglow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"libdb.so/fleetglow/ledserial"
)

func TestSimulatedChannelTransmit(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	ch := NewSimulatedChannel(&sink, testLogger(t))
	if err := ch.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	f1 := ledserial.Frame{Red: 0, Green: 255, Blue: 255, Speed: 40, Length: 20}
	f2 := ledserial.Frame{Red: 255, Green: 255, Blue: 255, Speed: 35, Length: 79}

	ctx := context.Background()
	if err := ch.Transmit(ctx, f1, 0, TransmitOptions{}); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}
	if err := ch.Transmit(ctx, f2, 3, TransmitOptions{Readback: true}); err != nil {
		t.Fatalf("Transmit failed: %v", err)
	}

	var want []byte
	want = ledserial.AppendFrame(want, f1, 0)
	want = append(want, "\n\n"...)
	want = ledserial.AppendFrame(want, f2, 3)
	want = append(want, "\n\n"...)

	if !bytes.Equal(sink.Bytes(), want) {
		t.Errorf("expected sink %q, got %q", want, sink.Bytes())
	}
	if ch.out.Len() != 0 {
		t.Errorf("expected output buffer to be cleared, has %d bytes", ch.out.Len())
	}
}

func TestSimulatedChannelNotOpen(t *testing.T) {
	t.Parallel()

	var sink bytes.Buffer
	ch := NewSimulatedChannel(&sink, testLogger(t))

	err := ch.Transmit(context.Background(), ledserial.Frame{}, 0, TransmitOptions{})
	if !errors.Is(err, ErrChannelDisabled) {
		t.Errorf("expected ErrChannelDisabled, got %v", err)
	}
	if sink.Len() != 0 {
		t.Errorf("expected nothing written, got %q", sink.Bytes())
	}

	if err := NewSimulatedChannel(nil, testLogger(t)).Open(); err == nil {
		t.Error("expected Open without a sink to fail")
	}
}

type failingSink struct{}

func (failingSink) Write([]byte) (int, error) { return 0, errors.New("sink closed") }

func TestSimulatedChannelClearsOnFailure(t *testing.T) {
	t.Parallel()

	ch := NewSimulatedChannel(failingSink{}, testLogger(t))
	if err := ch.Open(); err != nil {
		t.Fatal(err)
	}

	if err := ch.Transmit(context.Background(), ledserial.Frame{}, 0, TransmitOptions{}); err == nil {
		t.Fatal("expected write failure")
	}
	if ch.out.Len() != 0 {
		t.Errorf("expected output buffer to be cleared after failure, has %d bytes", ch.out.Len())
	}

	// Clearing again is harmless.
	if err := ch.ClearBuffers(); err != nil {
		t.Errorf("ClearBuffers failed: %v", err)
	}
}

func TestPhysicalChannelNotOpen(t *testing.T) {
	t.Parallel()

	ch := NewPhysicalChannel("/dev/does-not-exist", 9600, 0, testLogger(t))

	if err := ch.Open(); err == nil {
		t.Fatal("expected Open to fail for a missing device")
	}

	err := ch.Transmit(context.Background(), ledserial.Frame{}, 0, TransmitOptions{})
	if !errors.Is(err, ErrChannelDisabled) {
		t.Errorf("expected ErrChannelDisabled, got %v", err)
	}
	if err := ch.ClearBuffers(); err != nil {
		t.Errorf("ClearBuffers on a closed channel failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("Close on a closed channel failed: %v", err)
	}
}

func TestDeviceOpenFailure(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	ch.openErr = errors.New("no such device")

	d := NewDevice("ttyACM9", 4, ch, testLogger(t))
	if err := d.Open(); err == nil {
		t.Fatal("expected Open to fail")
	}
	if d.Enabled() {
		t.Error("device should be disabled after a failed open")
	}
	if d.Send(ledserial.Frame{}, 0, TransmitOptions{}) {
		t.Error("disabled device accepted a frame")
	}
}

func TestDeviceSingleInFlight(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	ch.block = make(chan struct{})
	d := newTestDevice(t, "a", 4, ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	f1 := ledserial.Frame{Red: 1}
	f2 := ledserial.Frame{Red: 2}
	f3 := ledserial.Frame{Red: 3}

	if !d.Send(f1, 0, TransmitOptions{}) {
		t.Fatal("first frame was not accepted")
	}
	waitStarted(t, ch)

	if !d.Send(f2, 1, TransmitOptions{}) {
		t.Fatal("second frame should wait behind the first")
	}
	if d.Send(f3, 2, TransmitOptions{}) {
		t.Fatal("third frame should be dropped while one is in flight and one waits")
	}

	close(ch.block)

	if s := waitSent(t, ch); s.frame != f1 || s.strand != 0 {
		t.Errorf("expected %v on strand 0 first, got %v on %d", f1, s.frame, s.strand)
	}
	if s := waitSent(t, ch); s.frame != f2 || s.strand != 1 {
		t.Errorf("expected %v on strand 1 second, got %v on %d", f2, s.frame, s.strand)
	}

	select {
	case s := <-ch.sent:
		t.Errorf("unexpected extra frame %v", s.frame)
	case <-time.After(20 * time.Millisecond):
	}

	maxInflight, clears := ch.stats()
	if maxInflight != 1 {
		t.Errorf("expected at most one transmission in flight, saw %d", maxInflight)
	}
	if clears != 2 {
		t.Errorf("expected buffers cleared after each frame, got %d clears", clears)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDeviceSurvivesTransmitError(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	ch.transmitErr = errors.New("write failed")
	d := newTestDevice(t, "a", 1, ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for i := 0; i < 3; i++ {
		if !d.Send(ledserial.Frame{}, 0, TransmitOptions{}) {
			t.Fatalf("frame %d was not accepted", i)
		}
		waitStarted(t, ch)
	}

	// Each failed transmission still ends by clearing buffers. The last one
	// may still be finishing, so poll briefly.
	deadline := time.Now().Add(time.Second)
	for {
		if _, clears := ch.stats(); clears == 3 {
			break
		}
		if time.Now().After(deadline) {
			_, clears := ch.stats()
			t.Fatalf("expected 3 clears, got %d", clears)
		}
		time.Sleep(time.Millisecond)
	}

	if !d.Enabled() {
		t.Error("transmit errors must not disable the device")
	}
}

func TestDeviceClose(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	d := newTestDevice(t, "a", 1, ch)

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if d.Enabled() {
		t.Error("closed device is still enabled")
	}
	if !ch.closed {
		t.Error("channel was not closed")
	}
}

func TestDeviceInterruptReplacesAmbient(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	ch.block = make(chan struct{})
	d := newTestDevice(t, "a", 4, ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	ambient1 := ledserial.Frame{Green: 255, Blue: 255, Speed: 25, Length: 50}
	ambient2 := ledserial.Frame{Green: 255, Blue: 255, Speed: 30, Length: 40}
	reactive1 := ledserial.Frame{Red: 255, Speed: 35, Length: 79}
	reactive2 := ledserial.Frame{Red: 255, Green: 255, Blue: 255, Speed: 35, Length: 79}

	if !d.Send(ambient1, 0, TransmitOptions{}) {
		t.Fatal("first ambient frame was not accepted")
	}
	waitStarted(t, ch)

	if !d.Send(ambient2, 1, TransmitOptions{}) {
		t.Fatal("second ambient frame should wait behind the first")
	}
	if !d.Interrupt(reactive1, 4, TransmitOptions{}) {
		t.Fatal("reactive frame was refused while an ambient frame waited")
	}
	if !d.Interrupt(reactive2, 4, TransmitOptions{}) {
		t.Fatal("newer reactive frame was refused")
	}

	close(ch.block)

	if s := waitSent(t, ch); s.frame != ambient1 {
		t.Errorf("expected the in-flight ambient frame first, got %v", s.frame)
	}
	if s := waitSent(t, ch); s.frame != reactive2 || s.strand != 4 {
		t.Errorf("expected the newest reactive frame on strand 4, got %v on %d", s.frame, s.strand)
	}

	select {
	case s := <-ch.sent:
		t.Errorf("unexpected extra frame %v", s.frame)
	case <-time.After(20 * time.Millisecond):
	}

	if maxInflight, _ := ch.stats(); maxInflight != 1 {
		t.Errorf("expected at most one transmission in flight, saw %d", maxInflight)
	}
}

func TestDeviceInterruptDisabled(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	ch.openErr = errFake
	d := newTestDevice(t, "a", 4, ch)

	if d.Interrupt(ledserial.Frame{}, 0, TransmitOptions{}) {
		t.Error("disabled device accepted a reactive frame")
	}
}

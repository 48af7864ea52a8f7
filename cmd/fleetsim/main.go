// Command fleetsim pretends to be a strand controller. It decodes frames from
// a serial port, or from standard input if no device is given, and logs them.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/pflag"
	"go.bug.st/serial"
	"libdb.so/fleetglow/ledserial"
)

var (
	device = ""
	baud   = 9600
)

func init() {
	pflag.StringVarP(&device, "device", "d", device, "serial device to read from (default stdin)")
	pflag.IntVarP(&baud, "baud", "b", baud, "baud rate")
}

func main() {
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var r io.ReadCloser = os.Stdin
	if device != "" {
		port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
		if err != nil {
			return fmt.Errorf("failed to open serial port: %w", err)
		}
		r = port
	}

	go func() {
		<-ctx.Done()
		r.Close()
	}()

	return readFrames(ctx, bufio.NewReader(r), slog.Default())
}

func readFrames(ctx context.Context, r *bufio.Reader, logger *slog.Logger) error {
	for ctx.Err() == nil {
		f, strand, err := ledserial.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, ledserial.ErrUnknownTag) {
				logger.Warn("lost frame sync", "error", err)
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}

		logger.Info(
			"received frame",
			"strand", strand+1,
			"color", fmt.Sprintf("#%02x%02x%02x", f.Red, f.Green, f.Blue),
			"speed", f.Speed,
			"length", f.Length)
	}

	return ctx.Err()
}

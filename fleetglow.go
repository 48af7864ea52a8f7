// Package fleetglow drives a fleet of LED strand controllers. An ambient
// animation cycles through every strand of every controller, and feedback
// messages received over UDP interrupt it with frames broadcast to the whole
// fleet.
package fleetglow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"libdb.so/fleetglow/internal/message"
)

// State is what the control loop did in one iteration.
type State uint8

const (
	// Ambient means no message was waiting and the ambient animation stepped.
	Ambient State = iota
	// Reactive means a message was received and handled.
	Reactive
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case Ambient:
		return "ambient"
	case Reactive:
		return "reactive"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Controller is the fleet animation controller. It owns the fleet, the
// ambient cursor and the network listener.
type Controller struct {
	cfg       *Config
	logger    *slog.Logger
	fleet     *Fleet
	scheduler *Scheduler
	cursor    Cursor
	style     message.Style
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithRandomSource sets the random source of the ambient animation.
func WithRandomSource(src RandomSource) ControllerOption {
	return func(c *Controller) {
		c.scheduler.rand = src
	}
}

// NewController creates a new controller for the fleet.
func NewController(cfg *Config, fleet *Fleet, logger *slog.Logger, opts ...ControllerOption) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	if fleet.Len() == 0 {
		return nil, errors.New("fleet has no devices")
	}

	c := &Controller{
		cfg:    cfg,
		logger: logger,
		fleet:  fleet,
		style:  cfg.MessageStyle(),
	}
	c.scheduler = NewScheduler(
		fleet,
		rand.New(rand.NewSource(time.Now().UnixNano())),
		cfg.AmbientStyle(),
		logger,
	)

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Cursor returns the current ambient cursor.
func (c *Controller) Cursor() Cursor {
	return c.cursor
}

// Run binds the UDP socket and runs the control loop until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	l, err := Listen(c.cfg.Listen, c.cfg.ReceiveSize, c.logger)
	if err != nil {
		return err
	}

	c.logger.Info("listening for messages", "addr", l.Addr())
	return c.Serve(ctx, l)
}

// Serve runs the control loop on messages from the listener until ctx is
// canceled.
func (c *Controller) Serve(ctx context.Context, l *Listener) error {
	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		return l.Run(ctx)
	})
	errg.Go(func() error {
		return c.fleet.Run(ctx)
	})
	errg.Go(func() error {
		return c.loop(ctx, l)
	})
	return errg.Wait()
}

func (c *Controller) loop(ctx context.Context, inbox Poller) error {
	pause := time.Duration(c.cfg.LoopPause)

	for {
		c.Step(ctx, inbox)

		if err := sleepContext(ctx, pause); err != nil {
			return err
		}
	}
}

// Step runs a single iteration of the control loop. If a message is waiting,
// it is decoded and broadcast and the ambient cursor is left alone. Otherwise
// the ambient animation advances by one device. Step never blocks on the
// network.
func (c *Controller) Step(ctx context.Context, inbox Poller) State {
	raw, ok := inbox.Poll()
	if !ok || raw == "" {
		c.cursor = c.scheduler.Tick(c.cursor)
		return Ambient
	}

	c.handleMessage(ctx, raw)
	return Reactive
}

func (c *Controller) handleMessage(ctx context.Context, raw string) {
	m, err := message.Parse(raw)
	if err != nil {
		if !errors.Is(err, message.ErrNoData) {
			c.logger.Info("ignoring malformed message", "message", raw, "error", err)
		}
		return
	}

	f, ok := m.Reaction(c.style)
	if !ok {
		c.logger.Debug("ignoring message with unknown outcome", "message", raw)
		return
	}

	c.logger.Debug(
		"reacting to message",
		"outcome", m.Outcome,
		"correct", m.Correct,
		"range", m.Range,
		"answer", m.Answer,
		"frame", f)

	c.fleet.Broadcast(ctx, f, time.Duration(c.cfg.Reactive.DevicePause), c.cfg.ReactiveOptions())
}

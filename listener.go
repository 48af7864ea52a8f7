package fleetglow

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Poller is polled by the control loop for inbound messages. Poll must never
// block.
type Poller interface {
	Poll() (string, bool)
}

// inboxSize is the number of datagrams buffered between the reader and the
// control loop.
const inboxSize = 16

// receiveBackoff is the pause after a failed receive before reading again.
const receiveBackoff = 10 * time.Millisecond

// Listener receives feedback datagrams in the background and hands them to the
// control loop through Poll.
type Listener struct {
	conn    net.PacketConn
	size    int
	inbox   chan string
	backoff time.Duration
	logger  *slog.Logger
}

var _ Poller = (*Listener)(nil)

// Listen binds a UDP socket on addr. size bounds the number of bytes read from
// each datagram.
func Listen(addr string, size int, logger *slog.Logger) (*Listener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return NewListener(conn, size, logger), nil
}

// NewListener creates a listener reading from conn. The listener takes
// ownership of conn.
func NewListener(conn net.PacketConn, size int, logger *slog.Logger) *Listener {
	return &Listener{
		conn:    conn,
		size:    size,
		inbox:   make(chan string, inboxSize),
		backoff: receiveBackoff,
		logger:  logger,
	}
}

// Addr returns the local address of the socket.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Poll returns the oldest received message, if any.
func (l *Listener) Poll() (string, bool) {
	select {
	case msg := <-l.inbox:
		return msg, true
	default:
		return "", false
	}
}

// Run reads datagrams until ctx is canceled, then closes the socket.
func (l *Listener) Run(ctx context.Context) error {
	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		<-ctx.Done()
		l.logger.Debug("closing socket")
		if err := l.conn.Close(); err != nil {
			return errors.Wrap(err, "failed to close socket")
		}
		return ctx.Err()
	})
	errg.Go(func() error {
		return l.readLoop(ctx)
	})
	return errg.Wait()
}

func (l *Listener) readLoop(ctx context.Context) error {
	buf := make([]byte, l.size)

	for ctx.Err() == nil {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			// Receive errors are no different from having no data.
			l.logger.Debug("failed to receive datagram", "error", err)
			if err := sleepContext(ctx, l.backoff); err != nil {
				return err
			}
			continue
		}
		if n == 0 {
			continue
		}

		msg := string(buf[:n])
		l.logger.Debug("received datagram", "from", addr, "message", msg)

		select {
		case l.inbox <- msg:
		default:
			l.logger.Warn("inbox full, dropping message", "message", msg)
		}
	}

	return ctx.Err()
}

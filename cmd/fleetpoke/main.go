// Command fleetpoke sends a single feedback message to a fleetglow daemon, the
// way the game client does.
//
//	fleetpoke [-a host:port] OUTCOME CORRECT RANGE [PLAYER_ANSWER]
package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"libdb.so/fleetglow/internal/message"
)

var addr = "127.0.0.1:5005"

func init() {
	pflag.StringVarP(&addr, "addr", "a", addr, "address of the fleetglow daemon")
}

func main() {
	pflag.Parse()

	if err := run(pflag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < message.NumFields-1 || len(args) > message.NumFields {
		return fmt.Errorf("usage: fleetpoke [-a host:port] OUTCOME CORRECT RANGE [PLAYER_ANSWER]")
	}

	fields := make([]string, message.NumFields)
	copy(fields, args)
	msg := strings.Join(fields, ",")

	// Catch typos before they reach the daemon, which would silently ignore
	// them.
	if _, err := message.Parse(msg); err != nil && !errors.Is(err, message.ErrNoData) {
		return fmt.Errorf("invalid message %q: %w", msg, err)
	}

	conn, err := net.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	return nil
}

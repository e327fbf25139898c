package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// ListenOptions configures an echo target for probes.
type ListenOptions struct {
	// Address is the UDP listen address (e.g., "0.0.0.0:9000")
	Address string

	// Prefix is prepended to every echoed payload.
	Prefix []byte
}

// EchoEvent describes one echoed datagram.
type EchoEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	RemoteAddr string    `json:"remote_addr"`
	Bytes      int       `json:"bytes"`
	Error      string    `json:"error,omitempty"`
}

// Listen runs a UDP echo responder until ctx is cancelled. Every datagram is
// sent back to its sender, and an event is delivered on eventChan when it is
// not nil. ready, when not nil, receives the bound address once.
func Listen(ctx context.Context, opts ListenOptions, eventChan chan<- EchoEvent, ready chan<- net.Addr) error {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", opts.Address)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if ready != nil {
		ready <- conn.LocalAddr()
	}

	buf := make([]byte, 65535)
	out := make([]byte, 0, 65535)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		out = append(append(out[:0], opts.Prefix...), buf[:n]...)
		event := EchoEvent{
			Timestamp:  time.Now(),
			RemoteAddr: from.String(),
			Bytes:      n,
		}
		if _, err := conn.WriteTo(out, from); err != nil {
			event.Error = err.Error()
		}

		if eventChan != nil {
			select {
			case eventChan <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

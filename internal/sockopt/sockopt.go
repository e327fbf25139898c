// Package sockopt applies socket options to the tunnel's UDP sockets.
package sockopt

import (
	"context"
	"log/slog"
	"net"
	"syscall"
)

// Options are the socket options applied before bind.
type Options struct {
	// ReusePort sets SO_REUSEPORT where the platform supports it, so several
	// relay processes can share one listening port.
	ReusePort bool

	// ReceiveBuffer sets SO_RCVBUF in bytes when positive.
	ReceiveBuffer int

	// SendBuffer sets SO_SNDBUF in bytes when positive.
	SendBuffer int
}

// IsZero reports whether no option is set.
func (o Options) IsZero() bool {
	return !o.ReusePort && o.ReceiveBuffer <= 0 && o.SendBuffer <= 0
}

// ListenConfig returns a net.ListenConfig that applies opts to every socket
// it creates. Failures to set buffer sizes are logged, not fatal: the kernel
// may clamp or refuse them without the socket becoming unusable.
func ListenConfig(opts Options, logger *slog.Logger) net.ListenConfig {
	if opts.IsZero() {
		return net.ListenConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var setErr error
			err := c.Control(func(fd uintptr) {
				setErr = apply(fd, opts, logger.With("address", address))
			})
			if err != nil {
				return err
			}
			return setErr
		},
	}
}

// ListenPacket binds a UDP socket on address with opts applied.
func ListenPacket(ctx context.Context, address string, opts Options, logger *slog.Logger) (net.PacketConn, error) {
	lc := ListenConfig(opts, logger)
	return lc.ListenPacket(ctx, "udp", address)
}

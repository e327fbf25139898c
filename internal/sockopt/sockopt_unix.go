//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package sockopt

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

func apply(fd uintptr, opts Options, logger *slog.Logger) error {
	if opts.ReusePort {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return fmt.Errorf("set SO_REUSEPORT: %w", err)
		}
	}
	if opts.ReceiveBuffer > 0 {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, opts.ReceiveBuffer); err != nil {
			logger.Warn("Failed to set receive buffer", "size", opts.ReceiveBuffer, "error", err)
		}
	}
	if opts.SendBuffer > 0 {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, opts.SendBuffer); err != nil {
			logger.Warn("Failed to set send buffer", "size", opts.SendBuffer, "error", err)
		}
	}
	return nil
}

// ReceiveBuffer returns the effective SO_RCVBUF of fd.
func ReceiveBuffer(fd uintptr) (int, error) {
	return unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
}

//go:build windows

package sockopt

import (
	"errors"
	"log/slog"

	"golang.org/x/sys/windows"
)

func apply(fd uintptr, opts Options, logger *slog.Logger) error {
	if opts.ReusePort {
		return errors.New("SO_REUSEPORT is not supported on windows")
	}
	h := windows.Handle(fd)
	if opts.ReceiveBuffer > 0 {
		if err := windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_RCVBUF, opts.ReceiveBuffer); err != nil {
			logger.Warn("Failed to set receive buffer", "size", opts.ReceiveBuffer, "error", err)
		}
	}
	if opts.SendBuffer > 0 {
		if err := windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_SNDBUF, opts.SendBuffer); err != nil {
			logger.Warn("Failed to set send buffer", "size", opts.SendBuffer, "error", err)
		}
	}
	return nil
}

// ReceiveBuffer returns the effective SO_RCVBUF of fd.
func ReceiveBuffer(fd uintptr) (int, error) {
	return windows.GetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_RCVBUF)
}

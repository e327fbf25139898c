//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || windows)

package sockopt

import (
	"errors"
	"log/slog"
)

var errUnsupported = errors.New("socket options not supported on this platform")

func apply(fd uintptr, opts Options, logger *slog.Logger) error {
	if opts.ReusePort {
		return errUnsupported
	}
	logger.Warn("Ignoring socket buffer sizes on this platform")
	return nil
}

// ReceiveBuffer is not supported on this platform.
func ReceiveBuffer(fd uintptr) (int, error) {
	return 0, errUnsupported
}

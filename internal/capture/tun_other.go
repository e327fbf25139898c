//go:build !linux

package capture

import (
	"context"
	"errors"
	"log/slog"
)

// ErrTUNUnsupported is returned by OpenTUN on platforms without TUN support.
var ErrTUNUnsupported = errors.New("tun capture is only supported on linux")

// TUN is unavailable on this platform.
type TUN struct{}

// OpenTUN always fails on this platform.
func OpenTUN(cfg TUNConfig, logger *slog.Logger) (*TUN, error) {
	tunLogger(logger).Warn("TUN capture requested on unsupported platform")
	return nil, ErrTUNUnsupported
}

func (t *TUN) Name() string { return "" }

func (t *TUN) ReadDatagram(ctx context.Context) (Datagram, error) { return Datagram{}, ErrClosed }

func (t *TUN) Inject(d Datagram) error { return ErrTUNUnsupported }

func (t *TUN) Passthrough(d Datagram) error { return ErrPassthroughUnsupported }

func (t *TUN) Close() error { return nil }

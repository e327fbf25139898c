package capture

import (
	"log/slog"

	"github.com/postalsys/udptun/internal/logging"
)

// TUNConfig configures a TUN capture device.
type TUNConfig struct {
	// Name of the interface. Empty lets the kernel choose.
	Name string

	// MTU bounds the read buffer. Packets larger than MTU are truncated by
	// the device.
	MTU int

	// Queue is the number of decoded packets buffered between the device
	// reader and ReadDatagram.
	Queue int
}

// DefaultTUNConfig returns the default TUN settings.
func DefaultTUNConfig() TUNConfig {
	return TUNConfig{
		MTU:   1500,
		Queue: 256,
	}
}

func (c TUNConfig) withDefaults() TUNConfig {
	def := DefaultTUNConfig()
	if c.MTU <= 0 {
		c.MTU = def.MTU
	}
	if c.Queue <= 0 {
		c.Queue = def.Queue
	}
	return c
}

func tunLogger(logger *slog.Logger) *slog.Logger {
	return logging.WithComponent(logger, "capture-tun")
}

package agent

import "time"

// Config holds configuration for the agent.
type Config struct {
	// RelayAddress is the relay's tunnel endpoint (host:port).
	RelayAddress string

	// BindAddress is the local address of the tunnel-link socket.
	BindAddress string

	// TranslationTTL removes translation entries not refreshed by outbound
	// traffic for this long. 0 keeps entries for the process lifetime.
	TranslationTTL time.Duration

	// BufferSize is the largest datagram payload, in bytes. The tunnel-link
	// receive buffer adds room for the frame header.
	BufferSize int

	// AcceptAnySource accepts frames from any sender, not only the resolved
	// relay endpoint. Needed when a multi-homed relay replies from another
	// address.
	AcceptAnySource bool

	// ReceiveBuffer and SendBuffer size the tunnel-link socket buffers.
	ReceiveBuffer int
	SendBuffer    int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RelayAddress: "127.0.0.1:5000",
		BindAddress:  "0.0.0.0:0",
		BufferSize:   4096,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BindAddress == "" {
		c.BindAddress = def.BindAddress
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	return c
}

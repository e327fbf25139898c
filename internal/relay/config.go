package relay

import (
	"strconv"
	"time"
)

// Config holds configuration for the relay.
type Config struct {
	// ListenAddress is the UDP address agents send tunnel frames to.
	ListenAddress string

	// SessionBindAddress is the local address each session socket binds to.
	// Default ":0" picks an ephemeral port on all interfaces.
	SessionBindAddress string

	// AllowedPorts is the whitelist of destination ports.
	// Empty slice or ["*"] allows all ports.
	// Specific ports: ["53", "27015"]
	AllowedPorts []string

	// MaxSessions limits concurrent client sessions.
	// 0 means unlimited.
	MaxSessions int

	// SessionIdleTimeout closes sessions without traffic in either direction.
	// 0 means sessions live until their socket fails.
	SessionIdleTimeout time.Duration

	// BufferSize is the largest datagram payload, in bytes. Replies that fill
	// it are dropped as possibly truncated.
	BufferSize int

	// ResolveTimeout bounds one hostname lookup.
	ResolveTimeout time.Duration

	// MaxPendingResolves bounds concurrent hostname lookups. Frames that
	// need a lookup beyond it are dropped.
	MaxPendingResolves int

	// RateLimit bounds frames per second accepted from one client.
	// Zero PacketsPerSecond disables limiting.
	RateLimit RateLimit

	// ReusePort, ReceiveBuffer and SendBuffer are applied to the listening
	// socket.
	ReusePort     bool
	ReceiveBuffer int
	SendBuffer    int
}

// RateLimit configures a per-session token bucket.
type RateLimit struct {
	PacketsPerSecond float64
	Burst            int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddress:      "0.0.0.0:5000",
		SessionBindAddress: ":0",
		AllowedPorts:       []string{"*"},
		MaxSessions:        1000,
		SessionIdleTimeout: 0,
		BufferSize:         4096,
		ResolveTimeout:     5 * time.Second,
		MaxPendingResolves: 64,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SessionBindAddress == "" {
		c.SessionBindAddress = def.SessionBindAddress
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = def.ResolveTimeout
	}
	if c.MaxPendingResolves <= 0 {
		c.MaxPendingResolves = def.MaxPendingResolves
	}
	if c.RateLimit.PacketsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.PacketsPerSecond)
		if c.RateLimit.Burst < 1 {
			c.RateLimit.Burst = 1
		}
	}
	return c
}

// IsPortAllowed checks if a destination port is permitted.
func (c *Config) IsPortAllowed(port uint16) bool {
	if len(c.AllowedPorts) == 0 {
		return true
	}

	portStr := strconv.Itoa(int(port))

	for _, allowed := range c.AllowedPorts {
		if allowed == "*" {
			return true
		}
		if allowed == portStr {
			return true
		}
	}

	return false
}

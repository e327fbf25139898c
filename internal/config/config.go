// Package config provides configuration parsing and validation for udptun.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/postalsys/udptun/internal/logging"
)

// Config represents the complete configuration of an agent or relay.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Agent      AgentConfig      `yaml:"agent"`
	Relay      RelayConfig      `yaml:"relay"`
	Socket     SocketConfig     `yaml:"socket"`
	Health     HealthConfig     `yaml:"health"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AgentConfig contains settings of the local side.
type AgentConfig struct {
	RelayAddress    string        `yaml:"relay_address"`
	BindAddress     string        `yaml:"bind_address"`
	TranslationTTL  time.Duration `yaml:"translation_ttl"`   // 0 = never expire
	AcceptAnySource bool          `yaml:"accept_any_source"` // for relays replying from another address
	Capture         CaptureConfig `yaml:"capture"`
}

// CaptureConfig selects the packet interception device.
type CaptureConfig struct {
	Driver  string `yaml:"driver"`
	TUNName string `yaml:"tun_name"`
	MTU     int    `yaml:"mtu"`
	Queue   int    `yaml:"queue"`
}

// RelayConfig contains settings of the remote side.
type RelayConfig struct {
	ListenAddress      string          `yaml:"listen_address"`
	SessionBindAddress string          `yaml:"session_bind_address"`
	AllowedPorts       []string        `yaml:"allowed_ports"`
	MaxSessions        int             `yaml:"max_sessions"`         // 0 = unlimited
	SessionIdleTimeout time.Duration   `yaml:"session_idle_timeout"` // 0 = never expire
	ResolveTimeout     time.Duration   `yaml:"resolve_timeout"`
	ReusePort          bool            `yaml:"reuse_port"`
	RateLimit          RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds frames per second per relay session.
type RateLimitConfig struct {
	PacketsPerSecond float64 `yaml:"packets_per_second"` // 0 = unlimited
	Burst            int     `yaml:"burst"`
}

// SocketConfig sizes datagram and socket buffers.
type SocketConfig struct {
	BufferSize    ByteSize `yaml:"buffer_size"`
	ReceiveBuffer ByteSize `yaml:"receive_buffer"` // 0 = OS default
	SendBuffer    ByteSize `yaml:"send_buffer"`    // 0 = OS default
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SupervisorConfig controls restarting of failed forwarding loops.
type SupervisorConfig struct {
	Enabled      bool          `yaml:"enabled"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       float64       `yaml:"jitter"`
	MaxRestarts  int           `yaml:"max_restarts"` // 0 = infinite
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Agent: AgentConfig{
			RelayAddress: "",
			BindAddress:  "0.0.0.0:0",
			Capture: CaptureConfig{
				Driver: "tun",
				MTU:    1500,
				Queue:  256,
			},
		},
		Relay: RelayConfig{
			ListenAddress:      "0.0.0.0:5000",
			SessionBindAddress: ":0",
			AllowedPorts:       []string{"*"},
			MaxSessions:        1000,
			ResolveTimeout:     5 * time.Second,
		},
		Socket: SocketConfig{
			BufferSize: 4096,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Supervisor: SupervisorConfig{
			Enabled:      false,
			InitialDelay: 1 * time.Second,
			MaxDelay:     60 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.2,
			MaxRestarts:  0,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Start with defaults
	cfg := Default()

	// Parse YAML
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the settings shared by both roles.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !logging.IsValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if c.Agent.TranslationTTL < 0 {
		errs = append(errs, "agent.translation_ttl must not be negative")
	}
	if c.Agent.Capture.Driver != "tun" {
		errs = append(errs, fmt.Sprintf("invalid agent.capture.driver: %s (must be tun)", c.Agent.Capture.Driver))
	}
	if c.Agent.Capture.MTU < 576 || c.Agent.Capture.MTU > 65535 {
		errs = append(errs, "agent.capture.mtu must be between 576 and 65535")
	}

	if c.Relay.MaxSessions < 0 {
		errs = append(errs, "relay.max_sessions must not be negative")
	}
	if c.Relay.SessionIdleTimeout < 0 {
		errs = append(errs, "relay.session_idle_timeout must not be negative")
	}
	if c.Relay.ResolveTimeout < 0 {
		errs = append(errs, "relay.resolve_timeout must not be negative")
	}
	if c.Relay.RateLimit.PacketsPerSecond < 0 || c.Relay.RateLimit.Burst < 0 {
		errs = append(errs, "relay.rate_limit values must not be negative")
	}
	for i, p := range c.Relay.AllowedPorts {
		if !isValidPortPattern(p) {
			errs = append(errs, fmt.Sprintf("relay.allowed_ports[%d]: invalid port: %s", i, p))
		}
	}

	if c.Socket.BufferSize < 512 || c.Socket.BufferSize > 65535 {
		errs = append(errs, "socket.buffer_size must be between 512 and 65535 bytes")
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if c.Supervisor.Enabled {
		if c.Supervisor.InitialDelay <= 0 {
			errs = append(errs, "supervisor.initial_delay must be positive")
		}
		if c.Supervisor.MaxDelay < c.Supervisor.InitialDelay {
			errs = append(errs, "supervisor.max_delay must be >= initial_delay")
		}
		if c.Supervisor.Multiplier < 1 {
			errs = append(errs, "supervisor.multiplier must be at least 1")
		}
		if c.Supervisor.Jitter < 0 || c.Supervisor.Jitter > 1 {
			errs = append(errs, "supervisor.jitter must be between 0 and 1")
		}
	}

	return joinErrors(errs)
}

// ValidateAgent checks the settings required to run an agent.
func (c *Config) ValidateAgent() error {
	var errs []string
	if c.Agent.RelayAddress == "" {
		errs = append(errs, "agent.relay_address is required")
	} else if err := validateHostPort(c.Agent.RelayAddress, false); err != nil {
		errs = append(errs, fmt.Sprintf("agent.relay_address: %v", err))
	}
	if err := validateHostPort(c.Agent.BindAddress, true); err != nil {
		errs = append(errs, fmt.Sprintf("agent.bind_address: %v", err))
	}
	return joinErrors(errs)
}

// ValidateRelay checks the settings required to run a relay.
func (c *Config) ValidateRelay() error {
	var errs []string
	if err := validateHostPort(c.Relay.ListenAddress, true); err != nil {
		errs = append(errs, fmt.Sprintf("relay.listen_address: %v", err))
	}
	return joinErrors(errs)
}

func joinErrors(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	_, err := logging.ParseLevel(level)
	return err == nil
}

func isValidPortPattern(p string) bool {
	if p == "*" {
		return true
	}
	n, err := strconv.Atoi(p)
	return err == nil && n > 0 && n <= 65535
}

// validateHostPort checks a host:port pair. Port 0 is accepted only for
// local bind addresses.
func validateHostPort(addr string, allowZeroPort bool) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", portStr)
	}
	if port == 0 && !allowZeroPort {
		return fmt.Errorf("port is required")
	}
	return nil
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Marshal returns the configuration as YAML bytes.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

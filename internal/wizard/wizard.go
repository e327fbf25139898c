// Package wizard provides an interactive setup wizard for udptun.
package wizard

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/postalsys/udptun/internal/config"
)

// ErrNotInteractive is returned when stdin is not a terminal.
var ErrNotInteractive = errors.New("setup wizard requires an interactive terminal")

// Roles.
const (
	RoleAgent = "agent"
	RoleRelay = "relay"
)

// Answers holds everything the wizard asks for.
type Answers struct {
	ConfigPath string
	Role       string

	// Agent
	RelayAddress   string
	BindAddress    string
	TUNName        string
	MTU            string
	TranslationTTL string

	// Relay
	ListenAddress      string
	AllowedPorts       string
	MaxSessions        string
	SessionIdleTimeout string
	PacketsPerSecond   string

	LogLevel          string
	HealthEnabled     bool
	SupervisorEnabled bool
}

// DefaultAnswers returns the values pre-filled in the forms.
func DefaultAnswers() Answers {
	return Answers{
		ConfigPath:         "./udptun.yaml",
		Role:               RoleAgent,
		BindAddress:        "0.0.0.0:0",
		MTU:                "1500",
		TranslationTTL:     "0",
		ListenAddress:      "0.0.0.0:5000",
		AllowedPorts:       "*",
		MaxSessions:        "1000",
		SessionIdleTimeout: "0",
		PacketsPerSecond:   "0",
		LogLevel:           "info",
	}
}

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
	Role       string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, ErrNotInteractive
	}

	w.printBanner()

	a := DefaultAnswers()
	if err := w.askBasicSetup(&a); err != nil {
		return nil, err
	}

	var err error
	switch a.Role {
	case RoleAgent:
		err = w.askAgentConfig(&a)
	case RoleRelay:
		err = w.askRelayConfig(&a)
	}
	if err != nil {
		return nil, err
	}

	if err := w.askAdvancedOptions(&a); err != nil {
		return nil, err
	}

	cfg, err := BuildConfig(a)
	if err != nil {
		return nil, err
	}

	if err := WriteConfig(cfg, a.ConfigPath); err != nil {
		return nil, err
	}

	w.printSummary(a, cfg)

	return &Result{
		Config:     cfg,
		ConfigPath: a.ConfigPath,
		Role:       a.Role,
	}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
            _       _
  _   _  __| |_ __ | |_ _   _ _ __
 | | | |/ _' | '_ \| __| | | | '_ \
 | |_| | (_| | |_) | |_| |_| | | | |
  \__,_|\__,_| .__/ \__|\__,_|_| |_|
             |_|
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  UDP Tunnel - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Choose what this machine runs and where to write its configuration."),

			huh.NewSelect[string]().
				Title("Role").
				Options(
					huh.NewOption("Agent (captures local UDP traffic and tunnels it)", RoleAgent),
					huh.NewOption("Relay (forwards tunnelled traffic to destinations)", RoleRelay),
				).
				Value(&a.Role),

			huh.NewInput().
				Title("Config File Path").
				Description("Where to write the configuration file").
				Placeholder("./udptun.yaml").
				Value(&a.ConfigPath).
				Validate(validateConfigPath),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askAgentConfig(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Agent").
				Description("UDP packets captured on the TUN device are sent to the relay."),

			huh.NewInput().
				Title("Relay Address").
				Description("host:port of the relay").
				Placeholder("relay.example.com:5000").
				Value(&a.RelayAddress).
				Validate(validateRemoteAddress),

			huh.NewInput().
				Title("Bind Address").
				Description("Local address of the tunnel socket").
				Value(&a.BindAddress).
				Validate(validateBindAddress),

			huh.NewInput().
				Title("TUN Device Name").
				Description("Leave empty to let the kernel pick one").
				Value(&a.TUNName),

			huh.NewInput().
				Title("MTU").
				Value(&a.MTU).
				Validate(validateIntRange(576, 65535)),

			huh.NewInput().
				Title("Translation TTL").
				Description("Forget idle translations after this long (0 = never)").
				Value(&a.TranslationTTL).
				Validate(validateDuration),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askRelayConfig(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Relay").
				Description("Each agent gets its own session socket towards destinations."),

			huh.NewInput().
				Title("Listen Address").
				Value(&a.ListenAddress).
				Validate(validateBindAddress),

			huh.NewInput().
				Title("Allowed Destination Ports").
				Description("Comma separated, * for any").
				Value(&a.AllowedPorts).
				Validate(func(s string) error {
					_, err := ParsePortList(s)
					return err
				}),

			huh.NewInput().
				Title("Max Sessions").
				Description("0 = unlimited").
				Value(&a.MaxSessions).
				Validate(validateIntRange(0, 1<<20)),

			huh.NewInput().
				Title("Session Idle Timeout").
				Description("Close idle sessions after this long (0 = never)").
				Value(&a.SessionIdleTimeout).
				Validate(validateDuration),

			huh.NewInput().
				Title("Rate Limit").
				Description("Frames per second per session (0 = unlimited)").
				Value(&a.PacketsPerSecond).
				Validate(validateRate),
		),
	).WithTheme(w.theme)

	return form.Run()
}

func (w *Wizard) askAdvancedOptions(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options"),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug (verbose)", "debug"),
					huh.NewOption("Info (recommended)", "info"),
					huh.NewOption("Warning", "warn"),
					huh.NewOption("Error (quiet)", "error"),
				).
				Value(&a.LogLevel),

			huh.NewConfirm().
				Title("Enable health and metrics endpoint?").
				Value(&a.HealthEnabled),

			huh.NewConfirm().
				Title("Restart forwarding loops on failure?").
				Value(&a.SupervisorEnabled),
		),
	).WithTheme(w.theme)

	return form.Run()
}

// BuildConfig converts wizard answers into a validated configuration.
func BuildConfig(a Answers) (*config.Config, error) {
	cfg := config.Default()
	cfg.Log.Level = a.LogLevel
	cfg.Health.Enabled = a.HealthEnabled
	cfg.Supervisor.Enabled = a.SupervisorEnabled

	var err error
	switch a.Role {
	case RoleAgent:
		cfg.Agent.RelayAddress = strings.TrimSpace(a.RelayAddress)
		if a.BindAddress != "" {
			cfg.Agent.BindAddress = strings.TrimSpace(a.BindAddress)
		}
		cfg.Agent.Capture.TUNName = strings.TrimSpace(a.TUNName)
		if cfg.Agent.Capture.MTU, err = atoiDefault(a.MTU, cfg.Agent.Capture.MTU); err != nil {
			return nil, fmt.Errorf("mtu: %w", err)
		}
		if cfg.Agent.TranslationTTL, err = parseDuration(a.TranslationTTL); err != nil {
			return nil, fmt.Errorf("translation ttl: %w", err)
		}
	case RoleRelay:
		if a.ListenAddress != "" {
			cfg.Relay.ListenAddress = strings.TrimSpace(a.ListenAddress)
		}
		if cfg.Relay.AllowedPorts, err = ParsePortList(a.AllowedPorts); err != nil {
			return nil, err
		}
		if cfg.Relay.MaxSessions, err = atoiDefault(a.MaxSessions, cfg.Relay.MaxSessions); err != nil {
			return nil, fmt.Errorf("max sessions: %w", err)
		}
		if cfg.Relay.SessionIdleTimeout, err = parseDuration(a.SessionIdleTimeout); err != nil {
			return nil, fmt.Errorf("session idle timeout: %w", err)
		}
		if a.PacketsPerSecond != "" {
			pps, err := strconv.ParseFloat(strings.TrimSpace(a.PacketsPerSecond), 64)
			if err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
			cfg.Relay.RateLimit.PacketsPerSecond = pps
		}
	default:
		return nil, fmt.Errorf("unknown role %q", a.Role)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if a.Role == RoleAgent {
		err = cfg.ValidateAgent()
	} else {
		err = cfg.ValidateRelay()
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteConfig writes cfg as YAML to path, creating parent directories.
func WriteConfig(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# udptun configuration\n# Generated by setup wizard\n\n"
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(a Answers, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Role:         %s\n", a.Role)
	fmt.Printf("  Config file:  %s\n", a.ConfigPath)

	switch a.Role {
	case RoleAgent:
		fmt.Printf("  Relay:        %s\n", cfg.Agent.RelayAddress)
		fmt.Printf("  Bind:         %s\n", cfg.Agent.BindAddress)
	case RoleRelay:
		fmt.Printf("  Listen:       %s\n", cfg.Relay.ListenAddress)
		fmt.Printf("  Ports:        %s\n", strings.Join(cfg.Relay.AllowedPorts, ","))
	}

	if cfg.Health.Enabled {
		fmt.Printf("  Health:       http://%s/health\n", cfg.Health.Address)
	}

	fmt.Println()
	fmt.Printf("  To start the %s:\n", a.Role)
	fmt.Printf("    udptun %s -c %s\n", a.Role, a.ConfigPath)
	fmt.Println()
}

// ParsePortList splits a comma separated port list. "*" allows any port.
func ParsePortList(s string) ([]string, error) {
	var ports []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p != "*" {
			n, err := strconv.Atoi(p)
			if err != nil || n < 1 || n > 65535 {
				return nil, fmt.Errorf("invalid port %q", p)
			}
		}
		ports = append(ports, p)
	}
	if len(ports) == 0 {
		return nil, errors.New("at least one port or * is required")
	}
	return ports, nil
}

func validateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

func validateRemoteAddress(s string) error {
	host, port, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid address format (use host:port)")
	}
	if host == "" {
		return fmt.Errorf("host is required")
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

func validateBindAddress(s string) error {
	if _, _, err := net.SplitHostPort(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("invalid address format (use host:port)")
	}
	return nil
}

func validateIntRange(lo, hi int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("must be a number")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

func validateDuration(s string) error {
	_, err := parseDuration(s)
	return err
}

func validateRate(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return fmt.Errorf("must be a non-negative number")
	}
	return nil
}

// parseDuration accepts Go durations and a bare "0".
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q (e.g. 30s, 5m)", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return d, nil
}

func atoiDefault(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

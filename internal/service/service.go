// Package service installs udptun as a systemd service.
package service

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Roles a service can run.
const (
	RoleAgent = "agent"
	RoleRelay = "relay"
)

// ServiceConfig holds configuration for installing the service.
type ServiceConfig struct {
	// Role is the subcommand the service runs ("agent" or "relay").
	Role string

	// Name is the systemd unit name without the .service suffix.
	Name string

	// Description is the service description
	Description string

	// ConfigPath is the absolute path to the config file
	ConfigPath string

	// WorkingDir is the working directory for the service
	WorkingDir string

	// User is the user to run the service as (empty for root)
	User string

	// Group is the group to run the service as (empty for root)
	Group string
}

// DefaultConfig returns a default service configuration for role.
func DefaultConfig(role, configPath string) ServiceConfig {
	absPath, _ := filepath.Abs(configPath)
	workDir := filepath.Dir(absPath)

	desc := "udptun relay forwarding tunnelled UDP traffic"
	if role == RoleAgent {
		desc = "udptun agent tunnelling local UDP traffic"
	}

	return ServiceConfig{
		Role:        role,
		Name:        "udptun-" + role,
		Description: desc,
		ConfigPath:  absPath,
		WorkingDir:  workDir,
	}
}

// Validate checks that cfg can be installed.
func (c ServiceConfig) Validate() error {
	if c.Role != RoleAgent && c.Role != RoleRelay {
		return fmt.Errorf("invalid role %q (must be agent or relay)", c.Role)
	}
	if c.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if !filepath.IsAbs(c.ConfigPath) {
		return fmt.Errorf("config path must be absolute: %s", c.ConfigPath)
	}
	return nil
}

// IsRoot returns true if the current process is running as root.
func IsRoot() bool {
	return isRootImpl()
}

// Install installs the application as a system service and starts it.
func Install(cfg ServiceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !IsRoot() {
		return fmt.Errorf("must run as root to install service")
	}
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	// Get the executable path
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks to get the real path
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	return installImpl(cfg, execPath)
}

// Uninstall stops and removes the system service.
func Uninstall(serviceName string) error {
	if !IsRoot() {
		return fmt.Errorf("must run as root to uninstall service")
	}

	return uninstallImpl(serviceName)
}

// Status returns the current status of the service.
func Status(serviceName string) (string, error) {
	return statusImpl(serviceName)
}

// IsInstalled checks if the service is already installed.
func IsInstalled(serviceName string) bool {
	return isInstalledImpl(serviceName)
}

// runCommand executes a command and returns combined output.
func runCommand(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

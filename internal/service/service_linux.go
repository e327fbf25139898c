//go:build linux

package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const systemdUnitPath = "/etc/systemd/system"

func unitPath(serviceName string) string {
	return filepath.Join(systemdUnitPath, serviceName+".service")
}

func isRootImpl() bool {
	return os.Getuid() == 0
}

func systemctl(args ...string) (string, error) {
	out, err := runCommand("systemctl", args...)
	return strings.TrimSpace(out), err
}

// installImpl writes the unit, then enables and starts it. The unit file is
// removed again if systemd cannot load it.
func installImpl(cfg ServiceConfig, execPath string) error {
	path := unitPath(cfg.Name)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("service %s is already installed at %s", cfg.Name, path)
	}

	if err := os.WriteFile(path, []byte(generateSystemdUnit(cfg, execPath)), 0644); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	fmt.Printf("Created systemd unit: %s\n", path)

	if out, err := systemctl("daemon-reload"); err != nil {
		os.Remove(path)
		return fmt.Errorf("systemctl daemon-reload: %s: %w", out, err)
	}

	for _, step := range []struct{ verb, done string }{
		{"enable", "Enabled"},
		{"start", "Started"},
	} {
		if out, err := systemctl(step.verb, cfg.Name); err != nil {
			return fmt.Errorf("systemctl %s %s: %s: %w", step.verb, cfg.Name, out, err)
		}
		fmt.Printf("%s service: %s\n", step.done, cfg.Name)
	}
	return nil
}

// uninstallImpl stops and disables the unit on a best-effort basis and then
// removes the unit file.
func uninstallImpl(serviceName string) error {
	path := unitPath(serviceName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("service %s is not installed", serviceName)
	}

	for _, step := range []struct{ verb, done string }{
		{"stop", "Stopped"},
		{"disable", "Disabled"},
	} {
		out, err := systemctl(step.verb, serviceName)
		switch {
		case err == nil:
			fmt.Printf("%s service: %s\n", step.done, serviceName)
		case !strings.Contains(out, "not loaded"):
			fmt.Printf("Note: systemctl %s: %s\n", step.verb, out)
		}
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove unit file: %w", err)
	}
	fmt.Printf("Removed systemd unit: %s\n", path)

	if _, err := systemctl("daemon-reload"); err != nil {
		fmt.Println("Note: failed to reload systemd daemon")
	}
	systemctl("reset-failed", serviceName)
	return nil
}

func statusImpl(serviceName string) (string, error) {
	status, err := systemctl("is-active", serviceName)
	if err != nil && status != "inactive" && status != "failed" && status != "unknown" {
		return "", fmt.Errorf("systemctl is-active %s: %w", serviceName, err)
	}
	return status, nil
}

func isInstalledImpl(serviceName string) bool {
	_, err := os.Stat(unitPath(serviceName))
	return err == nil
}

// generateSystemdUnit renders the unit for cfg. Agent units may open
// /dev/net/tun and configure the interface, so they keep CAP_NET_ADMIN.
func generateSystemdUnit(cfg ServiceConfig, execPath string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[Unit]\nDescription=%s\n", cfg.Description)
	b.WriteString("After=network-online.target\nWants=network-online.target\n\n")

	b.WriteString("[Service]\nType=simple\n")
	fmt.Fprintf(&b, "ExecStart=%s %s -c %s\n", execPath, cfg.Role, cfg.ConfigPath)
	fmt.Fprintf(&b, "WorkingDirectory=%s\n", cfg.WorkingDir)
	if cfg.User != "" {
		fmt.Fprintf(&b, "User=%s\n", cfg.User)
	}
	if cfg.Group != "" {
		fmt.Fprintf(&b, "Group=%s\n", cfg.Group)
	}
	if cfg.Role == RoleAgent {
		b.WriteString("AmbientCapabilities=CAP_NET_ADMIN\n")
		b.WriteString("CapabilityBoundingSet=CAP_NET_ADMIN\n")
		b.WriteString("DeviceAllow=/dev/net/tun rw\n")
	}
	b.WriteString("Restart=on-failure\nRestartSec=5\nTimeoutStopSec=30\n")
	b.WriteString("NoNewPrivileges=true\nProtectSystem=strict\nProtectHome=read-only\nPrivateTmp=true\n")
	fmt.Fprintf(&b, "ReadWritePaths=%s\n", cfg.WorkingDir)
	b.WriteString("StandardOutput=journal\nStandardError=journal\n")
	fmt.Fprintf(&b, "SyslogIdentifier=%s\n\n", cfg.Name)

	b.WriteString("[Install]\nWantedBy=multi-user.target\n")
	return b.String()
}

package wizard

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/udptun/internal/config"
)

func TestNew(t *testing.T) {
	w := New()
	if w == nil {
		t.Fatal("New() returned nil")
	}
	if w.theme == nil {
		t.Error("theme should not be nil")
	}
}

func TestParsePortList(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"*", []string{"*"}, false},
		{"53", []string{"53"}, false},
		{"53, 123 ,27015", []string{"53", "123", "27015"}, false},
		{"53,,123", []string{"53", "123"}, false},
		{"", nil, true},
		{" , ", nil, true},
		{"0", nil, true},
		{"65536", nil, true},
		{"dns", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePortList(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePortList(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParsePortList(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"0", 0, false},
		{"30s", 30 * time.Second, false},
		{" 5m ", 5 * time.Minute, false},
		{"-1s", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDuration(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(string) error
		in      string
		wantErr bool
	}{
		{"config yaml", validateConfigPath, "./udptun.yaml", false},
		{"config yml", validateConfigPath, "/etc/udptun.yml", false},
		{"config empty", validateConfigPath, "", true},
		{"config json", validateConfigPath, "udptun.json", true},
		{"remote ok", validateRemoteAddress, "relay.example.com:5000", false},
		{"remote ipv6", validateRemoteAddress, "[2001:db8::1]:5000", false},
		{"remote no host", validateRemoteAddress, ":5000", true},
		{"remote zero port", validateRemoteAddress, "relay:0", true},
		{"remote no port", validateRemoteAddress, "relay", true},
		{"bind any", validateBindAddress, "0.0.0.0:0", false},
		{"bind bad", validateBindAddress, "localhost", true},
		{"mtu ok", validateIntRange(576, 65535), "1500", false},
		{"mtu low", validateIntRange(576, 65535), "100", true},
		{"mtu text", validateIntRange(576, 65535), "big", true},
		{"rate zero", validateRate, "0", false},
		{"rate frac", validateRate, "2.5", false},
		{"rate negative", validateRate, "-1", true},
		{"duration", validateDuration, "1m", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("validator(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestBuildConfigAgent(t *testing.T) {
	a := DefaultAnswers()
	a.RelayAddress = "relay.example.com:5000"
	a.TUNName = "udptun0"
	a.MTU = "1400"
	a.TranslationTTL = "2m"
	a.LogLevel = "debug"
	a.HealthEnabled = true

	cfg, err := BuildConfig(a)
	if err != nil {
		t.Fatalf("BuildConfig failed: %v", err)
	}

	if cfg.Agent.RelayAddress != "relay.example.com:5000" {
		t.Errorf("RelayAddress = %q", cfg.Agent.RelayAddress)
	}
	if cfg.Agent.BindAddress != "0.0.0.0:0" {
		t.Errorf("BindAddress = %q", cfg.Agent.BindAddress)
	}
	if cfg.Agent.Capture.TUNName != "udptun0" || cfg.Agent.Capture.MTU != 1400 {
		t.Errorf("Capture = %+v", cfg.Agent.Capture)
	}
	if cfg.Agent.TranslationTTL != 2*time.Minute {
		t.Errorf("TranslationTTL = %v, want 2m", cfg.Agent.TranslationTTL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if !cfg.Health.Enabled {
		t.Error("Health should be enabled")
	}
}

func TestBuildConfigAgentRequiresRelay(t *testing.T) {
	a := DefaultAnswers()
	if _, err := BuildConfig(a); err == nil {
		t.Fatal("expected error without relay address")
	}
}

func TestBuildConfigRelay(t *testing.T) {
	a := DefaultAnswers()
	a.Role = RoleRelay
	a.ListenAddress = "0.0.0.0:6000"
	a.AllowedPorts = "53,27015"
	a.MaxSessions = "10"
	a.SessionIdleTimeout = "90s"
	a.PacketsPerSecond = "500"
	a.SupervisorEnabled = true

	cfg, err := BuildConfig(a)
	if err != nil {
		t.Fatalf("BuildConfig failed: %v", err)
	}

	if cfg.Relay.ListenAddress != "0.0.0.0:6000" {
		t.Errorf("ListenAddress = %q", cfg.Relay.ListenAddress)
	}
	if !reflect.DeepEqual(cfg.Relay.AllowedPorts, []string{"53", "27015"}) {
		t.Errorf("AllowedPorts = %v", cfg.Relay.AllowedPorts)
	}
	if cfg.Relay.MaxSessions != 10 {
		t.Errorf("MaxSessions = %d", cfg.Relay.MaxSessions)
	}
	if cfg.Relay.SessionIdleTimeout != 90*time.Second {
		t.Errorf("SessionIdleTimeout = %v", cfg.Relay.SessionIdleTimeout)
	}
	if cfg.Relay.RateLimit.PacketsPerSecond != 500 {
		t.Errorf("PacketsPerSecond = %v", cfg.Relay.RateLimit.PacketsPerSecond)
	}
	if !cfg.Supervisor.Enabled {
		t.Error("Supervisor should be enabled")
	}
}

func TestBuildConfigUnknownRole(t *testing.T) {
	a := DefaultAnswers()
	a.Role = "exit"
	if _, err := BuildConfig(a); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestWriteConfigRoundTrip(t *testing.T) {
	a := DefaultAnswers()
	a.Role = RoleRelay
	a.AllowedPorts = "53"
	cfg, err := BuildConfig(a)
	if err != nil {
		t.Fatalf("BuildConfig failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "nested", "dir", "udptun.yaml")
	if err := WriteConfig(cfg, path); err != nil {
		t.Fatalf("WriteConfig failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# udptun configuration") {
		t.Error("config file missing header comment")
	}

	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded.Relay.AllowedPorts, []string{"53"}) {
		t.Errorf("AllowedPorts = %v", loaded.Relay.AllowedPorts)
	}
	if loaded.Socket.BufferSize != cfg.Socket.BufferSize {
		t.Errorf("BufferSize = %v, want %v", loaded.Socket.BufferSize, cfg.Socket.BufferSize)
	}
	if err := loaded.ValidateRelay(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

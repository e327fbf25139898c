package sysinfo

import (
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestVersion(t *testing.T) {
	if Version == "dev" {
		t.Error("Version should not be plain 'dev' - enhanceDevVersion should have been called")
	}
	if !strings.HasPrefix(Version, "dev-") && !strings.HasPrefix(Version, "v") {
		t.Errorf("Version %q has unexpected format", Version)
	}
}

func TestEnhanceDevVersion(t *testing.T) {
	version := enhanceDevVersion()
	suffix, ok := strings.CutPrefix(version, "dev-")
	if !ok || suffix == "" {
		t.Errorf("enhanceDevVersion() = %q, want dev-<suffix>", version)
	}
}

func TestCollect(t *testing.T) {
	info := Collect()

	if info.OS != runtime.GOOS || info.Arch != runtime.GOARCH {
		t.Errorf("OS/Arch = %s/%s", info.OS, info.Arch)
	}
	if info.Version != Version {
		t.Errorf("Version = %q, want %q", info.Version, Version)
	}
	if info.GoVersion == "" {
		t.Error("GoVersion should be set")
	}
	if info.Goroutines < 1 {
		t.Errorf("Goroutines = %d", info.Goroutines)
	}
	if !info.StartTime.Equal(StartTime()) {
		t.Errorf("StartTime = %v, want %v", info.StartTime, StartTime())
	}
}

func TestUptime(t *testing.T) {
	if Uptime() <= 0 {
		t.Error("Uptime should be positive")
	}
	if StartTime().After(time.Now()) {
		t.Error("StartTime is in the future")
	}
}

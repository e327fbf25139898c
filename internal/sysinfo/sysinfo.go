// Package sysinfo reports process and host information for status output.
package sysinfo

import (
	"os"
	"runtime"
	"runtime/debug"
	"time"
)

var (
	// Version is the udptun version, set at build time via ldflags.
	// Example: go build -ldflags="-X github.com/postalsys/udptun/internal/sysinfo.Version=1.0.0"
	Version = "dev"

	startTime = time.Now()
)

func init() {
	if Version == "dev" {
		Version = enhanceDevVersion()
	}
}

// enhanceDevVersion appends the VCS revision recorded by the Go toolchain,
// or the start time when the binary carries none.
func enhanceDevVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		var rev string
		var dirty bool
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				rev = s.Value
			case "vcs.modified":
				dirty = s.Value == "true"
			}
		}
		if len(rev) > 7 {
			rev = rev[:7]
		}
		if rev != "" {
			if dirty {
				return "dev-" + rev + "-dirty"
			}
			return "dev-" + rev
		}
	}
	return "dev-" + startTime.UTC().Format("20060102-150405")
}

// Info describes the running process.
type Info struct {
	Hostname   string    `json:"hostname"`
	OS         string    `json:"os"`
	Arch       string    `json:"arch"`
	Version    string    `json:"version"`
	GoVersion  string    `json:"go_version"`
	StartTime  time.Time `json:"start_time"`
	Goroutines int       `json:"goroutines"`
}

// Collect gathers local process information.
func Collect() Info {
	hostname, _ := os.Hostname()

	return Info{
		Hostname:   hostname,
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		Version:    Version,
		GoVersion:  runtime.Version(),
		StartTime:  startTime,
		Goroutines: runtime.NumGoroutine(),
	}
}

// StartTime returns the process start time.
func StartTime() time.Time {
	return startTime
}

// Uptime returns the process uptime.
func Uptime() time.Duration {
	return time.Since(startTime)
}

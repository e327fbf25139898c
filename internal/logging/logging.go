// Package logging provides structured logging for the udptun agent and relay.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Log formats accepted by NewLogger.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewLogger creates a logger writing to stderr.
// Unknown levels fall back to info and unknown formats to text.
func NewLogger(level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	if strings.EqualFold(format, FormatJSON) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel parses debug, info, warn (or warning) and error, case-insensitively.
func ParseLevel(level string) (slog.Level, error) {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn, nil
	}
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	var lvl slog.Level
	err := lvl.UnmarshalText([]byte(level))
	return lvl, err
}

// IsValidFormat reports whether format names a supported handler.
func IsValidFormat(format string) bool {
	return strings.EqualFold(format, FormatText) || strings.EqualFold(format, FormatJSON)
}

func parseLevel(level string) slog.Level {
	lvl, err := ParseLevel(level)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// WithComponent returns a child logger tagged with the component name.
// A nil logger yields a discarding logger so components can be built without one.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NopLogger()
	}
	return logger.With(slog.String(KeyComponent, component))
}

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys for consistent logging.
const (
	KeyComponent   = "component"
	KeyError       = "error"
	KeyClient      = "client"
	KeyDestination = "destination"
	KeySource      = "source"
	KeyRelay       = "relay"
	KeyLocalAddr   = "local_addr"
	KeyRemoteAddr  = "remote_addr"
	KeyReason      = "reason"
	KeyBytes       = "bytes"
	KeyCount       = "count"
	KeyDuration    = "duration"
	KeyAttempt     = "attempt"
)

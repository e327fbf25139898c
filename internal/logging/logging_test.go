package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerFormats(t *testing.T) {
	tests := []struct {
		format string
		want   []string
	}{
		{"text", []string{"msg=\"frame dropped\"", "reason=decode"}},
		{"TEXT", []string{"reason=decode"}},
		{"json", []string{`"msg":"frame dropped"`, `"reason":"decode"`}},
		{"xml", []string{"reason=decode"}}, // falls back to text
	}

	for _, tc := range tests {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			NewLoggerWithWriter("info", tc.format, &buf).Info("frame dropped", KeyReason, "decode")

			for _, want := range tc.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output missing %q: %s", want, buf.String())
				}
			}
		})
	}
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	levels := []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}

	for _, configured := range []string{"debug", "info", "warn", "error"} {
		threshold, _ := ParseLevel(configured)
		for _, lvl := range levels {
			var buf bytes.Buffer
			NewLoggerWithWriter(configured, "text", &buf).Log(context.Background(), lvl, "session closed")

			if got, want := buf.Len() > 0, lvl >= threshold; got != want {
				t.Errorf("level %s with %q configured: logged = %v, want %v", lvl, configured, got, want)
			}
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // Default
		{"", slog.LevelInfo},        // Default
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			result := parseLevel(tc.input)
			if result != tc.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tc.input, result, tc.expected)
			}
		})
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	if logger == nil {
		t.Fatal("NopLogger returned nil")
	}

	// Should not panic
	logger.Info("this should be discarded")
	logger.Error("this too")
}

func TestNewLogger_DefaultsToStderr(t *testing.T) {
	// Just verify it doesn't panic
	logger := NewLogger("info", "text")
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

func TestLoggerWithAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", "text", &buf)

	logger.Info("session created",
		KeyClient, "203.0.113.9:40000",
		KeyLocalAddr, "0.0.0.0:61000",
	)

	output := buf.String()
	if !strings.Contains(output, "client=203.0.113.9:40000") {
		t.Errorf("expected client attribute, got: %s", output)
	}
	if !strings.Contains(output, "local_addr=0.0.0.0:61000") {
		t.Errorf("expected local_addr attribute, got: %s", output)
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(NewLoggerWithWriter("info", "text", &buf), "relay")

	logger.Info("listening")

	if !strings.Contains(buf.String(), "component=relay") {
		t.Errorf("expected component attribute, got: %s", buf.String())
	}

	// nil logger must not panic
	WithComponent(nil, "agent").Info("discarded")
}

func TestParseLevelRejectsUnknown(t *testing.T) {
	for _, level := range []string{"trace", "", "debug+4"} {
		if _, err := ParseLevel(level); err == nil {
			t.Errorf("ParseLevel(%q) succeeded, want error", level)
		}
	}
	if lvl, err := ParseLevel("Warning"); err != nil || lvl != slog.LevelWarn {
		t.Errorf("ParseLevel(Warning) = %v, %v", lvl, err)
	}
}

func TestIsValidFormat(t *testing.T) {
	tests := map[string]bool{"text": true, "JSON": true, "xml": false, "": false}
	for format, want := range tests {
		if got := IsValidFormat(format); got != want {
			t.Errorf("IsValidFormat(%q) = %v, want %v", format, got, want)
		}
	}
}

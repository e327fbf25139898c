package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/udptun/internal/health"
	"github.com/postalsys/udptun/internal/relay"
)

type staticProvider struct {
	running bool
	stats   any
}

func (p staticProvider) IsRunning() bool  { return p.running }
func (p staticProvider) HealthStats() any { return p.stats }

func TestStatusRelay(t *testing.T) {
	now := time.Now()
	provider := staticProvider{running: true, stats: relay.Stats{
		ListenAddr:     "0.0.0.0:5000",
		ActiveSessions: 1,
		Sessions: []relay.SessionStats{{
			Client:       "198.51.100.7:40000",
			LocalAddr:    "0.0.0.0:61000",
			CreatedAt:    now.Add(-time.Minute),
			LastActivity: now,
			Forwarded:    12345,
			Returned:     7,
		}},
	}}

	cfg := health.DefaultServerConfig()
	cfg.Role = "relay"
	srv := httptest.NewServer(health.NewServer(cfg, provider).Handler())
	defer srv.Close()

	st, err := fetchStatus(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("fetchStatus: %v", err)
	}
	if st.Role != "relay" || !st.Running {
		t.Fatalf("got role=%q running=%v", st.Role, st.Running)
	}

	var out bytes.Buffer
	if err := printStatus(&out, st); err != nil {
		t.Fatalf("printStatus: %v", err)
	}
	for _, want := range []string{"Status:  healthy", "Listen:  0.0.0.0:5000", "198.51.100.7:40000", "12,345"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestStatusAgentUnavailable(t *testing.T) {
	cfg := health.DefaultServerConfig()
	cfg.Role = "agent"
	srv := httptest.NewServer(health.NewServer(cfg, staticProvider{running: false, stats: map[string]any{
		"running":             false,
		"relay":               "relay.example.com:5000",
		"translation_entries": 1500,
	}}).Handler())
	defer srv.Close()

	st, err := fetchStatus(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("fetchStatus: %v", err)
	}

	var out bytes.Buffer
	if err := printStatus(&out, st); err != nil {
		t.Fatalf("printStatus: %v", err)
	}
	for _, want := range []string{"Status:  unavailable", "Relay:   relay.example.com:5000", "Translations: 1,500"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestStatusUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := fetchStatus(ctx, "127.0.0.1:1"); err == nil {
		t.Fatal("expected error for unreachable endpoint")
	}
}

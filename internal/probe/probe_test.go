package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/udptun/internal/logging"
	"github.com/postalsys/udptun/internal/protocol"
	"github.com/postalsys/udptun/internal/relay"
)

func startEcho(t *testing.T, prefix string, events chan EchoEvent) net.Addr {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		Listen(ctx, ListenOptions{Address: "127.0.0.1:0", Prefix: []byte(prefix)}, events, ready)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case addr := <-ready:
		return addr
	case <-time.After(2 * time.Second):
		t.Fatal("echo listener did not start")
	}
	return nil
}

func startRelay(t *testing.T) string {
	t.Helper()
	cfg := relay.DefaultConfig()
	cfg.SessionBindAddress = "127.0.0.1:0"
	mgr := relay.NewManager(cfg, logging.NopLogger(), nil)

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		mgr.Serve(ctx, conn)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		mgr.Close()
	})
	return conn.LocalAddr().String()
}

func TestProbeThroughRelay(t *testing.T) {
	events := make(chan EchoEvent, 1)
	target := startEcho(t, "pong:", events)
	relayAddr := startRelay(t)

	res := Probe(context.Background(), Options{
		Relay:   relayAddr,
		Target:  target.String(),
		Payload: []byte("ping"),
		Timeout: 2 * time.Second,
	})
	if !res.Success {
		t.Fatalf("probe failed: %v (%s)", res.Error, res.ErrorDetail)
	}
	if res.ReplySource != target.String() {
		t.Errorf("ReplySource = %q, want %q", res.ReplySource, target.String())
	}
	if res.ReplyBytes != len("pong:ping") {
		t.Errorf("ReplyBytes = %d, want %d", res.ReplyBytes, len("pong:ping"))
	}
	if res.RTT <= 0 {
		t.Errorf("RTT = %v", res.RTT)
	}

	select {
	case ev := <-events:
		if ev.Bytes != 4 || ev.Error != "" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("no echo event")
	}
}

func TestProbeTimeout(t *testing.T) {
	// A socket that never answers.
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer silent.Close()

	res := Probe(context.Background(), Options{
		Relay:   silent.LocalAddr().String(),
		Target:  "127.0.0.1:9",
		Timeout: 100 * time.Millisecond,
	})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Error, context.DeadlineExceeded) {
		t.Errorf("Error = %v, want deadline exceeded", res.Error)
	}
	if !strings.HasPrefix(res.ErrorDetail, "No reply") {
		t.Errorf("ErrorDetail = %q", res.ErrorDetail)
	}
}

func TestProbeInvalidReply(t *testing.T) {
	// Echoing a frame back to the prober with a 0xff length byte and nothing
	// else makes it undecodable.
	bogus := startEcho(t, "\xff", nil)

	res := Probe(context.Background(), Options{
		Relay:   bogus.String(),
		Target:  "127.0.0.1:9",
		Payload: nil,
		Timeout: time.Second,
	})
	if res.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(res.Error, protocol.ErrDecode) {
		t.Errorf("Error = %v, want decode error", res.Error)
	}
}

func TestProbeInvalidTarget(t *testing.T) {
	for _, target := range []string{"no-port", "host:0", "host:70000"} {
		res := Probe(context.Background(), Options{Relay: "127.0.0.1:1", Target: target})
		if res.Success || res.Error == nil {
			t.Errorf("target %q: expected error", target)
			continue
		}
		if !strings.HasPrefix(res.ErrorDetail, "Invalid target") {
			t.Errorf("target %q: ErrorDetail = %q", target, res.ErrorDetail)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}, "Could not resolve"},
		{errors.New("read udp: connection refused"), "Connection refused"},
		{context.DeadlineExceeded, "No reply"},
		{fmt.Errorf("%w: %w", protocol.ErrDecode, protocol.ErrTruncated), "Received an invalid frame"},
		{errors.New("something else"), "something else"},
	}

	for _, tt := range tests {
		got := classifyError(tt.err)
		if !strings.HasPrefix(got, tt.want) {
			t.Errorf("classifyError(%v) = %q, want prefix %q", tt.err, got, tt.want)
		}
	}
}

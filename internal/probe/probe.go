// Package probe tests a relay end to end by sending one tunnel frame and
// waiting for the destination's reply.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/postalsys/udptun/internal/protocol"
)

// Options contains configuration for a relay probe.
type Options struct {
	// Relay is the relay's tunnel address (host:port).
	Relay string

	// Target is the destination the relay forwards to (host:port).
	// Hostnames are resolved by the relay.
	Target string

	// Payload is sent to Target. Defaults to "udptun-probe".
	Payload []byte

	// Timeout for the entire probe operation
	Timeout time.Duration
}

// Result contains the outcome of a relay probe.
type Result struct {
	// Success indicates whether a reply came back through the relay
	Success bool

	Relay  string
	Target string

	// ReplySource is the origin the relay reported for the reply.
	ReplySource string

	// ReplyBytes is the reply payload length.
	ReplyBytes int

	// RTT is the round-trip time through relay and target
	RTT time.Duration

	// Error is the error that occurred (if any)
	Error error

	// ErrorDetail is a human-readable description of the error
	ErrorDetail string
}

// Probe sends one frame addressed to opts.Target to the relay and waits for
// a reply frame.
func Probe(ctx context.Context, opts Options) *Result {
	result := &Result{
		Relay:  opts.Relay,
		Target: opts.Target,
	}
	fail := func(err error) *Result {
		result.Error = err
		result.ErrorDetail = classifyError(err)
		return result
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if len(opts.Payload) == 0 {
		opts.Payload = []byte("udptun-probe")
	}

	host, port, err := splitTarget(opts.Target)
	if err != nil {
		return fail(err)
	}
	frame, err := protocol.Encode(host, port, opts.Payload)
	if err != nil {
		return fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", opts.Relay)
	if err != nil {
		return fail(err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	startTime := time.Now()
	if _, err := conn.Write(frame); err != nil {
		return fail(err)
	}

	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return fail(err)
	}

	reply, err := protocol.Decode(buf[:n])
	if err != nil {
		return fail(err)
	}

	result.Success = true
	result.RTT = time.Since(startTime)
	result.ReplySource = net.JoinHostPort(reply.Address, strconv.Itoa(int(reply.Port)))
	result.ReplyBytes = len(reply.Payload)
	return result
}

func splitTarget(target string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("invalid target %q: %w", target, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("invalid target port %q", portStr)
	}
	return host, uint16(port), nil
}

// classifyError returns a human-readable description for common errors.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return "Could not resolve relay hostname - DNS lookup failed"
		}
		return "DNS error: " + dnsErr.Error()
	}

	// ICMP port unreachable surfaces as a refused read on a connected socket.
	if strings.Contains(errStr, "connection refused") {
		return "Connection refused - relay not running or port blocked"
	}
	if strings.Contains(errStr, "network is unreachable") || strings.Contains(errStr, "no route to host") {
		return "Network unreachable"
	}

	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(errStr, "timeout") {
		return "No reply - relay unreachable, destination port denied, or target silent"
	}

	if errors.Is(err, protocol.ErrDecode) {
		return "Received an invalid frame - not a udptun relay?"
	}
	if errors.Is(err, protocol.ErrEncode) || strings.Contains(errStr, "invalid target") {
		return "Invalid target - " + errStr
	}

	return errStr
}

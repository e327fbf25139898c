// Package agent implements the local side of the UDP tunnel.
//
// Outbound datagrams read from a capture.Source are recorded in the
// translation table and sent to the relay inside tunnel frames. Frames coming
// back from the relay carry the replying destination; the table tells which
// local sender to reinject the payload to.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/udptun/internal/capture"
	"github.com/postalsys/udptun/internal/logging"
	"github.com/postalsys/udptun/internal/metrics"
	"github.com/postalsys/udptun/internal/nat"
	"github.com/postalsys/udptun/internal/protocol"
	"github.com/postalsys/udptun/internal/recovery"
	"github.com/postalsys/udptun/internal/sockopt"
)

var (
	// ErrNotRunning is returned by HandleOutbound before Serve starts.
	ErrNotRunning = errors.New("agent not running")

	// ErrAlreadyRunning is returned when Serve is called twice concurrently.
	ErrAlreadyRunning = errors.New("agent already running")
)

// Agent forwards intercepted UDP traffic through the relay.
type Agent struct {
	cfg     Config
	src     capture.Source
	inj     capture.Injector
	table   *nat.Table
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Tunnel link, set while serving
	mu        sync.RWMutex
	conn      net.PacketConn
	relay     netip.AddrPort
	relayAddr *net.UDPAddr

	running      atomic.Bool
	warnedSource atomic.Bool
}

// New creates an agent. m may be nil.
func New(cfg Config, src capture.Source, inj capture.Injector, logger *slog.Logger, m *metrics.Metrics) *Agent {
	return &Agent{
		cfg:     cfg.withDefaults(),
		src:     src,
		inj:     inj,
		table:   nat.NewTable(),
		logger:  logging.WithComponent(logger, "agent"),
		metrics: m,
	}
}

// Table returns the translation table.
func (a *Agent) Table() *nat.Table {
	return a.table
}

// IsRunning returns true while Serve is running.
func (a *Agent) IsRunning() bool {
	return a.running.Load()
}

// Run binds the tunnel-link socket and serves until ctx is done or a loop
// fails.
func (a *Agent) Run(ctx context.Context) error {
	opts := sockopt.Options{
		ReceiveBuffer: a.cfg.ReceiveBuffer,
		SendBuffer:    a.cfg.SendBuffer,
	}
	conn, err := sockopt.ListenPacket(ctx, a.cfg.BindAddress, opts, a.logger)
	if err != nil {
		return &protocol.SocketError{Op: "listen", Addr: a.cfg.BindAddress, Err: err}
	}
	return a.Serve(ctx, conn)
}

// Serve runs the outbound pump and the inbound receive loop on conn and takes
// ownership of it.
//
// It returns nil when ctx is cancelled, or the first loop-fatal error: a
// receive error on conn (*protocol.SocketError) or a capture source error.
// The translation table is kept across calls.
func (a *Agent) Serve(ctx context.Context, conn net.PacketConn) error {
	defer conn.Close()

	relay, err := resolveRelay(ctx, a.cfg.RelayAddress)
	if err != nil {
		return err
	}

	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer a.running.Store(false)

	a.mu.Lock()
	a.conn = conn
	a.relay = relay
	a.relayAddr = net.UDPAddrFromAddrPort(relay)
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	a.logger.Info("Agent started",
		logging.KeyRelay, relay,
		logging.KeyLocalAddr, conn.LocalAddr().String())

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	run := func(name string, fn func(context.Context) error) {
		recovery.Go(&wg, a.logger, name, func() {
			if err := fn(ctx); err != nil {
				errCh <- err
			}
			cancel()
		})
	}

	run("agent.inbound", func(ctx context.Context) error { return a.inboundLoop(ctx, conn) })
	run("agent.outbound", a.outboundLoop)
	if a.cfg.TranslationTTL > 0 {
		run("agent.sweeper", a.sweepLoop)
	}

	<-ctx.Done()
	wg.Wait()

	select {
	case err := <-errCh:
		a.logger.Error("Agent stopped", logging.KeyError, err)
		return err
	default:
	}
	a.logger.Info("Agent stopped")
	return nil
}

// HandleOutbound processes one intercepted datagram.
//
// UDP datagrams are recorded in the translation table and sent to the relay.
// Other protocols are handed to the injector's Passthrough unchanged.
func (a *Agent) HandleOutbound(d capture.Datagram) error {
	if !d.IsUDP() {
		if err := a.inj.Passthrough(d); err != nil {
			a.metrics.RecordDrop(metrics.DropNotUDP)
			return fmt.Errorf("passthrough %s: %w", d.Protocol, err)
		}
		return nil
	}

	a.mu.RLock()
	conn, relay, relayAddr := a.conn, a.relay, a.relayAddr
	a.mu.RUnlock()
	if conn == nil {
		return ErrNotRunning
	}

	key := nat.KeyFromAddrPort(d.Dst)
	if a.table.Upsert(key, d.Src) {
		a.metrics.SetTranslationEntries(a.table.Len())
		a.logger.Debug("Translation entry created",
			logging.KeyDestination, key.String(),
			logging.KeySource, d.Src)
	}

	frame := protocol.Frame{Address: key.Address, Port: key.Port, Payload: d.Payload}
	buf, err := frame.Encode()
	if err != nil {
		a.metrics.RecordDrop(metrics.DropEncode)
		return err
	}

	if _, err := conn.WriteTo(buf, relayAddr); err != nil {
		a.metrics.RecordDrop(metrics.DropSendError)
		return &protocol.SocketError{Op: "send", Addr: relay.String(), Err: err}
	}
	a.metrics.RecordSent(metrics.DirectionOutbound, len(d.Payload))
	return nil
}

// outboundLoop pumps the capture source. Only a source error ends it.
func (a *Agent) outboundLoop(ctx context.Context) error {
	for {
		d, err := a.src.ReadDatagram(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("capture source: %w", err)
		}

		if err := a.HandleOutbound(d); err != nil {
			a.logger.Debug("Outbound datagram dropped",
				"datagram", d.String(), logging.KeyError, err)
		}
	}
}

// inboundLoop receives frames from the relay until conn fails.
//
// The buffer holds a BufferSize payload plus the largest frame header. A read
// that fills it may have been cut short by the kernel and is dropped.
func (a *Agent) inboundLoop(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, a.cfg.BufferSize+protocol.Overhead(protocol.MaxAddressLen))
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &protocol.SocketError{Op: "receive", Addr: conn.LocalAddr().String(), Err: err}
		}
		if n == len(buf) {
			a.logger.Debug("Dropping oversized frame", logging.KeyRemoteAddr, from, logging.KeyBytes, n)
			a.metrics.RecordDrop(metrics.DropOversize)
			continue
		}
		a.handleInbound(from, buf[:n])
	}
}

// handleInbound reinjects one frame received on the tunnel link. Every
// failure drops only this frame.
func (a *Agent) handleInbound(from net.Addr, buf []byte) {
	a.mu.RLock()
	relay := a.relay
	a.mu.RUnlock()

	if !a.cfg.AcceptAnySource {
		sender, ok := from.(*net.UDPAddr)
		if !ok || canonical(sender.AddrPort()) != relay {
			a.dropUnknownSource(from, relay)
			return
		}
	}

	frame, err := protocol.Decode(buf)
	if err != nil {
		a.logger.Debug("Dropping undecodable frame", logging.KeyError, err)
		a.metrics.RecordDrop(metrics.DropDecode)
		return
	}

	key := nat.KeyFor(frame.Address, frame.Port)
	original, err := a.table.Lookup(key)
	if err != nil {
		a.metrics.RecordDrop(metrics.DropLookupMiss)
		return
	}

	peer, err := netip.ParseAddr(key.Address)
	if err != nil {
		a.metrics.RecordDrop(metrics.DropInject)
		return
	}

	d := capture.Datagram{
		Src:      netip.AddrPortFrom(peer, frame.Port),
		Dst:      original,
		Protocol: capture.ProtocolUDP,
		Payload:  frame.Payload,
	}
	if err := a.inj.Inject(d); err != nil {
		a.logger.Debug("Inject failed", "datagram", d.String(), logging.KeyError, err)
		a.metrics.RecordDrop(metrics.DropInject)
		return
	}
	a.metrics.RecordReceived(metrics.DirectionInbound, len(frame.Payload))
}

// dropUnknownSource counts a frame from a sender other than the relay. The
// first one is logged at warn level since a relay replying from another
// address makes every frame land here.
func (a *Agent) dropUnknownSource(from net.Addr, relay netip.AddrPort) {
	a.metrics.RecordDrop(metrics.DropUnknownSource)
	if a.warnedSource.CompareAndSwap(false, true) {
		a.logger.Warn("Dropping frames not sent by the relay; set agent.accept_any_source if the relay is multi-homed",
			logging.KeyRemoteAddr, from, logging.KeyRelay, relay)
		return
	}
	a.logger.Debug("Dropping frame from unknown source", logging.KeyRemoteAddr, from)
}

// sweepLoop expires translation entries older than the TTL.
func (a *Agent) sweepLoop(ctx context.Context) error {
	interval := a.cfg.TranslationTTL / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := a.table.Expire(a.cfg.TranslationTTL); n > 0 {
				a.metrics.RecordTranslationExpired(n)
				a.metrics.SetTranslationEntries(a.table.Len())
				a.logger.Debug("Expired translation entries", logging.KeyCount, n)
			}
		}
	}
}

// Stats is a snapshot of the agent state.
type Stats struct {
	Running            bool   `json:"running"`
	Relay              string `json:"relay"`
	LocalAddr          string `json:"local_addr,omitempty"`
	TranslationEntries int    `json:"translation_entries"`
}

// Stats returns a snapshot of the agent state.
func (a *Agent) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := Stats{
		Running:            a.running.Load(),
		Relay:              a.cfg.RelayAddress,
		TranslationEntries: a.table.Len(),
	}
	if a.conn != nil {
		st.LocalAddr = a.conn.LocalAddr().String()
	}
	return st
}

func canonical(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// resolveRelay resolves the relay endpoint, preferring IPv4.
func resolveRelay(ctx context.Context, address string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(address); err == nil {
		return canonical(ap), nil
	}

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("relay address %q: %w", address, err)
	}
	port, err := net.DefaultResolver.LookupPort(ctx, "udp", portStr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("relay port %q: %w", portStr, err)
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve relay %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("resolve relay %q: no addresses", host)
	}
	chosen := addrs[0]
	for _, addr := range addrs {
		if addr.Unmap().Is4() {
			chosen = addr
			break
		}
	}
	return netip.AddrPortFrom(chosen.Unmap(), uint16(port)), nil
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/postalsys/udptun/internal/logging"
	"github.com/postalsys/udptun/internal/metrics"
	"github.com/postalsys/udptun/internal/protocol"
	"github.com/postalsys/udptun/internal/recovery"
	"github.com/postalsys/udptun/internal/sockopt"
)

var (
	// ErrSessionLimit is returned when MaxSessions sessions already exist.
	ErrSessionLimit = errors.New("session limit reached")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("relay manager closed")

	// ErrAlreadyServing is returned when Serve is called twice concurrently.
	ErrAlreadyServing = errors.New("relay already serving")
)

// Manager owns the session table and runs the relay loops.
type Manager struct {
	mu       sync.Mutex
	sessions map[netip.AddrPort]*Session
	conn     net.PacketConn // listening socket while serving
	closed   bool

	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	resolver Resolver

	// resolveSlots bounds hostname lookups in flight.
	resolveSlots chan struct{}

	// listenSession allocates the dedicated socket of a new session.
	listenSession func() (net.PacketConn, error)

	// Cleanup
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a relay manager. m may be nil.
func NewManager(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[netip.AddrPort]*Session),
		config:   cfg,
		logger:   logging.WithComponent(logger, "relay"),
		metrics:  m,
		resolver: net.DefaultResolver,
		ctx:      ctx,
		cancel:   cancel,

		resolveSlots: make(chan struct{}, cfg.MaxPendingResolves),
	}
	mgr.listenSession = func() (net.PacketConn, error) {
		return net.ListenPacket("udp", cfg.SessionBindAddress)
	}

	// Start cleanup goroutine if timeout is configured
	if cfg.SessionIdleTimeout > 0 {
		mgr.wg.Add(1)
		go mgr.cleanupLoop()
	}

	return mgr
}

// SetResolver replaces the resolver used for hostname destinations.
func (m *Manager) SetResolver(r Resolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolver = r
}

// ListenAndServe binds the listening socket and serves until ctx is done or
// the socket fails.
func (m *Manager) ListenAndServe(ctx context.Context) error {
	opts := sockopt.Options{
		ReusePort:     m.config.ReusePort,
		ReceiveBuffer: m.config.ReceiveBuffer,
		SendBuffer:    m.config.SendBuffer,
	}
	conn, err := sockopt.ListenPacket(ctx, m.config.ListenAddress, opts, m.logger)
	if err != nil {
		return &protocol.SocketError{Op: "listen", Addr: m.config.ListenAddress, Err: err}
	}
	return m.Serve(ctx, conn)
}

// Serve runs the main receive loop on conn and takes ownership of it.
//
// It returns nil when ctx is cancelled. A receive error on conn is fatal:
// every session is closed and a *protocol.SocketError is returned.
func (m *Manager) Serve(ctx context.Context, conn net.PacketConn) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return ErrManagerClosed
	}
	if m.conn != nil {
		m.mu.Unlock()
		conn.Close()
		return ErrAlreadyServing
	}
	m.conn = conn
	m.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	local := conn.LocalAddr().String()
	m.logger.Info("Relay listening", logging.KeyLocalAddr, local)

	buf := make([]byte, m.config.BufferSize+protocol.Overhead(protocol.MaxAddressLen))
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			conn.Close()
			m.mu.Lock()
			m.conn = nil
			closed := m.closed
			m.mu.Unlock()

			if ctx.Err() != nil || closed {
				m.closeSessions(metrics.CloseShutdown)
				m.logger.Info("Relay stopped", logging.KeyLocalAddr, local)
				return nil
			}
			m.closeSessions(metrics.CloseReceiveError)
			m.logger.Error("Relay receive failed", logging.KeyLocalAddr, local, logging.KeyError, err)
			return &protocol.SocketError{Op: "receive", Addr: local, Err: err}
		}

		client, ok := addrPortOf(from)
		if !ok {
			continue
		}
		if n == len(buf) {
			m.logger.Debug("Dropping oversized frame", logging.KeyClient, client, logging.KeyBytes, n)
			m.metrics.RecordDrop(metrics.DropOversize)
			continue
		}
		m.handleFrame(conn, client, buf[:n])
	}
}

// handleFrame forwards one tunnel frame from client. Every failure drops
// only this frame. It never blocks: hostname destinations are resolved on a
// separate goroutine.
func (m *Manager) handleFrame(conn net.PacketConn, client netip.AddrPort, buf []byte) {
	frame, err := protocol.Decode(buf)
	if err != nil {
		m.logger.Debug("Dropping undecodable frame", logging.KeyClient, client, logging.KeyError, err)
		m.metrics.RecordDrop(metrics.DropDecode)
		return
	}
	m.metrics.RecordReceived(metrics.DirectionOutbound, len(frame.Payload))

	if !m.config.IsPortAllowed(frame.Port) {
		m.logger.Debug("Dropping frame to disallowed port",
			logging.KeyClient, client, "port", frame.Port)
		m.metrics.RecordDrop(metrics.DropPortDenied)
		return
	}

	sess, err := m.getOrCreateSession(client, conn)
	if err != nil {
		if errors.Is(err, ErrSessionLimit) {
			m.metrics.RecordDrop(metrics.DropSessionLimit)
		} else {
			m.metrics.RecordDrop(metrics.DropSendError)
		}
		m.logger.Warn("Cannot open session", logging.KeyClient, client, logging.KeyError, err)
		return
	}

	if !sess.allow() {
		m.metrics.RecordDrop(metrics.DropRateLimited)
		return
	}

	if addr, err := netip.ParseAddr(frame.Address); err == nil {
		m.forward(sess, frame.Payload, netip.AddrPortFrom(addr.Unmap(), frame.Port))
		return
	}
	m.resolveAndForward(sess, frame.Address, frame.Port, frame.Payload)
}

// forward sends payload to dst from the session socket.
func (m *Manager) forward(s *Session, payload []byte, dst netip.AddrPort) {
	if err := s.send(payload, dst); err != nil {
		m.logger.Debug("Send to destination failed",
			logging.KeyClient, s.Client, logging.KeyDestination, dst, logging.KeyError, err)
		m.metrics.RecordDrop(metrics.DropSendError)
		return
	}
	m.metrics.RecordSent(metrics.DirectionOutbound, len(payload))
}

// resolveAndForward looks up host on its own goroutine and forwards a copy
// of payload. At most MaxPendingResolves lookups run at once, each bounded by
// ResolveTimeout; frames beyond the limit are dropped.
func (m *Manager) resolveAndForward(s *Session, host string, port uint16, payload []byte) {
	select {
	case m.resolveSlots <- struct{}{}:
	default:
		m.logger.Debug("Dropping frame, too many pending lookups",
			logging.KeyClient, s.Client, logging.KeyDestination, host)
		m.metrics.RecordDrop(metrics.DropResolve)
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.resolveSlots
		return
	}
	resolver := m.resolver
	m.wg.Add(1)
	m.mu.Unlock()

	payload = append([]byte(nil), payload...)
	go func() {
		defer m.wg.Done()
		defer func() { <-m.resolveSlots }()
		defer recovery.RecoverWithLog(m.logger, "relay.resolve")

		ctx, cancel := context.WithTimeout(m.ctx, m.config.ResolveTimeout)
		defer cancel()

		dst, err := resolveDestination(ctx, resolver, host, port)
		if err != nil {
			m.logger.Debug("Dropping frame with unresolvable destination",
				logging.KeyClient, s.Client, logging.KeyDestination, host, logging.KeyError, err)
			m.metrics.RecordDrop(metrics.DropResolve)
			return
		}
		m.forward(s, payload, dst)
	}()
}

// getOrCreateSession returns the session of client, creating it if needed.
// The socket is allocated under the table lock so concurrent frames from one
// client can never create two sessions.
func (m *Manager) getOrCreateSession(client netip.AddrPort, reply net.PacketConn) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	if s := m.sessions[client]; s != nil {
		return s, nil
	}
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		return nil, ErrSessionLimit
	}

	pc, err := m.listenSession()
	if err != nil {
		return nil, &protocol.SocketError{Op: "listen", Addr: m.config.SessionBindAddress, Err: err}
	}

	s := newSession(client, pc, reply, m.config.RateLimit)
	m.sessions[client] = s

	m.wg.Add(1)
	go m.readLoop(s)

	m.metrics.RecordSessionOpen()
	m.logger.Info("Session opened",
		logging.KeyClient, client,
		logging.KeyLocalAddr, pc.LocalAddr().String(),
		logging.KeyCount, len(m.sessions))

	return s, nil
}

// readLoop returns replies received on the session socket to the client.
func (m *Manager) readLoop(s *Session) {
	defer m.wg.Done()
	defer recovery.RecoverWithCallback(m.logger, "relay.readLoop", func(any) {
		s.Close(metrics.CloseReceiveError)
		m.finishSession(s, errors.New("panic in reply listener"))
	})

	clientAddr := net.UDPAddrFromAddrPort(s.Client)
	buf := make([]byte, m.config.BufferSize)
	var out []byte

	for {
		n, from, err := s.conn.ReadFrom(buf)
		if err != nil {
			s.Close(metrics.CloseReceiveError)
			m.finishSession(s, err)
			return
		}

		peer, ok := addrPortOf(from)
		if !ok {
			continue
		}
		if n == len(buf) {
			m.logger.Debug("Dropping oversized reply",
				logging.KeyClient, s.Client, logging.KeySource, peer, logging.KeyBytes, n)
			m.metrics.RecordDrop(metrics.DropOversize)
			continue
		}
		s.UpdateActivity()
		m.metrics.RecordReceived(metrics.DirectionInbound, n)

		frame := protocol.Frame{
			Address: peer.Addr().String(),
			Port:    peer.Port(),
			Payload: buf[:n],
		}
		out, err = frame.AppendTo(out[:0])
		if err != nil {
			m.metrics.RecordDrop(metrics.DropEncode)
			continue
		}

		if _, err := s.reply.WriteTo(out, clientAddr); err != nil {
			m.logger.Debug("Return to client failed",
				logging.KeyClient, s.Client, logging.KeySource, peer, logging.KeyError, err)
			m.metrics.RecordDrop(metrics.DropSendError)
			continue
		}
		s.returned.Add(1)
		m.metrics.RecordSent(metrics.DirectionInbound, n)
	}
}

// finishSession removes s from the table if it is still the current session
// of its client and records its end.
func (m *Manager) finishSession(s *Session, cause error) {
	m.removeSession(s)

	reason := s.CloseReason()
	lifetime := time.Since(s.CreatedAt)
	m.metrics.RecordSessionClose(reason, lifetime.Seconds())

	attrs := []any{
		logging.KeyClient, s.Client,
		logging.KeyReason, reason,
		logging.KeyDuration, lifetime.Round(time.Millisecond),
	}
	if reason == metrics.CloseReceiveError {
		attrs = append(attrs, logging.KeyError, cause)
	}
	m.logger.Info("Session closed", attrs...)
}

func (m *Manager) removeSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.Client] == s {
		delete(m.sessions, s.Client)
	}
}

// closeSessions closes every session. Their listeners remove them.
func (m *Manager) closeSessions(reason string) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[netip.AddrPort]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close(reason)
	}
}

// Session returns the current session of client, or nil.
func (m *Manager) Session(client netip.AddrPort) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sessions[client]
}

// IsRunning reports whether the listening socket is being served.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// ActiveCount returns the number of active sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// Stats is a snapshot of the relay state.
type Stats struct {
	ListenAddr     string         `json:"listen_addr,omitempty"`
	ActiveSessions int            `json:"active_sessions"`
	Sessions       []SessionStats `json:"sessions"`
}

// Stats returns a snapshot of all sessions.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{
		ActiveSessions: len(m.sessions),
		Sessions:       make([]SessionStats, 0, len(m.sessions)),
	}
	if m.conn != nil {
		st.ListenAddr = m.conn.LocalAddr().String()
	}
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		st.Sessions = append(st.Sessions, s.Stats())
	}
	return st
}

// Close shuts down the manager and all sessions. A running Serve returns
// once its listening socket is closed.
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.closeSessions(metrics.CloseShutdown)

	// Wait for goroutines
	m.wg.Wait()

	return nil
}

// cleanupLoop periodically removes idle sessions.
func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	interval := m.config.SessionIdleTimeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpired()
		}
	}
}

// cleanupExpired closes sessions that have exceeded the idle timeout.
func (m *Manager) cleanupExpired() int {
	m.mu.Lock()
	var expired []*Session
	for client, s := range m.sessions {
		if s.IsExpired(m.config.SessionIdleTimeout) {
			expired = append(expired, s)
			delete(m.sessions, client)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Close(metrics.CloseIdle)
	}
	if len(expired) > 0 {
		m.logger.Debug("Expired idle sessions", logging.KeyCount, len(expired))
	}
	return len(expired)
}

// String describes the manager for logs.
func (m *Manager) String() string {
	return fmt.Sprintf("relay(%s, %d sessions)", m.config.ListenAddress, m.ActiveCount())
}

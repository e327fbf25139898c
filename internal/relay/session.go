package relay

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Session is the relay-side state for one agent endpoint.
type Session struct {
	// Client is the agent endpoint as observed on the listening socket.
	Client netip.AddrPort

	CreatedAt time.Time

	conn    net.PacketConn // dedicated socket towards destinations
	reply   net.PacketConn // listening socket, shared by all sessions
	limiter *rate.Limiter

	lastActivity atomic.Int64 // unix nanos
	forwarded    atomic.Uint64
	returned     atomic.Uint64

	closeOnce   sync.Once
	closeReason atomic.Value // string
	closed      atomic.Bool
}

func newSession(client netip.AddrPort, conn, reply net.PacketConn, rl RateLimit) *Session {
	now := time.Now()
	s := &Session{
		Client:    client,
		CreatedAt: now,
		conn:      conn,
		reply:     reply,
	}
	if rl.PacketsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(rl.PacketsPerSecond), rl.Burst)
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// LocalAddr returns the address of the session's dedicated socket.
func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// UpdateActivity updates the last activity timestamp.
func (s *Session) UpdateActivity() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last datagram in either direction.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// IsExpired checks if the session has been idle longer than the timeout.
func (s *Session) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return time.Since(s.LastActivity()) > timeout
}

// IsClosed returns true if the session has been closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// allow reports whether the rate limiter admits one more frame.
func (s *Session) allow() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// send forwards payload to dst from the session socket.
func (s *Session) send(payload []byte, dst netip.AddrPort) error {
	if _, err := s.conn.WriteTo(payload, net.UDPAddrFromAddrPort(dst)); err != nil {
		return err
	}
	s.forwarded.Add(1)
	s.UpdateActivity()
	return nil
}

// Close closes the session socket, unblocking its reply listener. The first
// reason given is kept.
func (s *Session) Close(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.closeReason.Store(reason)
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

// CloseReason returns the reason passed to the first Close, or "".
func (s *Session) CloseReason() string {
	r, _ := s.closeReason.Load().(string)
	return r
}

// SessionStats is a snapshot of one session.
type SessionStats struct {
	Client       string    `json:"client"`
	LocalAddr    string    `json:"local_addr"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Forwarded    uint64    `json:"forwarded"`
	Returned     uint64    `json:"returned"`
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Client:       s.Client.String(),
		LocalAddr:    s.LocalAddr().String(),
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity(),
		Forwarded:    s.forwarded.Load(),
		Returned:     s.returned.Load(),
	}
}

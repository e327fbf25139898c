package chaos

import (
	"errors"
	"net"
	"sync"
	"time"
)

// ErrInjected is returned by operations failed on purpose.
var ErrInjected = errors.New("chaos: injected fault")

// PacketConn wraps a net.PacketConn and applies faults chosen by an injector
// to every read and write.
//
// Reads: FaultDrop discards the received datagram and reads again,
// FaultError and FaultDisconnect fail the read (the latter also closes the
// socket). Writes: FaultDrop reports success without sending.
type PacketConn struct {
	net.PacketConn
	injector *FaultInjector

	mu      sync.Mutex
	readErr error
}

// WrapPacketConn wraps pc. A nil injector injects nothing.
func WrapPacketConn(pc net.PacketConn, injector *FaultInjector) *PacketConn {
	return &PacketConn{PacketConn: pc, injector: injector}
}

// FailReads makes the pending and every later ReadFrom return err.
func (c *PacketConn) FailReads(err error) {
	if err == nil {
		err = ErrInjected
	}
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
	c.PacketConn.SetReadDeadline(time.Now())
}

func (c *PacketConn) forcedReadErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readErr
}

// ReadFrom implements net.PacketConn.
func (c *PacketConn) ReadFrom(p []byte) (int, net.Addr, error) {
	for {
		if err := c.forcedReadErr(); err != nil {
			return 0, nil, err
		}

		n, addr, err := c.PacketConn.ReadFrom(p)
		if err != nil {
			if forced := c.forcedReadErr(); forced != nil {
				return 0, nil, forced
			}
			return n, addr, err
		}

		fault, delay := c.injector.Next()
		switch fault {
		case FaultDrop:
			continue
		case FaultDelay:
			time.Sleep(delay)
		case FaultError:
			return 0, nil, ErrInjected
		case FaultDisconnect:
			c.PacketConn.Close()
			return 0, nil, ErrInjected
		}
		return n, addr, nil
	}
}

// WriteTo implements net.PacketConn.
func (c *PacketConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	fault, delay := c.injector.Next()
	switch fault {
	case FaultDrop:
		return len(p), nil
	case FaultDelay:
		time.Sleep(delay)
	case FaultError:
		return 0, ErrInjected
	case FaultDisconnect:
		c.PacketConn.Close()
		return 0, ErrInjected
	}
	return c.PacketConn.WriteTo(p, addr)
}

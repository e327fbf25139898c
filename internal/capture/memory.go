package capture

import (
	"context"
	"sync"
)

// Memory is an in-process Source and Injector backed by channels.
//
// Outbound traffic is queued with Push; injected and passed-through datagrams
// are delivered on the Injected and Passed channels.
type Memory struct {
	outbound chan Datagram
	injected chan Datagram
	passed   chan Datagram

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemory creates a Memory with the given channel capacity.
func NewMemory(capacity int) *Memory {
	return &Memory{
		outbound: make(chan Datagram, capacity),
		injected: make(chan Datagram, capacity),
		passed:   make(chan Datagram, capacity),
		closed:   make(chan struct{}),
	}
}

// Push queues an outbound datagram for ReadDatagram.
func (m *Memory) Push(ctx context.Context, d Datagram) error {
	select {
	case m.outbound <- d:
		return nil
	case <-m.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadDatagram implements Source.
func (m *Memory) ReadDatagram(ctx context.Context) (Datagram, error) {
	select {
	case d := <-m.outbound:
		return d, nil
	case <-m.closed:
		return Datagram{}, ErrClosed
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

// Inject implements Injector. It never blocks; datagrams are dropped when the
// channel is full, like a saturated socket buffer.
func (m *Memory) Inject(d Datagram) error {
	return m.deliver(m.injected, d)
}

// Passthrough implements Injector.
func (m *Memory) Passthrough(d Datagram) error {
	return m.deliver(m.passed, d)
}

func (m *Memory) deliver(ch chan Datagram, d Datagram) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	d.Payload = append([]byte(nil), d.Payload...)
	select {
	case ch <- d:
	default:
	}
	return nil
}

// Injected returns the channel of injected datagrams.
func (m *Memory) Injected() <-chan Datagram {
	return m.injected
}

// Passed returns the channel of passed-through datagrams.
func (m *Memory) Passed() <-chan Datagram {
	return m.passed
}

// Close unblocks pending reads. It is safe to call more than once.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
	})
	return nil
}

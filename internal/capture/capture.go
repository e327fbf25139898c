// Package capture defines the packet interception boundary of the agent.
//
// A Source yields datagrams leaving the local host; an Injector delivers
// datagrams to the local network stack as if they had arrived from the network.
// Implementations include an in-memory pair for tests and embedding, and a TUN
// device backed by github.com/songgao/water.
package capture

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
)

// Protocol is the IP protocol number carried by a datagram.
type Protocol uint8

// Protocol numbers the agent distinguishes.
const (
	ProtocolTCP Protocol = 6
	ProtocolUDP Protocol = 17
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto-%d", uint8(p))
	}
}

var (
	// ErrClosed is returned by sources and injectors after Close.
	ErrClosed = errors.New("capture closed")

	// ErrNotUDP is returned when a UDP operation is given another protocol.
	ErrNotUDP = errors.New("not a UDP datagram")

	// ErrPassthroughUnsupported is returned by injectors that cannot hand
	// traffic back to the network.
	ErrPassthroughUnsupported = errors.New("passthrough not supported")
)

// Datagram is one intercepted or to-be-injected packet.
type Datagram struct {
	Src      netip.AddrPort
	Dst      netip.AddrPort
	Protocol Protocol
	Payload  []byte

	// Raw holds the complete IP packet when the datagram was decoded from one.
	Raw []byte
}

// IsUDP reports whether the datagram carries UDP.
func (d Datagram) IsUDP() bool {
	return d.Protocol == ProtocolUDP
}

// String returns a short description for logs.
func (d Datagram) String() string {
	return fmt.Sprintf("%s %s -> %s (%d bytes)", d.Protocol, d.Src, d.Dst, len(d.Payload))
}

// Source yields outbound datagrams intercepted on the local host.
type Source interface {
	// ReadDatagram blocks until a datagram is available, ctx is done or the
	// source fails.
	ReadDatagram(ctx context.Context) (Datagram, error)
}

// Injector delivers datagrams on the local host.
type Injector interface {
	// Inject delivers d to the local network stack as if received from d.Src.
	// d.Payload must not be retained after Inject returns.
	Inject(d Datagram) error

	// Passthrough returns a non-UDP datagram to the network unchanged.
	Passthrough(d Datagram) error
}

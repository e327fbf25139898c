package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// errNoAddress is returned when a hostname resolves to nothing.
var errNoAddress = errors.New("no addresses")

// Resolver looks up hostnames carried in tunnel frames.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// resolveDestination turns the address text of a frame into a socket address.
// IP literals are parsed directly; anything else goes through r.
func resolveDestination(ctx context.Context, r Resolver, host string, port uint16) (netip.AddrPort, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), port), nil
	}
	if host == "" {
		return netip.AddrPort{}, fmt.Errorf("empty destination address")
	}
	if r == nil {
		r = net.DefaultResolver
	}

	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", host, errNoAddress)
	}

	// Prefer IPv4 like the session sockets' default bind.
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return netip.AddrPortFrom(a.Unmap(), port), nil
		}
	}
	return netip.AddrPortFrom(addrs[0], port), nil
}

// addrPortOf extracts a canonical netip.AddrPort from a socket address.
func addrPortOf(addr net.Addr) (netip.AddrPort, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap := a.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), ap.IsValid()
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return netip.AddrPort{}, false
		}
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
	}
}

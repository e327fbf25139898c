package capture

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Defaults for generated IP headers.
const (
	DefaultTTL = 64
)

// ErrMalformedPacket is returned when a raw packet cannot be parsed.
var ErrMalformedPacket = errors.New("malformed packet")

// DecodePacket parses a raw IPv4 or IPv6 packet.
//
// UDP packets yield addresses, ports and payload. Other protocols yield
// addresses and Protocol only; Raw always references the input.
func DecodePacket(raw []byte) (Datagram, error) {
	if len(raw) == 0 {
		return Datagram{}, fmt.Errorf("%w: empty", ErrMalformedPacket)
	}

	var first gopacket.LayerType
	switch raw[0] >> 4 {
	case 4:
		first = layers.LayerTypeIPv4
	case 6:
		first = layers.LayerTypeIPv6
	default:
		return Datagram{}, fmt.Errorf("%w: ip version %d", ErrMalformedPacket, raw[0]>>4)
	}

	pkt := gopacket.NewPacket(raw, first, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	d := Datagram{Raw: raw}
	var srcIP, dstIP net.IP
	switch ip := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		srcIP, dstIP = ip.SrcIP, ip.DstIP
		d.Protocol = Protocol(ip.Protocol)
	case *layers.IPv6:
		srcIP, dstIP = ip.SrcIP, ip.DstIP
		d.Protocol = Protocol(ip.NextHeader)
	default:
		if errLayer := pkt.ErrorLayer(); errLayer != nil {
			return Datagram{}, fmt.Errorf("%w: %v", ErrMalformedPacket, errLayer.Error())
		}
		return Datagram{}, fmt.Errorf("%w: no network layer", ErrMalformedPacket)
	}

	src, ok1 := netip.AddrFromSlice(srcIP)
	dst, ok2 := netip.AddrFromSlice(dstIP)
	if !ok1 || !ok2 {
		return Datagram{}, fmt.Errorf("%w: bad address", ErrMalformedPacket)
	}
	src, dst = src.Unmap(), dst.Unmap()

	if d.Protocol != ProtocolUDP {
		d.Src = netip.AddrPortFrom(src, 0)
		d.Dst = netip.AddrPortFrom(dst, 0)
		return d, nil
	}

	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		if errLayer := pkt.ErrorLayer(); errLayer != nil {
			return Datagram{}, fmt.Errorf("%w: %v", ErrMalformedPacket, errLayer.Error())
		}
		return Datagram{}, fmt.Errorf("%w: truncated udp header", ErrMalformedPacket)
	}

	d.Src = netip.AddrPortFrom(src, uint16(udp.SrcPort))
	d.Dst = netip.AddrPortFrom(dst, uint16(udp.DstPort))
	d.Payload = udp.Payload
	return d, nil
}

// EncodeUDPPacket serializes d as a complete IPv4 or IPv6 UDP packet with
// lengths and checksums filled in. Src and Dst must share an address family.
func EncodeUDPPacket(d Datagram) ([]byte, error) {
	if d.Protocol != 0 && d.Protocol != ProtocolUDP {
		return nil, ErrNotUDP
	}
	src, dst := d.Src.Addr().Unmap(), d.Dst.Addr().Unmap()
	if !src.IsValid() || !dst.IsValid() {
		return nil, fmt.Errorf("invalid address %s -> %s", d.Src, d.Dst)
	}
	if src.Is4() != dst.Is4() {
		return nil, fmt.Errorf("address family mismatch %s -> %s", src, dst)
	}

	udp := &layers.UDP{
		SrcPort: layers.UDPPort(d.Src.Port()),
		DstPort: layers.UDPPort(d.Dst.Port()),
	}

	var network gopacket.SerializableLayer
	if src.Is4() {
		ip := &layers.IPv4{
			Version:  4,
			TTL:      DefaultTTL,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IP(src.AsSlice()),
			DstIP:    net.IP(dst.AsSlice()),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		network = ip
	} else {
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   DefaultTTL,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      net.IP(src.AsSlice()),
			DstIP:      net.IP(dst.AsSlice()),
		}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, err
		}
		network = ip
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, network, udp, gopacket.Payload(d.Payload)); err != nil {
		return nil, fmt.Errorf("serialize udp packet: %w", err)
	}
	return buf.Bytes(), nil
}

package capture

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func TestEncodeDecodeUDP(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		dst     string
		payload []byte
	}{
		{"ipv4", "93.184.216.34:27015", "10.0.0.5:51000", []byte{0xAA}},
		{"ipv4 empty payload", "10.0.0.1:53", "10.0.0.2:40000", nil},
		{"ipv6", "[2001:db8::1]:443", "[fd00::5]:51000", []byte("hello")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Datagram{
				Src:      netip.MustParseAddrPort(tt.src),
				Dst:      netip.MustParseAddrPort(tt.dst),
				Protocol: ProtocolUDP,
				Payload:  tt.payload,
			}

			raw, err := EncodeUDPPacket(in)
			if err != nil {
				t.Fatalf("EncodeUDPPacket() error = %v", err)
			}

			out, err := DecodePacket(raw)
			if err != nil {
				t.Fatalf("DecodePacket() error = %v", err)
			}
			if !out.IsUDP() {
				t.Errorf("Protocol = %v, want udp", out.Protocol)
			}
			if out.Src != in.Src {
				t.Errorf("Src = %v, want %v", out.Src, in.Src)
			}
			if out.Dst != in.Dst {
				t.Errorf("Dst = %v, want %v", out.Dst, in.Dst)
			}
			if !bytes.Equal(out.Payload, in.Payload) {
				t.Errorf("Payload = %x, want %x", out.Payload, in.Payload)
			}
		})
	}
}

func TestEncodeUDPPacketChecksum(t *testing.T) {
	raw, err := EncodeUDPPacket(Datagram{
		Src:     netip.MustParseAddrPort("93.184.216.34:27015"),
		Dst:     netip.MustParseAddrPort("10.0.0.5:51000"),
		Payload: []byte{0x01, 0x02},
	})
	if err != nil {
		t.Fatalf("EncodeUDPPacket() error = %v", err)
	}

	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.Default)
	ip, ok := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		t.Fatal("missing IPv4 layer")
	}
	if ip.Checksum == 0 {
		t.Error("IPv4 checksum not computed")
	}
	if int(ip.Length) != len(raw) {
		t.Errorf("IPv4 length = %d, want %d", ip.Length, len(raw))
	}
	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok {
		t.Fatal("missing UDP layer")
	}
	if udp.Checksum == 0 {
		t.Error("UDP checksum not computed")
	}
	if udp.Length != 8+2 {
		t.Errorf("UDP length = %d, want 10", udp.Length)
	}
}

func TestEncodeUDPPacketErrors(t *testing.T) {
	tests := []struct {
		name string
		d    Datagram
	}{
		{"family mismatch", Datagram{
			Src: netip.MustParseAddrPort("10.0.0.1:1"),
			Dst: netip.MustParseAddrPort("[2001:db8::1]:2"),
		}},
		{"invalid address", Datagram{}},
		{"tcp", Datagram{
			Src:      netip.MustParseAddrPort("10.0.0.1:1"),
			Dst:      netip.MustParseAddrPort("10.0.0.2:2"),
			Protocol: ProtocolTCP,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeUDPPacket(tt.d); err == nil {
				t.Error("EncodeUDPPacket() should fail")
			}
		})
	}
}

func TestDecodePacketTCP(t *testing.T) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 5),
		DstIP:    net.IPv4(93, 184, 216, 34),
	}
	tcp := &layers.TCP{SrcPort: 51000, DstPort: 80, SYN: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip, tcp); err != nil {
		t.Fatal(err)
	}

	d, err := DecodePacket(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodePacket() error = %v", err)
	}
	if d.Protocol != ProtocolTCP {
		t.Errorf("Protocol = %v, want tcp", d.Protocol)
	}
	if d.IsUDP() {
		t.Error("TCP datagram reported as UDP")
	}
	if d.Dst.Addr() != netip.MustParseAddr("93.184.216.34") {
		t.Errorf("Dst = %v", d.Dst)
	}
	if !bytes.Equal(d.Raw, buf.Bytes()) {
		t.Error("Raw does not reference the input packet")
	}
}

func TestDecodePacketMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"bad version", []byte{0x10, 0, 0, 0}},
		{"short ipv4", []byte{0x45, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePacket(tt.raw)
			if !errors.Is(err, ErrMalformedPacket) {
				t.Errorf("DecodePacket() error = %v, want ErrMalformedPacket", err)
			}
		})
	}
}

func TestProtocolString(t *testing.T) {
	if ProtocolUDP.String() != "udp" || ProtocolTCP.String() != "tcp" {
		t.Error("unexpected protocol names")
	}
	if got := Protocol(1).String(); got != "proto-1" {
		t.Errorf("Protocol(1).String() = %q", got)
	}
}

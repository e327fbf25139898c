package capture

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"
)

func TestMemoryReadDatagram(t *testing.T) {
	m := NewMemory(4)
	defer m.Close()

	ctx := context.Background()
	want := Datagram{
		Src:      netip.MustParseAddrPort("10.0.0.5:51000"),
		Dst:      netip.MustParseAddrPort("93.184.216.34:27015"),
		Protocol: ProtocolUDP,
		Payload:  []byte{1, 2},
	}
	if err := m.Push(ctx, want); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	got, err := m.ReadDatagram(ctx)
	if err != nil {
		t.Fatalf("ReadDatagram() error = %v", err)
	}
	if got.Src != want.Src || got.Dst != want.Dst {
		t.Errorf("ReadDatagram() = %v, want %v", got, want)
	}
}

func TestMemoryReadCancelled(t *testing.T) {
	m := NewMemory(1)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := m.ReadDatagram(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReadDatagram() error = %v, want deadline exceeded", err)
	}
}

func TestMemoryClose(t *testing.T) {
	m := NewMemory(1)
	m.Close()
	m.Close()

	if _, err := m.ReadDatagram(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadDatagram() error = %v, want ErrClosed", err)
	}
	if err := m.Inject(Datagram{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Inject() error = %v, want ErrClosed", err)
	}
}

func TestMemoryInjectCopiesPayload(t *testing.T) {
	m := NewMemory(1)
	defer m.Close()

	payload := []byte{0xAA}
	if err := m.Inject(Datagram{Payload: payload}); err != nil {
		t.Fatal(err)
	}
	payload[0] = 0

	got := <-m.Injected()
	if got.Payload[0] != 0xAA {
		t.Errorf("injected payload aliased caller buffer")
	}

	if err := m.Passthrough(Datagram{Protocol: ProtocolTCP}); err != nil {
		t.Fatal(err)
	}
	if d := <-m.Passed(); d.Protocol != ProtocolTCP {
		t.Errorf("Passed protocol = %v", d.Protocol)
	}
}

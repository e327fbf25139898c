package chaos

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

func TestFaultInjector_Basic(t *testing.T) {
	injector := NewFaultInjector(FaultConfig{
		Type:        FaultDisconnect,
		Probability: 1.0, // Always inject
	})

	if fault, _ := injector.Next(); fault != FaultDisconnect {
		t.Errorf("Next() = %v, want disconnect", fault)
	}

	stats := injector.GetStats()
	if stats[FaultDisconnect] != 1 {
		t.Errorf("disconnect hits = %d, want 1", stats[FaultDisconnect])
	}

	injector.Reset()
	if len(injector.GetStats()) != 0 {
		t.Error("Reset() should clear stats")
	}
}

func TestFaultInjector_Disabled(t *testing.T) {
	injector := NewFaultInjector(FaultConfig{
		Type:        FaultError,
		Probability: 1.0,
	})

	injector.Disable()
	if injector.IsEnabled() {
		t.Error("IsEnabled() = true after Disable")
	}
	if fault, _ := injector.Next(); fault != FaultNone {
		t.Errorf("Next() = %v, want none when disabled", fault)
	}

	injector.Enable()
	if fault, _ := injector.Next(); fault != FaultError {
		t.Errorf("Next() = %v, want error after Enable", fault)
	}
}

func TestFaultInjector_Probability(t *testing.T) {
	injector := NewFaultInjector(FaultConfig{
		Type:        FaultDrop,
		Probability: 0.0,
	})

	for i := 0; i < 100; i++ {
		if fault, _ := injector.Next(); fault != FaultNone {
			t.Fatalf("Next() = %v with 0%% probability", fault)
		}
	}
}

func TestFaultInjector_Delay(t *testing.T) {
	injector := NewFaultInjector(FaultConfig{
		Type:        FaultDelay,
		Probability: 1.0,
		MinDelay:    10 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
	})

	fault, delay := injector.Next()
	if fault != FaultDelay {
		t.Fatalf("Next() = %v, want delay", fault)
	}
	if delay < 10*time.Millisecond || delay >= 20*time.Millisecond {
		t.Errorf("delay = %v, want [10ms, 20ms)", delay)
	}
}

func TestFaultInjector_Nil(t *testing.T) {
	var injector *FaultInjector
	if fault, _ := injector.Next(); fault != FaultNone {
		t.Errorf("nil Next() = %v", fault)
	}
}

func TestFaultInjector_Concurrent(t *testing.T) {
	injector := NewFaultInjector(FaultConfig{Type: FaultDrop, Probability: 0.5})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				injector.Next()
			}
		}()
	}
	wg.Wait()

	stats := injector.GetStats()
	if stats[FaultDrop] > 1000 {
		t.Errorf("drop hits = %d, exceeds calls", stats[FaultDrop])
	}
}

func TestFaultTypeString(t *testing.T) {
	tests := map[FaultType]string{
		FaultNone:       "none",
		FaultDisconnect: "disconnect",
		FaultDelay:      "delay",
		FaultDrop:       "drop",
		FaultError:      "error",
		FaultType(99):   "unknown",
	}
	for ft, want := range tests {
		if got := ft.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(ft), got, want)
		}
	}
}

func listenPair(t *testing.T) (net.PacketConn, net.PacketConn) {
	t.Helper()
	a, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	b, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		a.Close()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestPacketConn_Passthrough(t *testing.T) {
	a, b := listenPair(t)
	wa := WrapPacketConn(a, nil)
	wb := WrapPacketConn(b, nil)

	if _, err := wa.WriteTo([]byte("ping"), b.LocalAddr()); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	wb.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 16)
	n, from, err := wb.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("ReadFrom() = %q, want ping", buf[:n])
	}
	if from.String() != a.LocalAddr().String() {
		t.Errorf("from = %v, want %v", from, a.LocalAddr())
	}
}

func TestPacketConn_WriteFaults(t *testing.T) {
	a, b := listenPair(t)

	drop := WrapPacketConn(a, NewFaultInjector(FaultConfig{Type: FaultDrop, Probability: 1}))
	if n, err := drop.WriteTo([]byte("x"), b.LocalAddr()); err != nil || n != 1 {
		t.Errorf("dropped WriteTo() = %d, %v; want 1, nil", n, err)
	}

	fail := WrapPacketConn(a, NewFaultInjector(FaultConfig{Type: FaultError, Probability: 1}))
	if _, err := fail.WriteTo([]byte("x"), b.LocalAddr()); !errors.Is(err, ErrInjected) {
		t.Errorf("WriteTo() error = %v, want ErrInjected", err)
	}

	// Nothing should have arrived.
	b.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, _, err := b.ReadFrom(make([]byte, 8)); err == nil {
		t.Error("dropped datagram was delivered")
	}
}

func TestPacketConn_FailReads(t *testing.T) {
	a, _ := listenPair(t)
	wa := WrapPacketConn(a, nil)

	want := errors.New("boom")
	errCh := make(chan error, 1)
	go func() {
		_, _, err := wa.ReadFrom(make([]byte, 8))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	wa.FailReads(want)

	select {
	case err := <-errCh:
		if !errors.Is(err, want) {
			t.Errorf("ReadFrom() error = %v, want %v", err, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("FailReads did not unblock ReadFrom")
	}

	if _, _, err := wa.ReadFrom(make([]byte, 8)); !errors.Is(err, want) {
		t.Errorf("second ReadFrom() error = %v, want %v", err, want)
	}
}

func TestPacketConn_ReadDisconnect(t *testing.T) {
	a, b := listenPair(t)
	wb := WrapPacketConn(b, NewFaultInjector(FaultConfig{Type: FaultDisconnect, Probability: 1}))

	if _, err := a.WriteTo([]byte("x"), b.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	wb.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := wb.ReadFrom(make([]byte, 8)); !errors.Is(err, ErrInjected) {
		t.Fatalf("ReadFrom() error = %v, want ErrInjected", err)
	}

	// Socket is closed now.
	if _, _, err := wb.ReadFrom(make([]byte, 8)); err == nil {
		t.Error("ReadFrom() on disconnected socket should fail")
	}
}

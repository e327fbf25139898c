//go:build linux

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/songgao/water"
)

// TUN captures traffic routed into a TUN interface and injects replies back
// through it. It implements Source and Injector.
//
// A single goroutine reads the device and decodes packets; ReadDatagram
// receives from that queue so callers can abandon a read through ctx.
type TUN struct {
	iface  *water.Interface
	cfg    TUNConfig
	logger *slog.Logger

	packets chan Datagram
	readErr error
	errMu   sync.Mutex

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// OpenTUN creates the TUN interface and starts reading from it.
// Address and route configuration of the interface is left to the operator.
func OpenTUN(cfg TUNConfig, logger *slog.Logger) (*TUN, error) {
	cfg = cfg.withDefaults()

	wcfg := water.Config{DeviceType: water.TUN}
	wcfg.Name = cfg.Name

	iface, err := water.New(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create tun interface: %w", err)
	}

	t := &TUN{
		iface:   iface,
		cfg:     cfg,
		logger:  tunLogger(logger).With("interface", iface.Name()),
		packets: make(chan Datagram, cfg.Queue),
		done:    make(chan struct{}),
	}

	t.wg.Add(1)
	go t.readLoop()

	t.logger.Info("TUN capture opened", "mtu", cfg.MTU)
	return t, nil
}

// Name returns the interface name.
func (t *TUN) Name() string {
	return t.iface.Name()
}

func (t *TUN) readLoop() {
	defer t.wg.Done()
	defer close(t.packets)

	for {
		buf := make([]byte, t.cfg.MTU)
		n, err := t.iface.Read(buf)
		if err != nil {
			select {
			case <-t.done:
			default:
				t.errMu.Lock()
				t.readErr = err
				t.errMu.Unlock()
				t.logger.Error("TUN read failed", "error", err)
			}
			return
		}

		d, err := DecodePacket(buf[:n])
		if err != nil {
			t.logger.Debug("Skipping undecodable packet", "error", err, "bytes", n)
			continue
		}

		select {
		case t.packets <- d:
		case <-t.done:
			return
		default:
			t.logger.Debug("TUN queue full, dropping packet", "datagram", d.String())
		}
	}
}

// ReadDatagram implements Source.
func (t *TUN) ReadDatagram(ctx context.Context) (Datagram, error) {
	select {
	case d, ok := <-t.packets:
		if !ok {
			t.errMu.Lock()
			err := t.readErr
			t.errMu.Unlock()
			if err == nil {
				err = ErrClosed
			}
			return Datagram{}, err
		}
		return d, nil
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

// Inject implements Injector by writing a synthesized UDP packet to the device.
func (t *TUN) Inject(d Datagram) error {
	pkt, err := EncodeUDPPacket(d)
	if err != nil {
		return err
	}
	return t.write(pkt)
}

// Passthrough implements Injector. A TUN device has no path back to the
// physical network, so non-UDP traffic cannot be forwarded unchanged.
func (t *TUN) Passthrough(d Datagram) error {
	return ErrPassthroughUnsupported
}

func (t *TUN) write(pkt []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.iface.Write(pkt); err != nil {
		return fmt.Errorf("tun write: %w", err)
	}
	return nil
}

// Close closes the interface and waits for the reader to exit.
func (t *TUN) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.iface.Close()
		t.wg.Wait()
	})
	return err
}

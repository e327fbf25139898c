// Package chaos provides fault injection for exercising failure paths of the
// tunnel's UDP sockets in tests.
package chaos

import (
	"math/rand"
	"sync"
	"time"
)

// FaultType represents the type of fault to inject.
type FaultType int

const (
	// FaultNone means no fault was selected.
	FaultNone FaultType = iota - 1
	// FaultDisconnect closes the underlying socket.
	FaultDisconnect
	// FaultDelay adds latency to an operation.
	FaultDelay
	// FaultDrop silently discards a datagram.
	FaultDrop
	// FaultError makes an operation return ErrInjected.
	FaultError
)

// String returns the fault name.
func (t FaultType) String() string {
	switch t {
	case FaultNone:
		return "none"
	case FaultDisconnect:
		return "disconnect"
	case FaultDelay:
		return "delay"
	case FaultDrop:
		return "drop"
	case FaultError:
		return "error"
	default:
		return "unknown"
	}
}

// FaultConfig configures fault injection behavior.
type FaultConfig struct {
	// Probability is the chance of fault injection (0.0 to 1.0).
	Probability float64

	// Type is the type of fault to inject.
	Type FaultType

	// MinDelay is the minimum delay to add for FaultDelay.
	MinDelay time.Duration

	// MaxDelay is the maximum delay to add for FaultDelay.
	MaxDelay time.Duration
}

// FaultInjector decides which fault, if any, applies to an operation.
type FaultInjector struct {
	configs   []FaultConfig
	enabled   bool
	mu        sync.Mutex
	rng       *rand.Rand
	faultHits map[FaultType]int64
}

// NewFaultInjector creates a new fault injector.
func NewFaultInjector(configs ...FaultConfig) *FaultInjector {
	return &FaultInjector{
		configs:   configs,
		enabled:   true,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		faultHits: make(map[FaultType]int64),
	}
}

// Enable enables fault injection.
func (f *FaultInjector) Enable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = true
}

// Disable disables fault injection.
func (f *FaultInjector) Disable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = false
}

// IsEnabled returns whether fault injection is enabled.
func (f *FaultInjector) IsEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// Next picks the fault for one operation. The first config whose probability
// fires wins; the returned delay is non-zero only for FaultDelay.
func (f *FaultInjector) Next() (FaultType, time.Duration) {
	if f == nil {
		return FaultNone, 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.enabled {
		return FaultNone, 0
	}

	for _, config := range f.configs {
		if f.rng.Float64() < config.Probability {
			f.faultHits[config.Type]++
			var delay time.Duration
			if config.Type == FaultDelay {
				delay = f.randomDelay(config.MinDelay, config.MaxDelay)
			}
			return config.Type, delay
		}
	}

	return FaultNone, 0
}

// GetStats returns the fault injection statistics.
func (f *FaultInjector) GetStats() map[FaultType]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := make(map[FaultType]int64)
	for k, v := range f.faultHits {
		stats[k] = v
	}
	return stats
}

// Reset resets the fault injection statistics.
func (f *FaultInjector) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faultHits = make(map[FaultType]int64)
}

// randomDelay must be called with f.mu held.
func (f *FaultInjector) randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	delta := max - min
	return min + time.Duration(f.rng.Int63n(int64(delta)))
}

// Package supervise restarts failed forwarding loops with exponential backoff.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/postalsys/udptun/internal/logging"
	"github.com/postalsys/udptun/internal/metrics"
)

// ErrMaxRestarts is returned when a loop keeps failing past MaxRestarts.
var ErrMaxRestarts = errors.New("restart limit reached")

// Config contains configuration for restart behavior.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
	MaxRestarts  int // 0 means unlimited

	// StableAfter resets the backoff when a run lasted at least this long.
	StableAfter time.Duration
}

// DefaultConfig returns sensible defaults for restarting.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		MaxRestarts:  0, // Unlimited
		StableAfter:  time.Minute,
	}
}

// Backoff calculates restart delays.
type Backoff struct {
	cfg Config
}

// NewBackoff creates a new backoff calculator.
func NewBackoff(cfg Config) *Backoff {
	return &Backoff{cfg: cfg}
}

// Delay calculates the delay before restart number attempt (0-indexed),
// without jitter.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return b.cfg.InitialDelay
	}

	delay := float64(b.cfg.InitialDelay) * math.Pow(b.cfg.Multiplier, float64(attempt))
	if b.cfg.MaxDelay > 0 && delay > float64(b.cfg.MaxDelay) {
		delay = float64(b.cfg.MaxDelay)
	}

	return time.Duration(delay)
}

// WithJitter spreads d by up to Jitter in either direction.
func (b *Backoff) WithJitter(d time.Duration) time.Duration {
	if b.cfg.Jitter <= 0 {
		return d
	}

	jitterRange := float64(d) * b.cfg.Jitter
	jitter := (float64(time.Now().UnixNano()%1000)/1000.0 - 0.5) * 2 * jitterRange

	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		result = d
	}
	return result
}

// Supervisor runs a loop and restarts it after loop-fatal errors.
type Supervisor struct {
	cfg     Config
	backoff *Backoff
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a supervisor. m may be nil.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		backoff: NewBackoff(cfg),
		logger:  logging.WithComponent(logger, "supervisor"),
		metrics: m,
	}
}

// Run calls fn until it returns nil, ctx is done, or the restart limit is
// reached. fn returning nil means a clean stop.
func (s *Supervisor) Run(ctx context.Context, name string, fn func(context.Context) error) error {
	attempt := 0
	restarts := 0

	for {
		started := time.Now()
		err := fn(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		if s.cfg.StableAfter > 0 && time.Since(started) >= s.cfg.StableAfter {
			attempt = 0
		}

		if s.cfg.MaxRestarts > 0 && restarts >= s.cfg.MaxRestarts {
			s.logger.Error("Giving up on loop",
				"loop", name,
				logging.KeyAttempt, restarts,
				logging.KeyError, err)
			return fmt.Errorf("%s: %w: %w", name, ErrMaxRestarts, err)
		}

		delay := s.backoff.WithJitter(s.backoff.Delay(attempt))
		s.logger.Warn("Loop failed, restarting",
			"loop", name,
			logging.KeyAttempt, restarts+1,
			logging.KeyDuration, delay,
			logging.KeyError, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		attempt++
		restarts++
		s.metrics.RecordLoopRestart(name)
	}
}

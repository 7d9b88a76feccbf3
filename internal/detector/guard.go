package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/crimson-sun/swatch/internal/logging"
	"github.com/crimson-sun/swatch/internal/metrics"
	"github.com/crimson-sun/swatch/internal/model"
)

// GuardConfig bounds the request rate to a detector and trips a breaker
// after consecutive failures.
type GuardConfig struct {
	RatePerSecond   float64
	Burst           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultGuardConfig returns the limits used when none are configured.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{RatePerSecond: 5, Burst: 5, BreakerFailures: 5, BreakerTimeout: 30 * time.Second}
}

// Guard wraps a Detector with a rate limiter and a circuit breaker. It does
// not retry.
type Guard struct {
	inner   Detector
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]model.DetectedLabel]
}

// NewGuard wraps inner. A non-positive rate disables limiting.
func NewGuard(inner Detector, cfg GuardConfig) *Guard {
	def := DefaultGuardConfig()
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	name := inner.Name()
	cb := gobreaker.NewCircuitBreaker[[]model.DetectedLabel](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// A caller giving up is not a detector failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("detector", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("detector breaker state change")
		},
	})

	return &Guard{
		inner:   inner,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		cb:      cb,
	}
}

func (g *Guard) Name() string { return g.inner.Name() }

// State reports the breaker state.
func (g *Guard) State() gobreaker.State { return g.cb.State() }

func (g *Guard) Detect(ctx context.Context, img Image) ([]model.DetectedLabel, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		metrics.DetectorRequests.WithLabelValues(g.Name(), "throttled").Inc()
		return nil, fmt.Errorf("detector: rate limit: %w", err)
	}

	labels, err := g.cb.Execute(func() ([]model.DetectedLabel, error) {
		return g.inner.Detect(ctx, img)
	})
	switch {
	case err == nil:
		metrics.DetectorRequests.WithLabelValues(g.Name(), "ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.DetectorRequests.WithLabelValues(g.Name(), "rejected").Inc()
	default:
		metrics.DetectorRequests.WithLabelValues(g.Name(), "error").Inc()
	}
	if err != nil {
		return nil, err
	}
	return labels, nil
}

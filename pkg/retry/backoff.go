package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"vkcrawler/pkg/config"
	errs "vkcrawler/pkg/errors"
)

// BackoffStrategy defines the interface for different backoff strategies
type BackoffStrategy interface {
	// NextDelay returns the delay before the given attempt (1-based)
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter
type ExponentialBackoff struct {
	// BaseDelay is the initial delay duration
	BaseDelay time.Duration
	// MaxDelay is the maximum delay duration
	MaxDelay time.Duration
	// Multiplier is the factor by which delay increases
	Multiplier float64
	// JitterFactor spreads the delay by +/- this fraction (0.0 to 1.0)
	JitterFactor float64
}

// DefaultExponentialBackoff returns a backoff with sensible defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// NextDelay calculates the next delay with exponential backoff and jitter
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(eb.BaseDelay) * math.Pow(eb.Multiplier, float64(attempt-1))
	if delay > float64(eb.MaxDelay) {
		delay = float64(eb.MaxDelay)
	}

	if eb.JitterFactor > 0 {
		jitter := delay * eb.JitterFactor
		delay += (rand.Float64() * 2 * jitter) - jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// ConstantBackoff implements constant delay backoff
type ConstantBackoff struct {
	Delay time.Duration
}

// NextDelay returns a constant delay
func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// KindBackoff picks a backoff strategy by failure kind. Throttling gets a
// longer base delay than transient network trouble.
type KindBackoff struct {
	RateLimited BackoffStrategy
	Transient   BackoffStrategy
	Default     BackoffStrategy
}

// NewKindBackoff builds per-kind strategies from the retry configuration
func NewKindBackoff(cfg config.RetryConfig) *KindBackoff {
	return &KindBackoff{
		RateLimited: &ExponentialBackoff{
			BaseDelay:    cfg.RateLimitBaseDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   cfg.Multiplier,
			JitterFactor: cfg.JitterFactor,
		},
		Transient: &ExponentialBackoff{
			BaseDelay:    cfg.BaseDelay,
			MaxDelay:     cfg.MaxDelay,
			Multiplier:   cfg.Multiplier,
			JitterFactor: cfg.JitterFactor,
		},
		Default: DefaultExponentialBackoff(),
	}
}

// ForKind returns the strategy for a failure kind
func (kb *KindBackoff) ForKind(kind errs.Kind) BackoffStrategy {
	switch kind {
	case errs.KindRateLimited:
		return kb.RateLimited
	case errs.KindTransient:
		return kb.Transient
	default:
		return kb.Default
	}
}

// Delay is shorthand for ForKind(kind).NextDelay(attempt)
func (kb *KindBackoff) Delay(kind errs.Kind, attempt int) time.Duration {
	return kb.ForKind(kind).NextDelay(attempt)
}

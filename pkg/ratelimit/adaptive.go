package ratelimit

import (
	stderrors "errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"vkcrawler/pkg/config"
	errs "vkcrawler/pkg/errors"
	"vkcrawler/pkg/logger"
)

// Outcome is what a finished request reports back to the limiter
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeRateLimited
	OutcomeTransient
	OutcomeFatal
	// OutcomeAborted marks a request cut short by cancellation. It leaves
	// pacing and session health untouched.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransient:
		return "transient"
	case OutcomeFatal:
		return "fatal"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Failure reports whether the outcome counts against session health
func (o Outcome) Failure() bool {
	return o == OutcomeRateLimited || o == OutcomeTransient || o == OutcomeFatal
}

// OutcomeOf maps a fetch error to an outcome. A nil error is a success.
func OutcomeOf(err error) Outcome {
	var e *errs.Error
	if err != nil && !stderrors.As(err, &e) && errs.IsCanceled(err) {
		return OutcomeAborted
	}
	switch errs.KindOf(err) {
	case "":
		return OutcomeSuccess
	case errs.KindNotFound:
		return OutcomeNotFound
	case errs.KindRateLimited:
		return OutcomeRateLimited
	case errs.KindTransient:
		return OutcomeTransient
	default:
		return OutcomeFatal
	}
}

// Pacing is the per-session pacing state. It is only mutated by Adaptive.
type Pacing struct {
	mu           sync.Mutex
	interval     time.Duration
	coolingUntil time.Time
	streak       int
	bucket       *rate.Limiter
}

func newPacing(interval time.Duration) *Pacing {
	return &Pacing{
		interval: interval,
		bucket:   rate.NewLimiter(every(interval), 1),
	}
}

func every(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// Interval returns the current minimum spacing between requests
func (p *Pacing) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// CoolingUntil returns the end of the current cooldown window, zero if none
func (p *Pacing) CoolingUntil() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.coolingUntil
}

// Cooling reports whether the session is inside a cooldown window at t
func (p *Pacing) Cooling(t time.Time) bool {
	return p.CoolingUntil().After(t)
}

// SuccessStreak returns the number of successes since the last failure
func (p *Pacing) SuccessStreak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streak
}

// Subject is anything carrying pacing state, in practice a session
type Subject interface {
	Pacing() *Pacing
}

// Config is the adaptive pacing curve
type Config struct {
	// BaseInterval is the floor the interval decays back to
	BaseInterval time.Duration
	// MaxInterval caps backoff growth
	MaxInterval time.Duration
	// Jitter is the upper bound of the random delay added to every wait
	Jitter              time.Duration
	BackoffMultiplier   float64
	TransientMultiplier float64
	DecayFactor         float64
	Cooldown            time.Duration
}

// ConfigFrom derives the pacing curve for the configured mode. Fast mode only
// lowers the floor and jitter.
func ConfigFrom(cfg *config.Config) Config {
	floor, jitter := cfg.PacingFloor()
	return Config{
		BaseInterval:        floor,
		MaxInterval:         cfg.RateLimit.MaxInterval,
		Jitter:              jitter,
		BackoffMultiplier:   cfg.RateLimit.BackoffMultiplier,
		TransientMultiplier: cfg.RateLimit.TransientMultiplier,
		DecayFactor:         cfg.RateLimit.DecayFactor,
		Cooldown:            cfg.RateLimit.Cooldown,
	}
}

// Adaptive paces each session independently: multiplicative slowdown on
// throttling, gradual decay toward the floor on success.
type Adaptive struct {
	cfg Config
	log logger.Logger
	now func() time.Time
}

// New creates an adaptive limiter
func New(cfg Config, log logger.Logger) *Adaptive {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.MaxInterval < cfg.BaseInterval {
		cfg.MaxInterval = cfg.BaseInterval
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.TransientMultiplier < 1 {
		cfg.TransientMultiplier = 1
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor > 1 {
		cfg.DecayFactor = 1
	}
	return &Adaptive{cfg: cfg, log: log, now: time.Now}
}

// NewPacing returns fresh pacing state starting at the floor
func (a *Adaptive) NewPacing() *Pacing {
	return newPacing(a.cfg.BaseInterval)
}

// Acquire reserves the session's next request slot and returns how long the
// caller must wait before issuing it.
func (a *Adaptive) Acquire(s Subject) time.Duration {
	p := s.Pacing()
	now := a.now()

	p.mu.Lock()
	var wait time.Duration
	if p.coolingUntil.After(now) {
		wait = p.coolingUntil.Sub(now)
	}
	if d := p.bucket.ReserveN(now, 1).DelayFrom(now); d > wait {
		wait = d
	}
	p.mu.Unlock()

	if a.cfg.Jitter > 0 {
		wait += time.Duration(rand.Int63n(int64(a.cfg.Jitter)))
	}
	return wait
}

// Report feeds a request outcome back into the session's pacing
func (a *Adaptive) Report(s Subject, o Outcome) {
	p := s.Pacing()
	now := a.now()

	p.mu.Lock()
	before := p.interval
	switch o {
	case OutcomeRateLimited:
		p.interval = a.grow(p.interval, a.cfg.BackoffMultiplier)
		p.coolingUntil = now.Add(a.cfg.Cooldown)
		p.streak = 0
	case OutcomeTransient:
		p.interval = a.grow(p.interval, a.cfg.TransientMultiplier)
		p.streak = 0
	case OutcomeSuccess, OutcomeNotFound:
		p.streak++
		next := time.Duration(float64(p.interval) * a.cfg.DecayFactor)
		if next < a.cfg.BaseInterval {
			next = a.cfg.BaseInterval
		}
		p.interval = next
	}
	after := p.interval
	if after != before {
		p.bucket.SetLimitAt(now, every(after))
	}
	p.mu.Unlock()

	if o == OutcomeRateLimited {
		a.log.DebugWithFields("Pacing slowed", map[string]interface{}{
			"outcome":  o.String(),
			"interval": after,
			"cooldown": a.cfg.Cooldown,
		})
	}
}

func (a *Adaptive) grow(interval time.Duration, factor float64) time.Duration {
	if interval <= 0 {
		// a zero floor would never grow
		interval = time.Millisecond
	}
	next := time.Duration(float64(interval) * factor)
	if next > a.cfg.MaxInterval {
		next = a.cfg.MaxInterval
	}
	return next
}

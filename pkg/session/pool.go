package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/ratelimit"
)

var (
	// ErrAcquireTimeout is returned when no session frees up in time
	ErrAcquireTimeout = errors.New("session acquire timed out")
	// ErrSessionsExhausted ends the run: too many sessions died in a row
	ErrSessionsExhausted = errors.New("session pool exhausted")
	// ErrPoolClosed is returned after Close
	ErrPoolClosed = errors.New("session pool closed")
)

// Creator makes new sessions for the pool. *Factory implements it.
type Creator interface {
	New() (*Session, error)
}

// PoolConfig bounds the pool
type PoolConfig struct {
	Size                   int
	AcquireTimeout         time.Duration
	MaxConsecutiveFailures int
	// MaxReplacements is how many sessions may die in a row, with no
	// successful request in between, before the pool gives up.
	MaxReplacements int
}

// PoolStats is a point-in-time view of the pool
type PoolStats struct {
	Size     int
	Idle     int
	Replaced int
}

// Pool owns a bounded set of sessions and lends them to workers one at a time
type Pool struct {
	cfg     PoolConfig
	creator Creator
	limiter *ratelimit.Adaptive
	log     logger.Logger
	now     func() time.Time

	mu          sync.Mutex
	idle        []*Session
	size        int
	replaced    int
	deathStreak int
	exhausted   bool
	closed      bool
	// released is closed and replaced whenever a session comes back
	released chan struct{}
}

// NewPool creates the pool and fills it with cfg.Size sessions
func NewPool(cfg PoolConfig, creator Creator, limiter *ratelimit.Adaptive, log logger.Logger) (*Pool, error) {
	if cfg.Size <= 0 {
		return nil, errors.New("pool size must be positive")
	}
	if log == nil {
		log = logger.GetLogger()
	}

	p := &Pool{
		cfg:      cfg,
		creator:  creator,
		limiter:  limiter,
		log:      log.WithField("component", "session_pool"),
		now:      time.Now,
		released: make(chan struct{}),
	}

	for i := 0; i < cfg.Size; i++ {
		s, err := creator.New()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create session %d: %w", i+1, err)
		}
		p.idle = append(p.idle, s)
		p.size++
	}

	p.log.InfoWithFields("Session pool ready", map[string]interface{}{
		"size":            cfg.Size,
		"acquire_timeout": cfg.AcquireTimeout,
	})
	return p, nil
}

// Acquire blocks until an idle session outside its cooldown window is
// available, ctx ends, or AcquireTimeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	deadline := p.now().Add(p.cfg.AcquireTimeout)

	for {
		p.mu.Lock()
		if p.exhausted {
			p.mu.Unlock()
			return nil, ErrSessionsExhausted
		}
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		now := p.now()
		var earliest time.Time
		for i, s := range p.idle {
			until := s.pacing.CoolingUntil()
			if !until.After(now) {
				p.idle = append(p.idle[:i], p.idle[i+1:]...)
				if s.parkedCooling {
					s.parkedCooling = false
					logger.LogSessionTransition(p.log, s.id, Cooling.String(), Healthy.String(), "cooldown expired")
				}
				p.mu.Unlock()
				return s, nil
			}
			if earliest.IsZero() || until.Before(earliest) {
				earliest = until
			}
		}
		wake := p.released
		p.mu.Unlock()

		wait := deadline.Sub(now)
		if wait <= 0 {
			return nil, ErrAcquireTimeout
		}
		if !earliest.IsZero() && earliest.Sub(now) < wait {
			wait = earliest.Sub(now)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Release returns a session after one fetch and feeds the outcome to the
// rate limiter. A session that reaches MaxConsecutiveFailures is retired
// and replaced.
func (p *Pool) Release(s *Session, o ratelimit.Outcome) {
	before := s.Health(p.now())
	p.limiter.Report(s, o)
	died := s.record(o, p.cfg.MaxConsecutiveFailures)

	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.broadcast()

	if !o.Failure() && o != ratelimit.OutcomeAborted {
		p.deathStreak = 0
	}

	if !died {
		after := s.Health(p.now())
		if after != before {
			logger.LogSessionTransition(p.log, s.id, before.String(), after.String(), o.String())
		}
		s.parkedCooling = after == Cooling
		if p.closed {
			s.Close()
			return
		}
		p.idle = append(p.idle, s)
		return
	}

	logger.LogSessionTransition(p.log, s.id, before.String(), Dead.String(),
		fmt.Sprintf("%d consecutive failures, last %s", p.cfg.MaxConsecutiveFailures, o))
	s.Close()
	p.size--
	p.deathStreak++

	if p.closed {
		return
	}
	if p.deathStreak > p.cfg.MaxReplacements {
		p.exhausted = true
		p.log.ErrorWithFields("Too many sessions died in a row", map[string]interface{}{
			"dead_in_a_row":    p.deathStreak,
			"max_replacements": p.cfg.MaxReplacements,
		})
		return
	}

	fresh, err := p.creator.New()
	if err != nil {
		p.log.WithError(err).Error("Failed to replace dead session")
		if p.size == 0 {
			p.exhausted = true
		}
		return
	}
	p.size++
	p.replaced++
	p.idle = append(p.idle, fresh)
	p.log.InfoWithFields("Session replaced", map[string]interface{}{
		"dead_session": s.id,
		"new_session":  fresh.id,
		"account":      fresh.account,
	})
}

func (p *Pool) broadcast() {
	close(p.released)
	p.released = make(chan struct{})
}

// Stats returns a snapshot of pool counters
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{Size: p.size, Idle: len(p.idle), Replaced: p.replaced}
}

// Close retires idle sessions and wakes blocked Acquire calls. Sessions
// still borrowed are closed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, s := range p.idle {
		s.Close()
	}
	p.idle = nil
	p.broadcast()
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"vkcrawler/pkg/config"
	errs "vkcrawler/pkg/errors"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/ratelimit"
	"vkcrawler/pkg/retry"
	"vkcrawler/pkg/session"
)

// Config controls worker concurrency and the task retry policy
type Config struct {
	Workers    int
	MaxRetries int
	// Backoff picks the requeue delay by failure kind. Nil uses the
	// default retry configuration.
	Backoff *retry.KindBackoff
}

// Scheduler runs tasks on a fixed set of workers, each borrowing a pooled
// session per fetch. A Scheduler runs once: its queue closes when the run
// drains or is cancelled.
type Scheduler struct {
	cfg     Config
	pool    SessionPool
	handler Handler
	queue   *Queue
	log     logger.Logger
	nextID  atomic.Uint64
}

// New creates a scheduler
func New(cfg Config, pool SessionPool, handler Handler, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.NewKindBackoff(config.DefaultConfig().Retry)
	}

	return &Scheduler{
		cfg:     cfg,
		pool:    pool,
		handler: handler,
		queue:   NewQueue(),
		log:     log.WithField("component", "scheduler"),
	}
}

// Submit enqueues a task, assigning an id if it has none. It returns false
// once the run has finished.
func (s *Scheduler) Submit(t *Task) bool {
	if t.ID == "" {
		t.ID = fmt.Sprintf("%s-%d", t.Kind, s.nextID.Add(1))
	}
	t.State = StateQueued
	return s.queue.Push(t)
}

// Run submits seeds and processes tasks until none are outstanding, ctx is
// cancelled, or the session pool gives up. Follow-on tasks submitted from
// Handler.Complete extend the run.
func (s *Scheduler) Run(ctx context.Context, seeds ...*Task) error {
	for _, t := range seeds {
		s.Submit(t)
	}
	if s.queue.Outstanding() == 0 {
		s.queue.Close()
		return nil
	}

	s.log.InfoWithFields("Starting workers", map[string]interface{}{
		"workers":     s.cfg.Workers,
		"max_retries": s.cfg.MaxRetries,
		"seeds":       len(seeds),
	})

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, s.queue.Close)
	defer stop()

	for i := 0; i < s.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			return s.worker(gctx, id)
		})
	}

	err := g.Wait()
	s.queue.Close()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.log.WithError(err).Warn("Scheduler stopped early")
		return err
	}
	s.log.Info("All tasks finished")
	return nil
}

func (s *Scheduler) worker(ctx context.Context, id int) error {
	log := s.log.WithField("worker_id", id)
	log.Debug("Worker started")

	for {
		t, ok := s.queue.Pop()
		if !ok {
			log.Debug("Worker stopping - queue closed")
			return nil
		}
		if err := s.execute(ctx, log, t); err != nil {
			log.WithError(err).Error("Worker aborting run")
			return err
		}
		if ctx.Err() != nil {
			log.Debug("Worker stopping - context cancelled")
			return nil
		}
	}
}

// execute runs one attempt of t. It returns an error only when the run
// must stop.
func (s *Scheduler) execute(ctx context.Context, log logger.Logger, t *Task) error {
	start := time.Now()
	t.State = StateRunning
	logger.LogTaskStart(log, t.ID, t.Kind.String(), t.Target(), t.Retries+1)

	sess, err := s.pool.Acquire(ctx)
	var res *Result
	switch {
	case errors.Is(err, session.ErrSessionsExhausted), errors.Is(err, session.ErrPoolClosed):
		s.fail(log, t, err, start)
		return err
	case errors.Is(err, session.ErrAcquireTimeout):
		err = errs.Transient("acquire_session", err)
	case err != nil:
	default:
		res, err = s.handler.Fetch(ctx, sess, t)
		outcome := ratelimit.OutcomeOf(err)
		if err != nil && ctx.Err() != nil {
			outcome = ratelimit.OutcomeAborted
		}
		s.pool.Release(sess, outcome)
	}

	s.settle(ctx, log, t, res, err, start)
	return nil
}

// settle applies the outcome policy to a finished attempt
func (s *Scheduler) settle(ctx context.Context, log logger.Logger, t *Task, res *Result, err error, start time.Time) {
	kind := errs.KindOf(err)
	switch {
	case err == nil, kind == errs.KindNotFound:
		if err != nil {
			res = &Result{NotFound: true}
		}
		if cerr := s.handler.Complete(ctx, t, res); cerr != nil {
			s.fail(log, t, cerr, start)
			return
		}
		t.State = StateDone
		logger.LogTaskEnd(log, t.ID, t.Kind.String(), t.Target(), t.State.String(), time.Since(start), nil)
		s.queue.Done()

	case ctx.Err() != nil:
		t.State = StateFailed
		log.DebugWithFields("Task abandoned", map[string]interface{}{
			"task_id": t.ID,
			"kind":    t.Kind.String(),
			"target":  t.Target(),
		})
		s.queue.Done()

	case errs.IsRetryable(kind) && t.Retries < s.cfg.MaxRetries:
		t.Retries++
		t.State = StateRequeued
		delay := s.cfg.Backoff.Delay(kind, t.Retries)
		logger.LogRetry(log, t.ID, t.Kind.String(), t.Retries+1, delay, err)
		s.handler.Retrying(t, err, delay)
		if !s.queue.PushAfter(t, delay) {
			s.queue.Done()
		}

	default:
		s.fail(log, t, err, start)
	}
}

func (s *Scheduler) fail(log logger.Logger, t *Task, err error, start time.Time) {
	t.State = StateFailed
	s.handler.Failed(t, err)
	logger.LogTaskEnd(log, t.ID, t.Kind.String(), t.Target(), t.State.String(), time.Since(start), err)
	s.queue.Done()
}

// Pending returns the number of tasks not yet finished
func (s *Scheduler) Pending() int {
	return s.queue.Outstanding()
}

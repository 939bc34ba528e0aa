package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"vkcrawler/internal/scheduler"
	"vkcrawler/pkg/checkpoint"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/vk"
)

// Unlimited is the budget value that sets no ceiling
const Unlimited = -1

// Target is one community to crawl with its budgets. A budget of 0 collects
// nothing of that kind and a negative budget means no ceiling.
type Target struct {
	Group              string
	MaxPosts           int
	MaxCommentsPerPost int
}

// Config controls a run
type Config struct {
	Scheduler     scheduler.Config
	CollectFromDB bool
	// Resume seeds wall listings from saved checkpoints
	Resume bool
}

// Deps are the collaborators of a run. Pool and Fetcher are only needed
// when crawling; Features only in collect-from-db mode; Checkpoints is
// optional.
type Deps struct {
	Pool        scheduler.SessionPool
	Fetcher     Fetcher
	Sink        Sink
	Features    FeatureStage
	Checkpoints *checkpoint.Manager
}

// Orchestrator drives crawl runs: it seeds wall listings and turns every
// completed page into records for the sink and follow-on tasks for the
// scheduler.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  logger.Logger
	now  func() time.Time

	live atomic.Pointer[liveRun]
}

type liveRun struct {
	id    string
	stats *RunStats
}

// New creates an orchestrator
func New(cfg Config, deps Deps, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Orchestrator{
		cfg:  cfg,
		deps: deps,
		log:  log.WithField("component", "pipeline"),
		now:  time.Now,
	}
}

// Run crawls the targets until every task has settled, ctx is cancelled or
// the session pool is exhausted. The returned snapshot is valid even when
// err is set; every record counted as fetched is already in the sink.
func (o *Orchestrator) Run(ctx context.Context, targets ...Target) (Snapshot, error) {
	runID := uuid.NewString()
	log := o.log.WithField("run_id", runID)
	stats := NewRunStats()
	o.live.Store(&liveRun{id: runID, stats: stats})

	finish := func(err error) (Snapshot, error) {
		snap := stats.Snapshot(runID)
		logger.LogRunStats(log, runID, snap.Fields())
		return snap, err
	}

	if o.cfg.CollectFromDB {
		return finish(o.collectFromDB(ctx, log))
	}

	targets, err := normalizeTargets(targets)
	if err != nil {
		return finish(err)
	}
	if o.deps.Pool == nil || o.deps.Fetcher == nil || o.deps.Sink == nil {
		return finish(errors.New("crawling needs a session pool, a fetcher and a sink"))
	}

	r := newRun(o, runID, log, stats, targets)
	sched := scheduler.New(o.cfg.Scheduler, o.deps.Pool, r, log)
	r.sched = sched

	seeds := r.seeds()
	log.InfoWithFields("Starting crawl", map[string]interface{}{
		"groups": len(targets),
		"seeds":  len(seeds),
		"resume": o.cfg.Resume,
	})

	err = sched.Run(ctx, seeds...)
	if err == nil {
		r.clearCheckpoints()
	}
	return finish(err)
}

// Progress returns the counters of the run in flight, or of the last run.
// It is safe to call from any goroutine.
func (o *Orchestrator) Progress() Snapshot {
	l := o.live.Load()
	if l == nil {
		return Snapshot{}
	}
	return l.stats.Snapshot(l.id)
}

func (o *Orchestrator) collectFromDB(ctx context.Context, log logger.Logger) error {
	log.Info("Crawl skipped, reading persisted data")
	if o.deps.Features == nil {
		return errors.New("collect from db needs a feature stage")
	}
	if _, err := o.deps.Features.ReadPersisted(ctx); err != nil {
		return fmt.Errorf("failed to read persisted data: %w", err)
	}
	return nil
}

// normalizeTargets trims group slugs and merges duplicates
func normalizeTargets(targets []Target) ([]Target, error) {
	seen := make(map[string]bool)
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		t.Group = strings.Trim(t.Group, "/ ")
		if t.Group == "" {
			return nil, errors.New("target with empty group")
		}
		if seen[t.Group] {
			continue
		}
		seen[t.Group] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, errors.New("no groups to crawl")
	}
	return out, nil
}

// entityOf maps a task kind to the record kind it produces
func entityOf(k scheduler.Kind) vk.EntityKind {
	switch k {
	case scheduler.KindListPosts:
		return vk.KindPost
	case scheduler.KindListComments:
		return vk.KindComment
	default:
		return vk.KindProfile
	}
}

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vkcrawler/internal/scheduler"
	"vkcrawler/pkg/checkpoint"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/session"
	"vkcrawler/pkg/vk"
)

type groupState struct {
	target   Target
	accepted int
	seen     map[vk.PostRef]struct{}
	// listed is set once the wall listing reached its end or budget
	listed bool
}

type postState struct {
	limit    int
	accepted int
	seen     map[int64]struct{}
}

// run is the scheduler handler of one Orchestrator.Run. The seen-sets are
// run scoped and guarded by mu.
type run struct {
	o     *Orchestrator
	id    string
	log   logger.Logger
	stats *RunStats
	sched *scheduler.Scheduler

	mu     sync.Mutex
	groups map[string]*groupState
	posts  map[vk.PostRef]*postState
	users  map[int64]struct{}
}

func newRun(o *Orchestrator, id string, log logger.Logger, stats *RunStats, targets []Target) *run {
	r := &run{
		o:      o,
		id:     id,
		log:    log,
		stats:  stats,
		groups: make(map[string]*groupState, len(targets)),
		posts:  make(map[vk.PostRef]*postState),
		users:  make(map[int64]struct{}),
	}
	for _, t := range targets {
		r.groups[t.Group] = &groupState{target: t, seen: make(map[vk.PostRef]struct{})}
	}
	return r
}

// seeds returns one wall listing task per group, continuing from a saved
// checkpoint when resuming.
func (r *run) seeds() []*scheduler.Task {
	var seeds []*scheduler.Task
	for group, g := range r.groups {
		cur := vk.Cursor{}
		if cp := r.loadCheckpoint(group); cp != nil {
			if cp.Completed {
				g.listed = true
				r.log.InfoWithFields("Group already listed, skipping", map[string]interface{}{
					"group":    group,
					"accepted": cp.Accepted,
				})
				continue
			}
			cur = cp.Next
			g.accepted = cp.Accepted
			r.log.InfoWithFields("Resuming group", map[string]interface{}{
				"group":    group,
				"offset":   cur.Offset,
				"accepted": cp.Accepted,
			})
		}
		if budgetLeft(g.accepted, g.target.MaxPosts) {
			seeds = append(seeds, scheduler.NewListPostsTask(group, cur))
		}
	}
	return seeds
}

func budgetLeft(used, limit int) bool {
	return limit < 0 || used < limit
}

// reserve claims key and a budget slot for it. fresh is false for a key
// already claimed; ok is false when the budget is spent. The caller holds
// run.mu.
func reserve[K comparable](seen map[K]struct{}, used *int, limit int, key K) (fresh, ok bool) {
	if _, dup := seen[key]; dup {
		return false, false
	}
	seen[key] = struct{}{}
	if !budgetLeft(*used, limit) {
		return true, false
	}
	*used++
	return true, true
}

// unreserve gives back what reserve claimed for a record that was not stored
func unreserve[K comparable](seen map[K]struct{}, used *int, key K) {
	delete(seen, key)
	*used--
}

// Fetch runs the client call for a task on the borrowed session
func (r *run) Fetch(ctx context.Context, d session.Doer, t *scheduler.Task) (*scheduler.Result, error) {
	f := r.o.deps.Fetcher
	switch t.Kind {
	case scheduler.KindListPosts:
		page, err := f.ListPosts(ctx, d, t.Group, t.Cursor)
		if err != nil {
			return nil, err
		}
		return &scheduler.Result{Posts: page}, nil
	case scheduler.KindListComments:
		page, err := f.ListComments(ctx, d, t.Post, t.Cursor)
		if err != nil {
			return nil, err
		}
		return &scheduler.Result{Comments: page}, nil
	case scheduler.KindFetchProfile:
		p, err := f.FetchProfile(ctx, d, t.UserID)
		if err != nil {
			return nil, err
		}
		return &scheduler.Result{Profile: p}, nil
	default:
		return nil, fmt.Errorf("unknown task kind %d", t.Kind)
	}
}

// Complete persists a finished page and schedules what it leads to
func (r *run) Complete(ctx context.Context, t *scheduler.Task, res *scheduler.Result) error {
	switch t.Kind {
	case scheduler.KindListPosts:
		return r.completePosts(ctx, t, res)
	case scheduler.KindListComments:
		return r.completeComments(ctx, t, res)
	case scheduler.KindFetchProfile:
		return r.completeProfile(ctx, t, res)
	default:
		return fmt.Errorf("unknown task kind %d", t.Kind)
	}
}

// Retrying counts a requeued attempt
func (r *run) Retrying(t *scheduler.Task, err error, delay time.Duration) {
	r.stats.For(entityOf(t.Kind)).Retried.Add(1)
}

// Failed counts a task that gave up
func (r *run) Failed(t *scheduler.Task, err error) {
	r.stats.For(entityOf(t.Kind)).Failed.Add(1)
}

func (r *run) completePosts(ctx context.Context, t *scheduler.Task, res *scheduler.Result) error {
	if res.NotFound || res.Posts == nil {
		r.log.WarnWithFields("Group wall not found", map[string]interface{}{
			"group": t.Group,
		})
		return nil
	}
	page := res.Posts

	r.mu.Lock()
	g := r.groups[t.Group]
	if g == nil {
		g = &groupState{
			target: Target{Group: t.Group, MaxPosts: Unlimited, MaxCommentsPerPost: Unlimited},
			seen:   make(map[vk.PostRef]struct{}),
		}
		r.groups[t.Group] = g
	}
	r.mu.Unlock()

	fresh, skipped := 0, 0
	for _, p := range page.Posts {
		ref := p.Ref()
		r.mu.Lock()
		isNew, ok := reserve(g.seen, &g.accepted, g.target.MaxPosts, ref)
		r.mu.Unlock()
		if !isNew {
			continue
		}
		fresh++
		if !ok {
			skipped++
			continue
		}

		if err := r.o.deps.Sink.Upsert(ctx, p); err != nil {
			r.mu.Lock()
			unreserve(g.seen, &g.accepted, ref)
			r.mu.Unlock()
			r.writeFailed(p, err)
			continue
		}
		r.stats.Posts.Fetched.Add(1)
		if g.target.MaxCommentsPerPost == 0 {
			continue
		}
		r.mu.Lock()
		r.posts[ref] = &postState{limit: g.target.MaxCommentsPerPost, seen: make(map[int64]struct{})}
		r.mu.Unlock()
		r.sched.Submit(scheduler.NewListCommentsTask(t.Group, ref, vk.Cursor{}, nil))
	}
	r.stats.Posts.Skipped.Add(int64(skipped))

	r.mu.Lock()
	total := g.accepted
	more := page.Next != nil && fresh > 0 && budgetLeft(g.accepted, g.target.MaxPosts)
	if !more {
		g.listed = true
	}
	r.mu.Unlock()

	if more {
		r.sched.Submit(scheduler.NewListPostsTask(t.Group, *page.Next))
		r.saveCheckpoint(&checkpoint.Checkpoint{Group: t.Group, Next: *page.Next, Accepted: total, RunID: r.id})
		return nil
	}

	r.log.InfoWithFields("Group listing finished", map[string]interface{}{
		"group":    t.Group,
		"accepted": total,
	})
	r.saveCheckpoint(&checkpoint.Checkpoint{Group: t.Group, Accepted: total, Completed: true, RunID: r.id})
	return nil
}

func (r *run) completeComments(ctx context.Context, t *scheduler.Task, res *scheduler.Result) error {
	if res.NotFound || res.Comments == nil {
		r.log.DebugWithFields("Post not found", map[string]interface{}{
			"post": t.Post.String(),
		})
		return nil
	}
	page := res.Comments

	r.mu.Lock()
	ps := r.posts[t.Post]
	if ps == nil {
		limit := Unlimited
		if g := r.groups[t.Group]; g != nil {
			limit = g.target.MaxCommentsPerPost
		}
		ps = &postState{limit: limit, seen: make(map[int64]struct{})}
		r.posts[t.Post] = ps
	}
	r.mu.Unlock()

	fresh, skipped := 0, 0
	for _, c := range page.Comments {
		r.mu.Lock()
		isNew, ok := reserve(ps.seen, &ps.accepted, ps.limit, c.CommentID)
		r.mu.Unlock()
		if !isNew {
			continue
		}
		fresh++
		if !ok {
			skipped++
			continue
		}

		if err := r.o.deps.Sink.Upsert(ctx, c); err != nil {
			r.mu.Lock()
			unreserve(ps.seen, &ps.accepted, c.CommentID)
			r.mu.Unlock()
			r.writeFailed(c, err)
			continue
		}
		r.stats.Comments.Fetched.Add(1)
		if c.FromID > 0 && r.claimUser(c.FromID) {
			r.sched.Submit(scheduler.NewFetchProfileTask(t.Group, c.FromID))
		}
	}
	r.stats.Comments.Skipped.Add(int64(skipped))

	r.mu.Lock()
	open := budgetLeft(ps.accepted, ps.limit)
	r.mu.Unlock()
	if !open {
		return nil
	}
	pending := append(append([]vk.Cursor(nil), t.Pending...), page.Threads...)
	switch {
	case page.Next != nil && fresh > 0:
		r.sched.Submit(scheduler.NewListCommentsTask(t.Group, t.Post, *page.Next, pending))
	case len(pending) > 0:
		r.sched.Submit(scheduler.NewListCommentsTask(t.Group, t.Post, pending[0], pending[1:]))
	}
	return nil
}

// writeFailed counts a record the sink rejected. The rest of its page
// carries on.
func (r *run) writeFailed(rec vk.Record, err error) {
	r.stats.For(rec.Kind()).Failed.Add(1)
	r.log.WithError(err).WarnWithFields("Failed to store record", map[string]interface{}{
		"kind": string(rec.Kind()),
		"key":  rec.NaturalKey(),
	})
}

// claimUser reports whether userID is seen for the first time this run
func (r *run) claimUser(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[userID]; ok {
		return false
	}
	r.users[userID] = struct{}{}
	return true
}

func (r *run) completeProfile(ctx context.Context, t *scheduler.Task, res *scheduler.Result) error {
	if res.NotFound || res.Profile == nil {
		p := &vk.Profile{UserID: t.UserID, Unavailable: true, CollectedAt: r.o.now().Unix()}
		if err := r.o.deps.Sink.Upsert(ctx, p); err != nil {
			return err
		}
		r.stats.Profiles.Unavailable.Add(1)
		return nil
	}
	if err := r.o.deps.Sink.Upsert(ctx, res.Profile); err != nil {
		return err
	}
	r.stats.Profiles.Fetched.Add(1)
	return nil
}

func (r *run) loadCheckpoint(group string) *checkpoint.Checkpoint {
	if !r.o.cfg.Resume || r.o.deps.Checkpoints == nil {
		return nil
	}
	cp, err := r.o.deps.Checkpoints.Load(group)
	if err != nil {
		r.log.WithError(err).Warn("Ignoring unreadable checkpoint")
		return nil
	}
	return cp
}

func (r *run) saveCheckpoint(cp *checkpoint.Checkpoint) {
	if r.o.deps.Checkpoints == nil {
		return
	}
	if err := r.o.deps.Checkpoints.Save(cp); err != nil {
		r.log.WithError(err).Warn("Failed to save checkpoint")
	}
}

// clearCheckpoints drops the checkpoints of fully listed groups once the
// run has drained. Groups whose listing failed keep theirs for a resume.
func (r *run) clearCheckpoints() {
	if r.o.deps.Checkpoints == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for group, g := range r.groups {
		if !g.listed {
			continue
		}
		if err := r.o.deps.Checkpoints.Delete(group); err != nil {
			r.log.WithError(err).Warn("Failed to delete checkpoint")
		}
	}
}

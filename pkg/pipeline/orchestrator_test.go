package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vkcrawler/internal/scheduler"
	"vkcrawler/pkg/checkpoint"
	errs "vkcrawler/pkg/errors"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/ratelimit"
	"vkcrawler/pkg/retry"
	"vkcrawler/pkg/session"
	"vkcrawler/pkg/storage"
	"vkcrawler/pkg/vk"
)

type fakeFetcher struct {
	posts    func(group string, cur vk.Cursor) (*vk.PostPage, error)
	comments func(post vk.PostRef, cur vk.Cursor) (*vk.CommentPage, error)
	profile  func(userID int64) (*vk.Profile, error)

	calls atomic.Int64

	mu           sync.Mutex
	postCursors  []vk.Cursor
	commentCalls map[vk.PostRef][]vk.Cursor
	profileCalls map[int64]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		commentCalls: make(map[vk.PostRef][]vk.Cursor),
		profileCalls: make(map[int64]int),
	}
}

func (f *fakeFetcher) ListPosts(ctx context.Context, d session.Doer, group string, cur vk.Cursor) (*vk.PostPage, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.postCursors = append(f.postCursors, cur)
	f.mu.Unlock()
	if f.posts == nil {
		return &vk.PostPage{}, nil
	}
	return f.posts(group, cur)
}

func (f *fakeFetcher) ListComments(ctx context.Context, d session.Doer, post vk.PostRef, cur vk.Cursor) (*vk.CommentPage, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.commentCalls[post] = append(f.commentCalls[post], cur)
	f.mu.Unlock()
	if f.comments == nil {
		return &vk.CommentPage{}, nil
	}
	return f.comments(post, cur)
}

func (f *fakeFetcher) FetchProfile(ctx context.Context, d session.Doer, userID int64) (*vk.Profile, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.profileCalls[userID]++
	f.mu.Unlock()
	if f.profile == nil {
		return &vk.Profile{UserID: userID, FirstName: "user"}, nil
	}
	return f.profile(userID)
}

type memSink struct {
	mu      sync.Mutex
	records map[string]vk.Record
	upserts int
	err     error
	// reject fails writes of these keys only
	reject map[string]bool
}

func newMemSink() *memSink {
	return &memSink{records: make(map[string]vk.Record)}
}

func (s *memSink) Upsert(ctx context.Context, rec vk.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.reject[rec.NaturalKey()] {
		return errors.New("constraint failed")
	}
	s.upserts++
	s.records[rec.NaturalKey()] = rec
	return nil
}

func (s *memSink) count(kind vk.EntityKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.Kind() == kind {
			n++
		}
	}
	return n
}

func (s *memSink) get(key string) vk.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[key]
}

type fakeFeatures struct {
	calls int
}

func (f *fakeFeatures) ReadPersisted(ctx context.Context) (*storage.Inventory, error) {
	f.calls++
	return &storage.Inventory{Posts: 4}, nil
}

func testPool(t *testing.T) *session.Pool {
	t.Helper()
	limiter := ratelimit.New(ratelimit.Config{
		MaxInterval:         10 * time.Millisecond,
		BackoffMultiplier:   2,
		TransientMultiplier: 1.5,
		DecayFactor:         0.9,
	}, logger.NewNopLogger())
	f, err := session.NewFactory("https://m.vk.com", time.Second, limiter, logger.NewNopLogger())
	require.NoError(t, err)
	p, err := session.NewPool(session.PoolConfig{
		Size:                   3,
		AcquireTimeout:         time.Second,
		MaxConsecutiveFailures: 50,
		MaxReplacements:        5,
	}, f, limiter, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func testConfig() Config {
	step := &retry.ConstantBackoff{Delay: time.Millisecond}
	return Config{
		Scheduler: scheduler.Config{
			Workers:    4,
			MaxRetries: 2,
			Backoff:    &retry.KindBackoff{RateLimited: step, Transient: step, Default: step},
		},
	}
}

func runCrawl(t *testing.T, cfg Config, deps Deps, targets ...Target) (Snapshot, error) {
	t.Helper()
	if deps.Pool == nil {
		deps.Pool = testPool(t)
	}
	o := New(cfg, deps, logger.NewNopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return o.Run(ctx, targets...)
}

func unbounded(group string) Target {
	return Target{Group: group, MaxPosts: Unlimited, MaxCommentsPerPost: Unlimited}
}

func post(owner, id int64) *vk.Post {
	return &vk.Post{OwnerID: owner, PostID: id, Group: "club1"}
}

func comment(ref vk.PostRef, id, from int64) *vk.Comment {
	return &vk.Comment{OwnerID: ref.OwnerID, PostID: ref.PostID, CommentID: id, FromID: from}
}

func onePage(posts ...*vk.Post) func(string, vk.Cursor) (*vk.PostPage, error) {
	return func(group string, cur vk.Cursor) (*vk.PostPage, error) {
		if !cur.First() {
			return &vk.PostPage{}, nil
		}
		return &vk.PostPage{Posts: posts}, nil
	}
}

func TestTwoPostScenario(t *testing.T) {
	a := vk.PostRef{OwnerID: -1, PostID: 1}
	b := vk.PostRef{OwnerID: -1, PostID: 2}

	f := newFakeFetcher()
	f.posts = onePage(post(-1, 1), post(-1, 2))
	f.comments = func(ref vk.PostRef, cur vk.Cursor) (*vk.CommentPage, error) {
		if ref == a && cur.First() {
			return &vk.CommentPage{
				Comments: []*vk.Comment{comment(a, 10, 100), comment(a, 11, 101), comment(a, 12, 102)},
				Next:     &vk.Cursor{Offset: 3},
			}, nil
		}
		return &vk.CommentPage{}, nil
	}
	sink := newMemSink()

	snap, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink},
		Target{Group: "club1", MaxPosts: 10, MaxCommentsPerPost: 1})
	require.NoError(t, err)

	assert.Equal(t, 2, sink.count(vk.KindPost))
	assert.Equal(t, 1, sink.count(vk.KindComment))
	assert.NotNil(t, sink.get("comment:-1_1_10"))
	assert.Equal(t, 1, sink.count(vk.KindProfile))
	assert.Equal(t, map[int64]int{100: 1}, f.profileCalls)
	assert.Len(t, f.commentCalls[a], 1, "no page is fetched past the ceiling")
	assert.Len(t, f.commentCalls[b], 1)

	assert.NotEmpty(t, snap.RunID)
	assert.Equal(t, int64(2), snap.Posts.Fetched)
	assert.Equal(t, int64(1), snap.Comments.Fetched)
	assert.Equal(t, int64(2), snap.Comments.Skipped)
	assert.Equal(t, int64(1), snap.Profiles.Fetched)
}

func TestNotFoundProfileIsUnavailable(t *testing.T) {
	ref := vk.PostRef{OwnerID: -1, PostID: 1}
	f := newFakeFetcher()
	f.posts = onePage(post(-1, 1))
	f.comments = func(p vk.PostRef, cur vk.Cursor) (*vk.CommentPage, error) {
		if cur.First() {
			return &vk.CommentPage{Comments: []*vk.Comment{comment(ref, 10, 7)}}, nil
		}
		return &vk.CommentPage{}, nil
	}
	f.profile = func(userID int64) (*vk.Profile, error) {
		return nil, errs.NotFound("fetch_profile", "deleted")
	}
	sink := newMemSink()

	snap, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink}, unbounded("club1"))
	require.NoError(t, err)

	rec := sink.get("profile:7")
	require.NotNil(t, rec)
	p := rec.(*vk.Profile)
	assert.True(t, p.Unavailable)
	assert.NotZero(t, p.CollectedAt)
	assert.Zero(t, snap.Profiles.Failed)
	assert.Zero(t, snap.Profiles.Fetched)
	assert.Equal(t, int64(1), snap.Profiles.Unavailable)
	assert.Equal(t, 1, f.profileCalls[7], "not found is not retried")
}

func TestProfilesAreDeduplicated(t *testing.T) {
	f := newFakeFetcher()
	f.posts = onePage(post(-1, 1), post(-1, 2), post(-1, 3))
	f.comments = func(ref vk.PostRef, cur vk.Cursor) (*vk.CommentPage, error) {
		if !cur.First() {
			return &vk.CommentPage{}, nil
		}
		return &vk.CommentPage{Comments: []*vk.Comment{
			comment(ref, 1, 42), comment(ref, 2, 42), comment(ref, 3, 0), comment(ref, 4, -5),
		}}, nil
	}
	sink := newMemSink()

	snap, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink}, unbounded("club1"))
	require.NoError(t, err)

	assert.Equal(t, map[int64]int{42: 1}, f.profileCalls)
	assert.Equal(t, 12, sink.count(vk.KindComment))
	assert.Equal(t, int64(1), snap.Profiles.Fetched)
}

func TestPostBudgetAcrossPages(t *testing.T) {
	f := newFakeFetcher()
	f.posts = func(group string, cur vk.Cursor) (*vk.PostPage, error) {
		base := int64(cur.Offset)
		return &vk.PostPage{
			Posts: []*vk.Post{post(-1, 100-base), post(-1, 99-base)},
			Next:  &vk.Cursor{Offset: cur.Offset + 2},
		}, nil
	}
	sink := newMemSink()

	snap, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink},
		Target{Group: "club1", MaxPosts: 3, MaxCommentsPerPost: 5})
	require.NoError(t, err)

	assert.Equal(t, 3, sink.count(vk.KindPost))
	assert.Equal(t, int64(3), snap.Posts.Fetched)
	assert.Equal(t, int64(1), snap.Posts.Skipped)
	assert.Equal(t, []vk.Cursor{{}, {Offset: 2}}, f.postCursors)
}

func TestListingStopsWhenPageAddsNothing(t *testing.T) {
	f := newFakeFetcher()
	f.posts = func(group string, cur vk.Cursor) (*vk.PostPage, error) {
		return &vk.PostPage{
			Posts: []*vk.Post{post(-1, 1), post(-1, 2)},
			Next:  &vk.Cursor{Offset: cur.Offset + 2},
		}, nil
	}
	sink := newMemSink()

	_, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink}, unbounded("club1"))
	require.NoError(t, err)

	assert.Len(t, f.postCursors, 2)
	assert.Equal(t, 2, sink.count(vk.KindPost))
}

func TestCommentChainFollowsThreads(t *testing.T) {
	ref := vk.PostRef{OwnerID: -1, PostID: 1}
	f := newFakeFetcher()
	f.posts = onePage(post(-1, 1))
	f.comments = func(p vk.PostRef, cur vk.Cursor) (*vk.CommentPage, error) {
		switch cur {
		case vk.Cursor{}:
			return &vk.CommentPage{
				Comments: []*vk.Comment{comment(ref, 1, 0), comment(ref, 2, 0)},
				Next:     &vk.Cursor{Offset: 2},
				Threads:  []vk.Cursor{{Offset: 1, Thread: 1}},
			}, nil
		case vk.Cursor{Offset: 2}:
			return &vk.CommentPage{Comments: []*vk.Comment{comment(ref, 3, 0)}}, nil
		case vk.Cursor{Offset: 1, Thread: 1}:
			return &vk.CommentPage{Comments: []*vk.Comment{comment(ref, 1, 0), comment(ref, 4, 0)}}, nil
		}
		return &vk.CommentPage{}, nil
	}
	sink := newMemSink()

	_, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink}, unbounded("club1"))
	require.NoError(t, err)

	assert.Equal(t, []vk.Cursor{{}, {Offset: 2}, {Offset: 1, Thread: 1}}, f.commentCalls[ref],
		"one page at a time per post")
	assert.Equal(t, 4, sink.count(vk.KindComment))
}

func TestRetriesAndFailuresAreCounted(t *testing.T) {
	var attempts atomic.Int32
	f := newFakeFetcher()
	f.posts = func(group string, cur vk.Cursor) (*vk.PostPage, error) {
		if attempts.Add(1) == 1 {
			return nil, errs.RateLimited("list_posts", 429, "slow down")
		}
		if !cur.First() {
			return &vk.PostPage{}, nil
		}
		return &vk.PostPage{Posts: []*vk.Post{post(-1, 1)}, Next: &vk.Cursor{Offset: 1}}, nil
	}
	f.comments = func(ref vk.PostRef, cur vk.Cursor) (*vk.CommentPage, error) {
		return nil, errs.Fatal("list_comments", "unparseable")
	}
	sink := newMemSink()

	snap, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink}, unbounded("club1"))
	require.NoError(t, err, "failed tasks do not abort the run")

	assert.Equal(t, int64(1), snap.Posts.Retried)
	assert.Equal(t, int64(1), snap.Posts.Fetched)
	assert.Equal(t, int64(1), snap.Comments.Failed)
	assert.Zero(t, snap.Comments.Retried)
}

func TestSinkErrorCountsRecordFailed(t *testing.T) {
	f := newFakeFetcher()
	f.posts = onePage(post(-1, 1))
	sink := newMemSink()
	sink.err = errors.New("disk full")

	snap, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink}, unbounded("club1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Posts.Failed)
	assert.Zero(t, snap.Posts.Fetched)
}

func TestRejectedPostDoesNotStopListing(t *testing.T) {
	f := newFakeFetcher()
	f.posts = func(group string, cur vk.Cursor) (*vk.PostPage, error) {
		switch cur {
		case vk.Cursor{}:
			return &vk.PostPage{
				Posts: []*vk.Post{post(-1, 1), post(-1, 2), post(-1, 3)},
				Next:  &vk.Cursor{Offset: 3},
			}, nil
		case vk.Cursor{Offset: 3}:
			return &vk.PostPage{Posts: []*vk.Post{post(-1, 4), post(-1, 5)}}, nil
		}
		return &vk.PostPage{}, nil
	}
	sink := newMemSink()
	sink.reject = map[string]bool{"post:-1_2": true}

	snap, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink},
		Target{Group: "club1", MaxPosts: 4, MaxCommentsPerPost: 0})
	require.NoError(t, err)

	assert.Equal(t, 4, sink.count(vk.KindPost))
	assert.Nil(t, sink.get("post:-1_2"))
	assert.NotNil(t, sink.get("post:-1_5"), "the rejected post does not use up the budget")
	assert.Equal(t, int64(4), snap.Posts.Fetched)
	assert.Equal(t, int64(1), snap.Posts.Failed)
	assert.Zero(t, snap.Posts.Skipped)
	assert.Equal(t, []vk.Cursor{{}, {Offset: 3}}, f.postCursors)
	assert.Empty(t, f.commentCalls)
}

func TestRejectedCommentDoesNotStopChain(t *testing.T) {
	ref := vk.PostRef{OwnerID: -1, PostID: 1}
	f := newFakeFetcher()
	f.posts = onePage(post(-1, 1))
	f.comments = func(p vk.PostRef, cur vk.Cursor) (*vk.CommentPage, error) {
		switch cur {
		case vk.Cursor{}:
			return &vk.CommentPage{
				Comments: []*vk.Comment{comment(ref, 1, 11), comment(ref, 2, 12), comment(ref, 3, 13)},
				Next:     &vk.Cursor{Offset: 3},
			}, nil
		case vk.Cursor{Offset: 3}:
			return &vk.CommentPage{Comments: []*vk.Comment{comment(ref, 4, 14)}}, nil
		}
		return &vk.CommentPage{}, nil
	}
	sink := newMemSink()
	sink.reject = map[string]bool{"comment:-1_1_2": true}

	snap, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink}, unbounded("club1"))
	require.NoError(t, err)

	assert.Equal(t, 3, sink.count(vk.KindComment))
	assert.Equal(t, int64(3), snap.Comments.Fetched)
	assert.Equal(t, int64(1), snap.Comments.Failed)
	assert.Equal(t, []vk.Cursor{{}, {Offset: 3}}, f.commentCalls[ref])
	assert.Equal(t, map[int64]int{11: 1, 13: 1, 14: 1}, f.profileCalls,
		"no profile is fetched for a comment that was not stored")
}

func TestZeroCommentBudgetCollectsNoComments(t *testing.T) {
	ref := vk.PostRef{OwnerID: -1, PostID: 1}
	f := newFakeFetcher()
	f.posts = onePage(post(-1, 1))
	f.comments = func(p vk.PostRef, cur vk.Cursor) (*vk.CommentPage, error) {
		return &vk.CommentPage{Comments: []*vk.Comment{comment(ref, 1, 11), comment(ref, 2, 12), comment(ref, 3, 13)}}, nil
	}
	sink := newMemSink()

	snap, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink},
		Target{Group: "club1", MaxPosts: 5, MaxCommentsPerPost: 0})
	require.NoError(t, err)

	assert.Equal(t, 1, sink.count(vk.KindPost))
	assert.Zero(t, sink.count(vk.KindComment))
	assert.Zero(t, sink.count(vk.KindProfile))
	assert.Empty(t, f.commentCalls)
	assert.Empty(t, f.profileCalls)
	assert.Zero(t, snap.Comments.Fetched)
}

func TestZeroPostBudgetListsNothing(t *testing.T) {
	f := newFakeFetcher()
	f.posts = onePage(post(-1, 1))
	sink := newMemSink()

	snap, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: sink},
		Target{Group: "club1", MaxPosts: 0, MaxCommentsPerPost: Unlimited})
	require.NoError(t, err)

	assert.Zero(t, f.calls.Load())
	assert.Zero(t, sink.count(vk.KindPost))
	assert.Zero(t, snap.Posts.Fetched)
}

func TestCollectFromDBMakesNoFetches(t *testing.T) {
	f := newFakeFetcher()
	features := &fakeFeatures{}
	cfg := testConfig()
	cfg.CollectFromDB = true

	o := New(cfg, Deps{Fetcher: f, Sink: newMemSink(), Features: features}, logger.NewNopLogger())
	snap, err := o.Run(context.Background(), Target{Group: "club1", MaxPosts: 100, MaxCommentsPerPost: 100})
	require.NoError(t, err)

	assert.Zero(t, f.calls.Load())
	assert.Equal(t, 1, features.calls)
	assert.Zero(t, snap.Posts.Fetched)
}

func TestCollectFromDBNeedsFeatureStage(t *testing.T) {
	cfg := testConfig()
	cfg.CollectFromDB = true
	_, err := New(cfg, Deps{}, logger.NewNopLogger()).Run(context.Background())
	assert.Error(t, err)
}

func TestRunRejectsBadTargets(t *testing.T) {
	deps := Deps{Fetcher: newFakeFetcher(), Sink: newMemSink()}
	_, err := runCrawl(t, testConfig(), deps)
	assert.Error(t, err)
	_, err = runCrawl(t, testConfig(), deps, Target{Group: " / "})
	assert.Error(t, err)
}

func TestDuplicateTargetsAreMerged(t *testing.T) {
	f := newFakeFetcher()
	f.posts = onePage(post(-1, 1))
	_, err := runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: newMemSink()},
		unbounded("club1"), unbounded("/club1/"))
	require.NoError(t, err)
	assert.Len(t, f.postCursors, 1)
}

func TestResumeFromCheckpoint(t *testing.T) {
	cps, err := checkpoint.NewManager(filepath.Join(t.TempDir(), "cp"), logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, cps.Save(&checkpoint.Checkpoint{Group: "club1", Next: vk.Cursor{Offset: 2}, Accepted: 2}))

	f := newFakeFetcher()
	f.posts = func(group string, cur vk.Cursor) (*vk.PostPage, error) {
		base := int64(cur.Offset)
		return &vk.PostPage{
			Posts: []*vk.Post{post(-1, 100-base), post(-1, 99-base)},
			Next:  &vk.Cursor{Offset: cur.Offset + 2},
		}, nil
	}
	sink := newMemSink()
	cfg := testConfig()
	cfg.Resume = true

	snap, err := runCrawl(t, cfg, Deps{Fetcher: f, Sink: sink, Checkpoints: cps},
		Target{Group: "club1", MaxPosts: 3})
	require.NoError(t, err)

	assert.Equal(t, []vk.Cursor{{Offset: 2}}, f.postCursors)
	assert.Equal(t, int64(1), snap.Posts.Fetched)
	assert.Equal(t, int64(1), snap.Posts.Skipped)
	assert.False(t, cps.Exists("club1"), "finished listings drop their checkpoint")
}

func TestFailedListingKeepsCheckpoint(t *testing.T) {
	cps, err := checkpoint.NewManager(filepath.Join(t.TempDir(), "cp"), logger.NewNopLogger())
	require.NoError(t, err)

	f := newFakeFetcher()
	f.posts = func(group string, cur vk.Cursor) (*vk.PostPage, error) {
		if !cur.First() {
			return nil, errs.Fatal("list_posts", "broken page")
		}
		return &vk.PostPage{Posts: []*vk.Post{post(-1, 1)}, Next: &vk.Cursor{Offset: 1}}, nil
	}

	_, err = runCrawl(t, testConfig(), Deps{Fetcher: f, Sink: newMemSink(), Checkpoints: cps},
		unbounded("club1"))
	require.NoError(t, err)

	cp, err := cps.Load("club1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, vk.Cursor{Offset: 1}, cp.Next)
	assert.Equal(t, 1, cp.Accepted)
	assert.False(t, cp.Completed)
}

func TestSkipCompletedGroupOnResume(t *testing.T) {
	cps, err := checkpoint.NewManager(filepath.Join(t.TempDir(), "cp"), logger.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, cps.Save(&checkpoint.Checkpoint{Group: "club1", Accepted: 5, Completed: true}))

	f := newFakeFetcher()
	f.posts = onePage(post(-2, 1))
	cfg := testConfig()
	cfg.Resume = true

	_, err = runCrawl(t, cfg, Deps{Fetcher: f, Sink: newMemSink(), Checkpoints: cps},
		unbounded("club1"), unbounded("club2"))
	require.NoError(t, err)

	assert.Len(t, f.postCursors, 1, "only club2 is listed")
	assert.False(t, cps.Exists("club1"))
	assert.False(t, cps.Exists("club2"))
}

func TestSnapshotFields(t *testing.T) {
	stats := NewRunStats()
	stats.For(vk.KindComment).Fetched.Add(3)
	stats.For(vk.KindProfile).Unavailable.Add(1)

	snap := stats.Snapshot("run-1")
	fields := snap.Fields()
	assert.Equal(t, int64(3), fields["comments_fetched"])
	assert.Equal(t, int64(1), fields["profiles_unavailable"])
	assert.Equal(t, "run-1", snap.RunID)
}

func TestProgressReportsLastRun(t *testing.T) {
	f := newFakeFetcher()
	f.posts = onePage(post(-1, 1), post(-1, 2))
	o := New(testConfig(), Deps{Pool: testPool(t), Fetcher: f, Sink: newMemSink()}, logger.NewNopLogger())
	assert.Zero(t, o.Progress().Posts.Fetched)

	snap, err := o.Run(context.Background(), unbounded("club1"))
	require.NoError(t, err)

	progress := o.Progress()
	assert.Equal(t, snap.RunID, progress.RunID)
	assert.Equal(t, int64(2), progress.Posts.Fetched)
}

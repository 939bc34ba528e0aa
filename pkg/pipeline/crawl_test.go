package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/ratelimit"
	"vkcrawler/pkg/session"
	"vkcrawler/pkg/storage"
	"vkcrawler/pkg/vk"
)

const emptyAJAX = `{"data":[""]}`

func serveFixture(t *testing.T, name string) http.HandlerFunc {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "vk", "testdata", name))
	require.NoError(t, err)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(emptyAJAX))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(data)
	}
}

func TestCrawlAgainstFixtureSite(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/club1", serveFixture(t, "wall.html"))
	mux.HandleFunc("/wall-1_100", serveFixture(t, "post.html"))
	mux.HandleFunc("/id777", serveFixture(t, "profile.html"))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	log := logger.NewNopLogger()
	limiter := ratelimit.New(ratelimit.Config{
		MaxInterval:         10 * time.Millisecond,
		BackoffMultiplier:   2,
		TransientMultiplier: 1.5,
		DecayFactor:         0.9,
	}, log)
	factory, err := session.NewFactory(srv.URL, 5*time.Second, limiter, log)
	require.NoError(t, err)
	pool, err := session.NewPool(session.PoolConfig{
		Size:                   2,
		AcquireTimeout:         time.Second,
		MaxConsecutiveFailures: 10,
		MaxReplacements:        2,
	}, factory, limiter, log)
	require.NoError(t, err)
	defer pool.Close()

	store, err := storage.Open(filepath.Join(t.TempDir(), "vk.sqlite"), log)
	require.NoError(t, err)
	defer store.Close()

	o := New(testConfig(), Deps{
		Pool:    pool,
		Fetcher: vk.NewClient(log),
		Sink:    store,
	}, log)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	snap, err := o.Run(ctx, Target{Group: "club1", MaxPosts: 10, MaxCommentsPerPost: 10})
	require.NoError(t, err)

	assert.Equal(t, int64(2), snap.Posts.Fetched)
	assert.Equal(t, int64(3), snap.Comments.Fetched)
	assert.Equal(t, int64(1), snap.Profiles.Fetched)
	assert.Equal(t, int64(1), snap.Profiles.Unavailable)
	assert.Zero(t, snap.Posts.Failed+snap.Comments.Failed+snap.Profiles.Failed)

	inv, err := store.Inventory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inv.Posts)
	assert.Equal(t, 3, inv.Comments)
	assert.Equal(t, 2, inv.Profiles)
	assert.Equal(t, 1, inv.UnavailableProfiles)
	assert.Equal(t, []vk.PostRef{{OwnerID: -1, PostID: 99}}, inv.PostsWithoutComments)
	assert.Empty(t, inv.UsersWithoutProfiles)

	p, err := store.GetProfile(ctx, 777)
	require.NoError(t, err)
	assert.False(t, p.Unavailable)

	// a second run over the same site changes nothing
	_, err = o.Run(ctx, Target{Group: "club1", MaxPosts: 10, MaxCommentsPerPost: 10})
	require.NoError(t, err)
	again, err := store.Inventory(ctx)
	require.NoError(t, err)
	assert.Equal(t, inv, again)

	// collect-from-db reads the same data without touching the site
	srv.Close()
	cfg := testConfig()
	cfg.CollectFromDB = true
	_, err = New(cfg, Deps{Features: store}, log).Run(ctx)
	require.NoError(t, err)
}

package vk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "vkcrawler/pkg/errors"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/ratelimit"
	"vkcrawler/pkg/session"
)

var fixedNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, Moscow)

// fakeDoer answers every request with the same response and records requests
type fakeDoer struct {
	mu       sync.Mutex
	requests []*session.Request
	body     string
	err      error
}

func (f *fakeDoer) Fetch(ctx context.Context, req *session.Request) (*session.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &session.Response{Status: http.StatusOK, URL: SiteURL + req.Path, Body: []byte(f.body)}, nil
}

func (f *fakeDoer) last() *session.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func fixture(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(data)
}

func ajax(t *testing.T, fragments ...interface{}) string {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{"data": fragments})
	require.NoError(t, err)
	return string(data)
}

func testClient() *Client {
	c := NewClient(logger.NewNopLogger())
	c.now = func() time.Time { return fixedNow }
	return c
}

const morePostsFragment = `<div class="wall_item"><div data-post-id="-1_98"><a href="/wall-1_98" class="PostHeaderTime">today at 8:00 am</a></div>` +
	`<div class="wi_body"><div class="pi_text">Older post</div></div></div>`

func TestListPostsFirstPage(t *testing.T) {
	d := &fakeDoer{body: fixture(t, "wall.html")}
	page, err := testClient().ListPosts(context.Background(), d, "club1", Cursor{})
	require.NoError(t, err)

	req := d.last()
	assert.Equal(t, "/club1", req.Path)
	assert.Nil(t, req.Form)
	assert.Equal(t, opListPosts, req.Op)

	require.Len(t, page.Posts, 2)
	require.NotNil(t, page.Next)
	assert.Equal(t, Cursor{Offset: 2}, *page.Next)

	p := page.Posts[0]
	assert.Equal(t, PostRef{OwnerID: -1, PostID: 100}, p.Ref())
	assert.Equal(t, "club1", p.Group)
	assert.Equal(t, "https://m.vk.com/wall-1_100", p.URL)
	assert.Equal(t, "12 Mar 2024 at 3:15 pm", p.DateText)
	assert.Equal(t, time.Date(2024, time.March, 12, 15, 15, 0, 0, Moscow).Unix(), p.Timestamp)
	assert.Equal(t, "Spring sale #deals with @shop_team\nDetails: https://example.com/sale", p.Text)
	assert.Equal(t, Counters{Likes: 1200, Reposts: 34, Comments: 12, Views: 15000}, p.Counters)
	assert.True(t, p.Flags.Pinned)
	require.NotNil(t, p.Flags.CommentsClosed)
	assert.True(t, *p.Flags.CommentsClosed)
	assert.Equal(t, []string{"https://sun.userapi.com/photo1.jpg"}, p.Attachments.Images)
	assert.Equal(t, []string{"/video-1_55"}, p.Attachments.Videos)
	assert.Equal(t, []string{"https://example.com/out"}, p.Attachments.Outlinks)
	assert.Equal(t, []string{"deals"}, p.TextFeatures.Hashtags)
	assert.Equal(t, []string{"shop_team"}, p.TextFeatures.Mentions)
	assert.Equal(t, fixedNow.Unix(), p.CollectedAt)

	plain := page.Posts[1]
	assert.Equal(t, int64(99), plain.PostID)
	assert.False(t, plain.Flags.Pinned)
	assert.Nil(t, plain.Flags.CommentsClosed)
	assert.Equal(t, 7, plain.Counters.Likes)
	assert.Equal(t, "post:-1_99", plain.NaturalKey())
}

func TestListPostsAjaxPage(t *testing.T) {
	d := &fakeDoer{body: ajax(t, morePostsFragment, 0, nil)}
	page, err := testClient().ListPosts(context.Background(), d, "/club1", Cursor{Offset: 10})
	require.NoError(t, err)

	req := d.last()
	assert.Equal(t, "/club1", req.Path)
	assert.Equal(t, "10", req.Query.Get("offset"))
	assert.Equal(t, "1", req.Query.Get("own"))
	assert.Equal(t, "1", req.Form.Get("_ajax"))
	assert.Equal(t, "group", req.Form.Get("_pstatref"))

	require.Len(t, page.Posts, 1)
	assert.Equal(t, int64(98), page.Posts[0].PostID)
	assert.Equal(t, "https://m.vk.com/wall-1_98", page.Posts[0].URL)
	require.NotNil(t, page.Next)
	assert.Equal(t, 11, page.Next.Offset)
}

func TestListPostsEndOfWall(t *testing.T) {
	tests := map[string]string{
		"empty data":    ajax(t, ""),
		"short payload": ajax(t, "<div></div>"),
		"no posts":      ajax(t, "<div class=\"wall_posts\"><p>Nothing here yet, check back later please</p></div>"),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			page, err := testClient().ListPosts(context.Background(), &fakeDoer{body: body}, "club1", Cursor{Offset: 20})
			require.NoError(t, err)
			assert.Empty(t, page.Posts)
			assert.Nil(t, page.Next)
		})
	}
}

func TestListPostsClassifiesPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
		cur  Cursor
		want errs.Kind
	}{
		{"captcha html", `<form><input name="captcha_sid" value="1"></form>`, Cursor{}, errs.KindRateLimited},
		{"challenge ajax", `{"data":["<a href=\"/challenge.html?x=1\">go</a>"]}`, Cursor{Offset: 10}, errs.KindRateLimited},
		{"malformed ajax", `{"data":["unterminated`, Cursor{Offset: 10}, errs.KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testClient().ListPosts(context.Background(), &fakeDoer{body: tt.body}, "club1", tt.cur)
			require.Error(t, err)
			assert.Equal(t, tt.want, errs.KindOf(err))
		})
	}
}

func TestListPostsPropagatesFetchErrors(t *testing.T) {
	d := &fakeDoer{err: errs.Transient("list_posts", assert.AnError)}
	_, err := testClient().ListPosts(context.Background(), d, "club1", Cursor{})
	assert.True(t, errs.Is(err, errs.KindTransient))

	_, err = testClient().ListPosts(context.Background(), d, " / ", Cursor{})
	assert.True(t, errs.Is(err, errs.KindFatal))
}

func TestListCommentsFirstPage(t *testing.T) {
	d := &fakeDoer{body: fixture(t, "post.html")}
	ref := PostRef{OwnerID: -1, PostID: 100}
	page, err := testClient().ListComments(context.Background(), d, ref, Cursor{})
	require.NoError(t, err)

	assert.Equal(t, "/wall-1_100", d.last().Path)
	assert.Nil(t, d.last().Form)

	require.Len(t, page.Comments, 3)
	assert.Equal(t, []Cursor{{Offset: 1, Thread: 501}}, page.Threads)
	require.NotNil(t, page.Next)
	assert.Equal(t, Cursor{Offset: 3}, *page.Next)

	first := page.Comments[0]
	assert.Equal(t, int64(501), first.CommentID)
	assert.Equal(t, int64(-1), first.OwnerID)
	assert.Equal(t, int64(100), first.PostID)
	assert.Equal(t, int64(777), first.FromID)
	assert.Equal(t, "Ivan Petrov", first.AuthorName)
	assert.Equal(t, "/id777", first.AuthorHref)
	assert.Equal(t, "Great offer! #deals\nsee https://example.com/x", first.Text)
	assert.Equal(t, []string{"deals"}, first.TextFeatures.Hashtags)
	assert.Equal(t, 5, first.Likes)
	assert.Zero(t, first.ReplyTo)
	assert.Equal(t, time.Date(2024, time.June, 15, 9, 5, 0, 0, Moscow).Unix(), first.Timestamp)

	group := page.Comments[1]
	assert.Zero(t, group.FromID, "group authors have no user id")
	assert.Equal(t, int64(501), group.ReplyTo)

	third := page.Comments[2]
	assert.Equal(t, int64(888), third.FromID, "resolved from the page-level reply index")
	assert.Equal(t, fixedNow.Add(-2*time.Hour).Unix(), third.Timestamp)
	assert.Equal(t, "comment:-1_100_503", third.NaturalKey())
}

func TestListCommentsThreadPage(t *testing.T) {
	fragment := `<div id="wall_reply-1_601"><a class="ReplyItem__name" href="/id9">Reply author</a>` +
		`<div class="ReplyItem__body">in thread</div><a class="item_date" href="/wall-1_100?reply=601&thread=501">today at 10:00 am</a></div>` +
		`<a class="RepliesThreadNext__link" href="/wall-1_100?offset=2&reply=501">more</a>`
	d := &fakeDoer{body: ajax(t, fragment)}

	page, err := testClient().ListComments(context.Background(), d, PostRef{OwnerID: -1, PostID: 100}, Cursor{Offset: 1, Thread: 501})
	require.NoError(t, err)

	req := d.last()
	assert.Equal(t, "501", req.Query.Get("reply"))
	assert.Equal(t, "1", req.Query.Get("offset"))
	assert.NotNil(t, req.Form)

	require.Len(t, page.Comments, 1)
	assert.Equal(t, int64(9), page.Comments[0].FromID)
	assert.Equal(t, int64(501), page.Comments[0].ReplyTo)
	assert.Nil(t, page.Threads, "thread pages do not spawn threads")
	require.NotNil(t, page.Next)
	assert.Equal(t, Cursor{Offset: 2, Thread: 501}, *page.Next)
}

func TestFetchProfile(t *testing.T) {
	d := &fakeDoer{body: fixture(t, "profile.html")}
	p, err := testClient().FetchProfile(context.Background(), d, 777)
	require.NoError(t, err)

	assert.Equal(t, "/id777", d.last().Path)
	assert.Equal(t, int64(777), p.UserID)
	assert.Equal(t, "ivan.p", p.ScreenName)
	assert.Equal(t, "Ivan", p.FirstName)
	assert.Equal(t, "Petrov", p.LastName)
	assert.Equal(t, 2, p.Sex)
	assert.Equal(t, "Moscow", p.City)
	assert.Equal(t, "Russia", p.Country)
	assert.Equal(t, "busy [sic]", p.Status)
	assert.True(t, p.Online)
	assert.False(t, p.Verified)
	assert.Equal(t, int64(1700000000), p.LastSeen)
	assert.Equal(t, "https://sun.userapi.com/ava.jpg", p.Photo)
	assert.Equal(t, int64(42), p.Followers)
	assert.Equal(t, int64(120), p.Friends)
	assert.Equal(t, int64(7), p.Subscriptions)
	assert.Equal(t, int64(33), p.Counters["photos"])
	assert.Equal(t, int64(4), p.Counters["videos"])
	assert.False(t, p.Unavailable)

	var bundle map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(p.Bundle, &bundle))
	assert.Contains(t, bundle, "users.get")
	assert.Contains(t, bundle, "users.getSubscriptions")
}

func TestFetchProfileNotFound(t *testing.T) {
	bodies := map[string]string{
		"no prefetch":     `<html><body>This profile is private</body></html>`,
		"empty users.get": `<script>var x = {"apiPrefetchCache":[{"method":"users.get","response":[]}]};</script>`,
		"empty cache":     `<script>var x = {"apiPrefetchCache":[]};</script>`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := testClient().FetchProfile(context.Background(), &fakeDoer{body: body}, 5)
			assert.True(t, errs.Is(err, errs.KindNotFound), "got %v", err)
		})
	}
}

func TestFetchProfileMalformed(t *testing.T) {
	bodies := []string{
		`<script>{"apiPrefetchCache":[{"method":"users.get"`,
		`<script>{"apiPrefetchCache":[{"method":"users.get","response":{"error":1}}]}</script>`,
	}
	for _, body := range bodies {
		_, err := testClient().FetchProfile(context.Background(), &fakeDoer{body: body}, 5)
		assert.True(t, errs.Is(err, errs.KindFatal), "got %v", err)
	}

	_, err := testClient().FetchProfile(context.Background(), &fakeDoer{}, 0)
	assert.True(t, errs.Is(err, errs.KindFatal))
}

func TestExtractJSONArray(t *testing.T) {
	s := `x = [1, "a]\"b", [2, 3]], tail]`
	got, ok := extractJSONArray(s, 4)
	require.True(t, ok)
	assert.Equal(t, `[1, "a]\"b", [2, 3]]`, got)

	_, ok = extractJSONArray(`[1, [2`, 0)
	assert.False(t, ok)
}

func TestClientOverSession(t *testing.T) {
	wall := fixture(t, "wall.html")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/club1" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(wall))
		case r.URL.Path == "/club1" && r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []string{morePostsFragment}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	limiter := ratelimit.New(ratelimit.Config{
		MaxInterval:         time.Second,
		BackoffMultiplier:   2,
		TransientMultiplier: 1.5,
		DecayFactor:         0.9,
	}, logger.NewNopLogger())
	factory, err := session.NewFactory(server.URL, 5*time.Second, limiter, logger.NewNopLogger())
	require.NoError(t, err)
	s, err := factory.New()
	require.NoError(t, err)

	c := testClient()
	first, err := c.ListPosts(context.Background(), s, "club1", Cursor{})
	require.NoError(t, err)
	require.Len(t, first.Posts, 2)

	more, err := c.ListPosts(context.Background(), s, "club1", *first.Next)
	require.NoError(t, err)
	require.Len(t, more.Posts, 1)
	assert.Equal(t, int64(98), more.Posts[0].PostID)

	_, err = c.FetchProfile(context.Background(), s, 1)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

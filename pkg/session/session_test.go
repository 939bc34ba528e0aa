package session

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vkcrawler/pkg/auth"
	errs "vkcrawler/pkg/errors"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/ratelimit"
)

func testLimiter(cooldown time.Duration) *ratelimit.Adaptive {
	return ratelimit.New(ratelimit.Config{
		MaxInterval:         time.Second,
		BackoffMultiplier:   2,
		TransientMultiplier: 1.5,
		DecayFactor:         0.9,
		Cooldown:            cooldown,
	}, logger.NewNopLogger())
}

func testFactory(t *testing.T, baseURL string, opts ...FactoryOption) *Factory {
	t.Helper()
	f, err := NewFactory(baseURL, 5*time.Second, testLimiter(0), logger.NewNopLogger(), opts...)
	require.NoError(t, err)
	return f
}

func TestFetchSendsFingerprint(t *testing.T) {
	requests := make(chan *http.Request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.Clone(context.Background())
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	s, err := testFactory(t, server.URL, WithSeed(1)).New()
	require.NoError(t, err)

	resp, err := s.Fetch(context.Background(), &Request{Path: "/club1", Query: url.Values{"from": {"x"}}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "<html>ok</html>", string(resp.Body))

	got := <-requests
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/club1", got.URL.Path)
	assert.Equal(t, "x", got.URL.Query().Get("from"))
	assert.Contains(t, got.Header.Get("User-Agent"), "Mozilla/5.0")
	assert.Equal(t, "document", got.Header.Get("Sec-Fetch-Dest"))

	fp, err := got.Cookie("remixmvk-fp")
	require.NoError(t, err)
	assert.Len(t, fp.Value, 32)
	lang, err := got.Cookie("remixlang")
	require.NoError(t, err)
	assert.Equal(t, "3", lang.Value)
	_, err = got.Cookie("remixsid")
	assert.ErrorIs(t, err, http.ErrNoCookie)
}

func TestFetchPostsForm(t *testing.T) {
	type seen struct {
		method, offset, contentType, requestedWith string
		form                                       url.Values
	}
	requests := make(chan seen, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		requests <- seen{
			method:        r.Method,
			offset:        r.URL.Query().Get("offset"),
			contentType:   r.Header.Get("Content-Type"),
			requestedWith: r.Header.Get("X-Requested-With"),
			form:          form,
		}
		_, _ = w.Write([]byte(`{"data":[""]}`))
	}))
	defer server.Close()

	s, err := testFactory(t, server.URL).New()
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), &Request{
		Path:  "/club1",
		Query: url.Values{"offset": {"10"}},
		Form:  url.Values{"_ajax": {"1"}},
	})
	require.NoError(t, err)
	got := <-requests
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "10", got.offset)
	assert.Equal(t, "1", got.form.Get("_ajax"))
	assert.Equal(t, "application/x-www-form-urlencoded", got.contentType)
	assert.Equal(t, "XMLHttpRequest", got.requestedWith)
}

func TestFetchClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   errs.Kind
	}{
		{http.StatusTooManyRequests, errs.KindRateLimited},
		{http.StatusForbidden, errs.KindRateLimited},
		{http.StatusNotFound, errs.KindNotFound},
		{http.StatusBadGateway, errs.KindTransient},
		{http.StatusBadRequest, errs.KindFatal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			s, err := testFactory(t, server.URL).New()
			require.NoError(t, err)

			_, err = s.Fetch(context.Background(), &Request{Op: "list_posts", Path: "/club1"})
			require.Error(t, err)
			assert.Equal(t, tt.want, errs.KindOf(err))
			assert.Contains(t, err.Error(), "list_posts")
		})
	}
}

func TestFetchNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := server.URL
	server.Close()

	s, err := testFactory(t, base).New()
	require.NoError(t, err)

	_, err = s.Fetch(context.Background(), &Request{Path: "/"})
	assert.True(t, errs.Is(err, errs.KindTransient), "got %v", err)
}

func TestFetchHonoursCancellationWhilePacing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	}))
	defer server.Close()

	f, err := NewFactory(server.URL, time.Second, testLimiter(time.Hour), logger.NewNopLogger())
	require.NoError(t, err)
	s, err := f.New()
	require.NoError(t, err)
	s.limiter.Report(s, ratelimit.OutcomeRateLimited)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Fetch(ctx, &Request{Path: "/"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFactoryAssignsAccountsRoundRobin(t *testing.T) {
	cookies := make(chan string, 3)
	agents := make(chan string, 3)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("remixsid")
		if err == nil {
			cookies <- c.Value
		} else {
			cookies <- ""
		}
		agents <- r.Header.Get("User-Agent")
	}))
	defer server.Close()

	f := testFactory(t, server.URL, WithAccounts([]*auth.Account{
		{Name: "a", RemixSID: "sid-a", UserAgent: "AgentA/1"},
		{Name: "b", RemixSID: "sid-b"},
	}))

	var names []string
	for i := 0; i < 3; i++ {
		s, err := f.New()
		require.NoError(t, err)
		names = append(names, s.Account())
		_, err = s.Fetch(context.Background(), &Request{Path: "/"})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a", "b", "a"}, names)
	assert.Equal(t, "sid-a", <-cookies)
	assert.Equal(t, "sid-b", <-cookies)
	assert.Equal(t, "sid-a", <-cookies)
	assert.Equal(t, "AgentA/1", <-agents)
	assert.Contains(t, <-agents, "Mozilla/5.0")
}

func TestFingerprintsDiffer(t *testing.T) {
	f := testFactory(t, "https://m.vk.com", WithSeed(42))
	a, err := f.New()
	require.NoError(t, err)
	b, err := f.New()
	require.NoError(t, err)

	assert.NotEqual(t, a.ID(), b.ID())
	u, _ := url.Parse("https://m.vk.com/")
	fpA := cookieValue(a.client.Jar.Cookies(u), "remixmvk-fp")
	fpB := cookieValue(b.client.Jar.Cookies(u), "remixmvk-fp")
	assert.Len(t, fpA, 32)
	assert.NotEqual(t, fpA, fpB)
}

func cookieValue(cookies []*http.Cookie, name string) string {
	for _, c := range cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestNewFactoryRejectsBadURL(t *testing.T) {
	_, err := NewFactory("m.vk.com", time.Second, testLimiter(0), nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	f, err := NewFactory("https://m.vk.com", time.Second, testLimiter(time.Hour), logger.NewNopLogger())
	require.NoError(t, err)
	s, err := f.New()
	require.NoError(t, err)

	now := time.Now()
	assert.Equal(t, Healthy, s.Health(now))
	s.limiter.Report(s, ratelimit.OutcomeRateLimited)
	assert.Equal(t, Cooling, s.Health(now))

	assert.False(t, s.record(ratelimit.OutcomeTransient, 2))
	assert.True(t, s.record(ratelimit.OutcomeFatal, 2))
	assert.Equal(t, Dead, s.Health(now))
	assert.False(t, s.record(ratelimit.OutcomeFatal, 2), "already dead")
}

func TestRecordIgnoresAborted(t *testing.T) {
	f, err := NewFactory("https://m.vk.com", time.Second, testLimiter(time.Hour), logger.NewNopLogger())
	require.NoError(t, err)
	s, err := f.New()
	require.NoError(t, err)

	s.record(ratelimit.OutcomeTransient, 3)
	s.record(ratelimit.OutcomeAborted, 3)
	assert.Equal(t, 1, s.ConsecutiveFailures(), "aborted requests neither fail nor reset")
}

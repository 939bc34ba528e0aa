package session

import (
	"fmt"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"vkcrawler/pkg/auth"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/ratelimit"
)

var (
	screenSizes = [][2]int{
		{1920, 1080}, {1680, 1050}, {1536, 864}, {1440, 900},
		{1366, 768}, {2560, 1440}, {1600, 900}, {1280, 720},
	}
	pixelRatios = []string{"1", "1.25", "1.5", "1.75", "2"}
	browsers    = []string{
		"Chrome/127.0.0.0", "Chrome/126.0.0.0", "Chrome/125.0.0.0",
		"Firefox/128.0", "Firefox/127.0", "Safari/17.5",
	}
	platforms = []string{
		"Windows NT 10.0; Win64; x64",
		"Windows NT 11.0; Win64; x64",
		"Macintosh; Intel Mac OS X 10_15_7",
		"X11; Linux x86_64",
	}
)

// fingerprint is the per-session browser disguise
type fingerprint struct {
	userAgent string
	cookies   []*http.Cookie
}

func pick[T any](rnd *rand.Rand, items []T) T {
	return items[rnd.Intn(len(items))]
}

func randomBits(rnd *rand.Rand, n int, alphabet string) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[rnd.Intn(len(alphabet))])
	}
	return b.String()
}

func userAgentFor(browser, platform string) string {
	switch {
	case strings.HasPrefix(browser, "Chrome"):
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) %s Safari/537.36", platform, browser)
	case strings.HasPrefix(browser, "Firefox"):
		return fmt.Sprintf("Mozilla/5.0 (%s; rv:128.0) Gecko/20100101 %s", platform, browser)
	default:
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15", platform)
	}
}

func newFingerprint(rnd *rand.Rand) fingerprint {
	size := pick(rnd, screenSizes)
	w, h := size[0], size[1]
	long := w
	if h > long {
		long = h
	}

	values := map[string]string{
		"remixua": fmt.Sprintf("%d%%7C%d%%7C%d%%7C%d",
			50+rnd.Intn(11), 600+rnd.Intn(101), 300+rnd.Intn(101), 170000000+rnd.Intn(10000001)),
		"remixscreen_width":      strconv.Itoa(w),
		"remixscreen_height":     strconv.Itoa(h),
		"remixscreen_dpr":        pick(rnd, pixelRatios),
		"remixscreen_depth":      pick(rnd, []string{"24", "30", "32"}),
		"remixscreen_winzoom":    "1",
		"remixscreen_orient":     "1",
		"remixdark_color_scheme": pick(rnd, []string{"0", "1"}),
		"remixcolor_scheme_mode": pick(rnd, []string{"auto", "dark", "light"}),
		"remixrt":                "0",
		"remixsf":                "1",
		"remixdt":                "0",
		"remixlang":              "3",
		"remixsuc":               fmt.Sprintf("%d%%3A", 1+rnd.Intn(9)),
		"remixmdevice":           fmt.Sprintf("%d/%d/1/!!-!!!!!!!!/%d", w, h, long),
		"remixvkcom":             "1",
		"remixff":                randomBits(rnd, 14, "01"),
		"remixmvk-fp":            randomBits(rnd, 32, "0123456789abcdef"),
		"adblock":                pick(rnd, []string{"0", "1"}),
	}

	cookies := make([]*http.Cookie, 0, len(values))
	for name, value := range values {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}

	return fingerprint{
		userAgent: userAgentFor(pick(rnd, browsers), pick(rnd, platforms)),
		cookies:   cookies,
	}
}

func baseHeaders(base *url.URL, userAgent string) http.Header {
	origin := base.Scheme + "://" + base.Host
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Sec-GPC", "1")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("DNT", "1")
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-cache")
	h.Set("Origin", origin)
	h.Set("Referer", origin)
	return h
}

// Factory creates sessions with fresh fingerprints. Stored accounts are
// handed out round-robin; without accounts sessions are anonymous.
type Factory struct {
	base      *url.URL
	timeout   time.Duration
	limiter   *ratelimit.Adaptive
	accounts  []*auth.Account
	transport http.RoundTripper
	log       logger.Logger

	mu          sync.Mutex
	rnd         *rand.Rand
	nextID      int
	nextAccount int
}

// FactoryOption customizes a Factory
type FactoryOption func(*Factory)

// WithAccounts assigns logged-in accounts to new sessions
func WithAccounts(accounts []*auth.Account) FactoryOption {
	return func(f *Factory) { f.accounts = accounts }
}

// WithTransport overrides the HTTP transport, mainly for tests
func WithTransport(rt http.RoundTripper) FactoryOption {
	return func(f *Factory) { f.transport = rt }
}

// WithSeed makes fingerprints reproducible
func WithSeed(seed int64) FactoryOption {
	return func(f *Factory) { f.rnd = rand.New(rand.NewSource(seed)) }
}

// NewFactory creates a session factory for baseURL
func NewFactory(baseURL string, timeout time.Duration, limiter *ratelimit.Adaptive, log logger.Logger, opts ...FactoryOption) (*Factory, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	f := &Factory{
		base:    base,
		timeout: timeout,
		limiter: limiter,
		log:     log,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// New creates a session
func (f *Factory) New() (*Session, error) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	fp := newFingerprint(f.rnd)
	var account *auth.Account
	if len(f.accounts) > 0 {
		account = f.accounts[f.nextAccount%len(f.accounts)]
		f.nextAccount++
	}
	f.mu.Unlock()

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	cookies := fp.cookies
	userAgent := fp.userAgent
	name := ""
	if account != nil {
		name = account.Name
		cookies = append(cookies, &http.Cookie{Name: "remixsid", Value: account.RemixSID, Path: "/"})
		if account.UserAgent != "" {
			userAgent = account.UserAgent
		}
	}
	jar.SetCookies(f.base, cookies)

	client := &http.Client{Jar: jar, Timeout: f.timeout}
	if f.transport != nil {
		client.Transport = f.transport
	}

	f.log.DebugWithFields("Session created", map[string]interface{}{
		"session_id": id,
		"account":    name,
		"user_agent": userAgent,
	})

	return &Session{
		id:      id,
		account: name,
		base:    f.base,
		client:  client,
		header:  baseHeaders(f.base, userAgent),
		pacing:  f.limiter.NewPacing(),
		limiter: f.limiter,
		log:     f.log,
	}, nil
}

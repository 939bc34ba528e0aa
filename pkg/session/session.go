package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	errs "vkcrawler/pkg/errors"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/ratelimit"
	"vkcrawler/pkg/retry"
)

// maxBodySize caps how much of a response is buffered
const maxBodySize = 16 << 20

// Health is the pool-visible state of a session
type Health int

const (
	Healthy Health = iota
	Cooling
	Dead
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Cooling:
		return "cooling"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Request is one call against the remote site. A non-nil Form turns it into
// an AJAX POST.
type Request struct {
	// Op names the logical operation in classified errors
	Op     string
	Method string
	Path   string
	Query  url.Values
	Form   url.Values
}

// Response is a fully buffered 2xx/3xx response
type Response struct {
	Status int
	URL    string
	Body   []byte
}

// Doer issues a request. *Session implements it.
type Doer interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// Session is one transport context: its own cookie jar, browser fingerprint
// and pacing state. A session is used by at most one worker at a time.
type Session struct {
	id      int
	account string
	base    *url.URL
	client  *http.Client
	header  http.Header
	pacing  *ratelimit.Pacing
	limiter *ratelimit.Adaptive
	log     logger.Logger

	mu       sync.Mutex
	failures int
	dead     bool

	// parkedCooling is set while the session sits idle in a cooldown.
	// Guarded by the pool's mutex.
	parkedCooling bool
}

// ID returns the pool-unique session number
func (s *Session) ID() int { return s.id }

// Account returns the name of the logged-in account, empty when anonymous
func (s *Session) Account() string { return s.account }

// Pacing exposes the session's pacing state to the rate limiter
func (s *Session) Pacing() *ratelimit.Pacing { return s.pacing }

// Health reports the session state at t
func (s *Session) Health(t time.Time) Health {
	s.mu.Lock()
	dead := s.dead
	s.mu.Unlock()
	if dead {
		return Dead
	}
	if s.pacing.Cooling(t) {
		return Cooling
	}
	return Healthy
}

// record updates the consecutive failure count and reports whether the
// session just crossed the death threshold.
func (s *Session) record(o ratelimit.Outcome, maxFailures int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead || o == ratelimit.OutcomeAborted {
		return false
	}
	if !o.Failure() {
		s.failures = 0
		return false
	}
	s.failures++
	if maxFailures > 0 && s.failures >= maxFailures {
		s.dead = true
		return true
	}
	return false
}

// ConsecutiveFailures returns the current failure streak
func (s *Session) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Close releases idle connections held by the session's transport
func (s *Session) Close() {
	s.client.CloseIdleConnections()
}

// Fetch waits for the session's pacing slot, performs the request and
// classifies the outcome.
func (s *Session) Fetch(ctx context.Context, req *Request) (*Response, error) {
	op := req.Op
	if op == "" {
		op = "fetch"
	}

	if err := retry.Wait(ctx, s.limiter.Acquire(s)); err != nil {
		return nil, err
	}

	target := s.base.ResolveReference(&url.URL{Path: req.Path, RawQuery: req.Query.Encode()})

	method := req.Method
	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
		if method == "" {
			method = http.MethodPost
		}
	}
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, errs.Fatal(op, fmt.Sprintf("failed to build request: %v", err))
	}
	for k, v := range s.header {
		httpReq.Header[k] = v
	}
	if req.Form != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Transient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Transient(op, fmt.Errorf("failed to read body: %w", err))
	}

	s.log.DebugWithFields("HTTP request completed", map[string]interface{}{
		"session_id":  s.id,
		"method":      method,
		"path":        req.Path,
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	})

	switch kind := errs.ClassifyStatus(resp.StatusCode); kind {
	case "":
		return &Response{Status: resp.StatusCode, URL: resp.Request.URL.String(), Body: data}, nil
	case errs.KindRateLimited:
		return nil, errs.RateLimited(op, resp.StatusCode, http.StatusText(resp.StatusCode))
	case errs.KindNotFound:
		return nil, &errs.Error{Kind: kind, Op: op, Code: resp.StatusCode, Message: req.Path}
	default:
		return nil, &errs.Error{Kind: kind, Op: op, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
}

package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	errs "vkcrawler/pkg/errors"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/session"
)

// challengeMarkers appear on captcha and bot-check pages
var challengeMarkers = []string{"captcha_sid", "/challenge.html", "captcha.php"}

// Client fetches and parses m.vk.com pages through a borrowed session. It
// holds no transport state of its own and is safe for concurrent use.
type Client struct {
	log logger.Logger
	now func() time.Time
}

// NewClient creates a client
func NewClient(log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		log: log.WithField("component", "vk_client"),
		now: time.Now,
	}
}

// ListPosts fetches one page of a community wall
func (c *Client) ListPosts(ctx context.Context, d session.Doer, group string, cur Cursor) (*PostPage, error) {
	if strings.Trim(group, "/ ") == "" {
		return nil, errs.Fatal(opListPosts, "empty group")
	}

	body, err := c.fetch(ctx, d, pageRequest(opListPosts, GroupPath(group), cur))
	if err != nil {
		return nil, err
	}
	doc, err := parseHTML(opListPosts, body)
	if err != nil {
		return nil, err
	}

	posts := parsePosts(doc, group, c.now())
	page := &PostPage{Posts: posts, Next: nextCursor(cur, len(posts), len(body))}

	c.log.DebugWithFields("Posts page parsed", map[string]interface{}{
		"group":  group,
		"offset": cur.Offset,
		"posts":  len(posts),
		"bytes":  len(body),
		"more":   page.Next != nil,
	})
	return page, nil
}

// ListComments fetches one page of a post's comments, or of one reply
// thread when cur.Thread is set.
func (c *Client) ListComments(ctx context.Context, d session.Doer, post PostRef, cur Cursor) (*CommentPage, error) {
	body, err := c.fetch(ctx, d, pageRequest(opListComments, WallPath(post), cur))
	if err != nil {
		return nil, err
	}
	doc, err := parseHTML(opListComments, body)
	if err != nil {
		return nil, err
	}

	comments, threads := parseComments(doc, post, c.now())
	page := &CommentPage{Comments: comments, Next: nextCursor(cur, len(comments), len(body))}
	if cur.Thread == 0 {
		page.Threads = threads
	}

	c.log.DebugWithFields("Comments page parsed", map[string]interface{}{
		"post":     post.String(),
		"offset":   cur.Offset,
		"thread":   cur.Thread,
		"comments": len(comments),
		"threads":  len(page.Threads),
		"more":     page.Next != nil,
	})
	return page, nil
}

// FetchProfile fetches a user's profile. Pages without profile data yield
// a NotFound error.
func (c *Client) FetchProfile(ctx context.Context, d session.Doer, userID int64) (*Profile, error) {
	if userID <= 0 {
		return nil, errs.Fatal(opFetchProfile, fmt.Sprintf("invalid user id %d", userID))
	}

	body, err := c.fetch(ctx, d, &session.Request{Op: opFetchProfile, Path: ProfilePath(userID)})
	if err != nil {
		return nil, err
	}

	p, err := parseProfile(body, userID, c.now())
	switch {
	case errors.Is(err, errNoPrefetch), errors.Is(err, errNoUser):
		return nil, errs.NotFound(opFetchProfile, fmt.Sprintf("profile %d: %v", userID, err))
	case err != nil:
		return nil, errs.Wrap(errs.KindFatal, opFetchProfile, err)
	}

	c.log.DebugWithFields("Profile parsed", map[string]interface{}{
		"user_id":  userID,
		"counters": len(p.Counters),
	})
	return p, nil
}

// fetch issues req and returns the page HTML, unwrapping AJAX payloads.
// Challenge pages are reported as RateLimited.
func (c *Client) fetch(ctx context.Context, d session.Doer, req *session.Request) (string, error) {
	resp, err := d.Fetch(ctx, req)
	if err != nil {
		return "", err
	}

	body := string(resp.Body)
	if isChallenge(body, resp.URL) {
		c.log.WarnWithFields("Challenge page received", map[string]interface{}{
			"op":   req.Op,
			"path": req.Path,
			"url":  resp.URL,
		})
		return "", errs.RateLimited(req.Op, resp.Status, "captcha challenge")
	}

	if req.Form == nil {
		return body, nil
	}
	html, err := unwrapAJAX(body)
	if err != nil {
		preview := body
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.log.ErrorWithFields("Malformed AJAX payload", map[string]interface{}{
			"op":           req.Op,
			"path":         req.Path,
			"body_preview": preview,
		})
		return "", errs.Wrap(errs.KindFatal, req.Op, err)
	}
	return html, nil
}

func isChallenge(body, finalURL string) bool {
	if strings.Contains(finalURL, "/challenge.html") {
		return true
	}
	for _, m := range challengeMarkers {
		if strings.Contains(body, m) {
			return true
		}
	}
	return false
}

// unwrapAJAX extracts the HTML fragments from a {"data":[...]} payload.
// Payloads that are not JSON objects are returned as is.
func unwrapAJAX(payload string) (string, error) {
	t := strings.TrimSpace(payload)
	if !strings.HasPrefix(t, "{") {
		return t, nil
	}

	var envelope struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(t), &envelope); err != nil {
		return "", fmt.Errorf("failed to decode ajax payload: %w", err)
	}

	var b strings.Builder
	for _, item := range envelope.Data {
		var s string
		if json.Unmarshal(item, &s) == nil {
			b.WriteString(s)
		}
	}
	return b.String(), nil
}

func parseHTML(op, body string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindFatal, op, fmt.Errorf("failed to parse html: %w", err))
	}
	return doc, nil
}

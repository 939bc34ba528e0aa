package vk

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"vkcrawler/pkg/session"
)

const (
	// SiteURL is the canonical origin used for post permalinks
	SiteURL = "https://m.vk.com"

	// minPagePayload is the shortest AJAX payload that can hold a page
	minPagePayload = 50
	// minThreadPayload is the same bound for reply-thread pages
	minThreadPayload = 30

	opListPosts    = "list_posts"
	opListComments = "list_comments"
	opFetchProfile = "fetch_profile"
)

// GroupPath returns the wall path of a community slug such as "club1" or "/durov"
func GroupPath(group string) string {
	return "/" + strings.Trim(group, "/ ")
}

// WallPath returns the page path of a single post
func WallPath(ref PostRef) string {
	return fmt.Sprintf("/wall%d_%d", ref.OwnerID, ref.PostID)
}

// ProfilePath returns the profile page path of a user
func ProfilePath(userID int64) string {
	if userID < 0 {
		userID = -userID
	}
	return fmt.Sprintf("/id%d", userID)
}

func ajaxForm() url.Values {
	return url.Values{"_ajax": {"1"}, "_pstatref": {"group"}}
}

// pageRequest builds the request for one page of a listing: a plain GET for
// the first page, an AJAX POST with offset (and reply thread) afterwards.
func pageRequest(op, path string, cur Cursor) *session.Request {
	if cur.First() {
		return &session.Request{Op: op, Path: path}
	}
	q := url.Values{
		"offset": {strconv.Itoa(cur.Offset)},
		"own":    {"1"},
	}
	if cur.Thread != 0 {
		q.Set("reply", strconv.FormatInt(cur.Thread, 10))
	}
	return &session.Request{Op: op, Path: path, Query: q, Form: ajaxForm()}
}

// nextCursor advances cur past a page of n items. It returns nil when the
// page was empty or its payload too short to continue.
func nextCursor(cur Cursor, n, payloadLen int) *Cursor {
	minLen := minPagePayload
	if cur.Thread != 0 {
		minLen = minThreadPayload
	}
	if n == 0 || (!cur.First() && payloadLen < minLen) {
		return nil
	}
	return &Cursor{Offset: cur.Offset + n, Thread: cur.Thread}
}

package vk

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	replyBlockIDRe = regexp.MustCompile(`^wall_reply(-?\d+)_(\d+)$`)
	replyToRe      = regexp.MustCompile(`Replies\.replyTo\([^,]*,\s*-?\d+\s*,\s*(\d+)\s*,\s*(-?\d+)\s*\)`)
	imageStatusRe  = regexp.MustCompile(`ImageStatus\.open\(\{[^}]*"user_id"\s*:\s*(\d+)`)
	authorIDRe     = regexp.MustCompile(`^/id(\d+)$`)
)

// parseComments extracts comments and reply-thread continuation links from
// a post page, an AJAX comments page or a thread page.
func parseComments(doc *goquery.Document, ref PostRef, now time.Time) ([]*Comment, []Cursor) {
	pageUIDs := replyAuthors(scriptText(doc.Selection))

	var comments []*Comment
	seen := make(map[int64]bool)
	doc.Find(`[id^="wall_reply"]`).Each(func(_ int, block *goquery.Selection) {
		m := replyBlockIDRe.FindStringSubmatch(block.AttrOr("id", ""))
		if m == nil {
			return
		}
		cid, _ := strconv.ParseInt(m[2], 10, 64)
		if cid == 0 || seen[cid] {
			return
		}
		seen[cid] = true

		c := parseComment(block, ref, cid, now)
		if c.FromID == 0 {
			c.FromID = pageUIDs[cid]
		}
		comments = append(comments, c)
	})

	return comments, parseThreadLinks(doc)
}

func parseComment(block *goquery.Selection, ref PostRef, cid int64, now time.Time) *Comment {
	c := &Comment{
		OwnerID:     ref.OwnerID,
		PostID:      ref.PostID,
		CommentID:   cid,
		CollectedAt: now.Unix(),
	}

	author := block.Find("a.ReplyItem__name[href]").First()
	if author.Length() == 0 {
		author = block.Find(`.ReplyItem__header a[href^="/"]`).First()
	}
	c.AuthorHref = author.AttrOr("href", "")
	c.AuthorName = textOf(author)
	c.FromID = commentAuthorID(block, c.AuthorHref)

	body := block.Find(".ReplyItem__body").First()
	c.Text = textOf(body)
	c.TextFeatures = ExtractTextFeatures(c.Text)
	c.Attachments = extractAttachments(body)

	date := block.Find("a.item_date").First()
	c.DateText = textOf(date)
	c.Timestamp = NormalizeDate(c.DateText, now)
	if href, ok := date.Attr("href"); ok {
		if u, err := url.Parse(href); err == nil {
			c.ReplyTo, _ = strconv.ParseInt(u.Query().Get("thread"), 10, 64)
		}
	}

	c.Likes = ToIntSafe(block.Find(".ReplyItem__like").First().Text())
	return c
}

// commentAuthorID resolves the commenter's user id from the reply button
// handler, the author link, or the avatar status handler, in that order.
func commentAuthorID(block *goquery.Selection, authorHref string) int64 {
	handlers := scriptText(block)
	if m := replyToRe.FindStringSubmatch(handlers); m != nil {
		uid, _ := strconv.ParseInt(m[2], 10, 64)
		return uid
	}
	if m := authorIDRe.FindStringSubmatch(authorHref); m != nil {
		uid, _ := strconv.ParseInt(m[1], 10, 64)
		return uid
	}
	if m := imageStatusRe.FindStringSubmatch(handlers); m != nil {
		uid, _ := strconv.ParseInt(m[1], 10, 64)
		return uid
	}
	return 0
}

// replyAuthors indexes comment id -> author id from reply button handlers
func replyAuthors(handlers string) map[int64]int64 {
	idx := make(map[int64]int64)
	for _, m := range replyToRe.FindAllStringSubmatch(handlers, -1) {
		cid, _ := strconv.ParseInt(m[1], 10, 64)
		uid, _ := strconv.ParseInt(m[2], 10, 64)
		if uid != 0 {
			idx[cid] = uid
		}
	}
	return idx
}

// scriptText concatenates inline handler attributes and script bodies under
// sel, which is where m.vk.com keeps author ids.
func scriptText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.AddSelection(sel.Find("*")).Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			for _, a := range n.Attr {
				if strings.HasPrefix(a.Key, "on") || strings.HasPrefix(a.Key, "data-") {
					b.WriteString(a.Val)
					b.WriteByte('\n')
				}
			}
		}
		if goquery.NodeName(s) == "script" {
			b.WriteString(s.Text())
			b.WriteByte('\n')
		}
	})
	return b.String()
}

func parseThreadLinks(doc *goquery.Document) []Cursor {
	var threads []Cursor
	seen := make(map[int64]bool)
	doc.Find("a.RepliesThreadNext__link[href]").Each(func(_ int, s *goquery.Selection) {
		u, err := url.Parse(s.AttrOr("href", ""))
		if err != nil {
			return
		}
		q := u.Query()
		thread, _ := strconv.ParseInt(q.Get("reply"), 10, 64)
		if thread == 0 || seen[thread] {
			return
		}
		seen[thread] = true
		offset, err := strconv.Atoi(q.Get("offset"))
		if err != nil || offset < 1 {
			offset = 1
		}
		threads = append(threads, Cursor{Offset: offset, Thread: thread})
	})
	return threads
}

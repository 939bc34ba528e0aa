package vk

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const pinnedMarker = "post pinned"

var (
	postIDRe         = regexp.MustCompile(`^(-?\d+)_(\d+)$`)
	commentsClosedRe = regexp.MustCompile(`"isCommentsClosed"\s*:\s*(true|false)`)
)

// parsePosts extracts wall posts from a group page or an AJAX page
// fragment. Posts are deduplicated by (owner, post) in page order.
func parsePosts(doc *goquery.Document, group string, now time.Time) []*Post {
	var posts []*Post
	seen := make(map[PostRef]bool)

	doc.Find("[data-post-id]").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr("data-post-id")
		m := postIDRe.FindStringSubmatch(strings.TrimSpace(raw))
		if m == nil {
			return
		}
		owner, _ := strconv.ParseInt(m[1], 10, 64)
		id, _ := strconv.ParseInt(m[2], 10, 64)
		ref := PostRef{OwnerID: owner, PostID: id}
		if seen[ref] {
			return
		}
		seen[ref] = true

		block := s.Closest(".wall_item")
		if block.Length() == 0 {
			block = s
		}
		posts = append(posts, parsePost(block, ref, group, now))
	})

	return posts
}

func parsePost(block *goquery.Selection, ref PostRef, group string, now time.Time) *Post {
	p := &Post{
		OwnerID:     ref.OwnerID,
		PostID:      ref.PostID,
		Group:       group,
		CollectedAt: now.Unix(),
	}

	dateLink := block.Find("a.PostHeaderTime").First()
	if href, ok := dateLink.Attr("href"); ok && href != "" {
		p.URL = href
		if strings.HasPrefix(href, "/") {
			p.URL = SiteURL + href
		}
	}
	if p.URL == "" {
		p.URL = SiteURL + "/wall" + ref.String()
	}
	p.DateText = textOf(dateLink)
	p.Timestamp = NormalizeDate(p.DateText, now)

	body := block.Find(".wi_body").First()
	if body.Length() == 0 {
		body = block
	}
	textBlock := body.Find(".pi_text").First().Clone()
	textBlock.Find("a.PostTextMore").Remove()
	p.Text = textOf(textBlock)
	p.TextFeatures = ExtractTextFeatures(p.Text)
	p.Attachments = extractAttachments(body)

	p.Counters = Counters{
		Likes:    ToIntSafe(block.Find(".PostBottomButtonReaction__label").First().Text()),
		Reposts:  ToIntSafe(block.Find(`a[href^="/like?act=publish"] .PostBottomButton__label`).First().Text()),
		Comments: ToIntSafe(block.Find("[data-replies-count]").First().AttrOr("data-replies-count", "")),
		Views:    ToIntSafe(block.Find(".Socials__viewsCount").First().Text()),
	}
	p.Flags = parsePostFlags(block)

	return p
}

func parsePostFlags(block *goquery.Selection) PostFlags {
	var flags PostFlags
	block.Find(".visually-hidden").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(s.Text()), pinnedMarker) {
			flags.Pinned = true
			return false
		}
		return true
	})

	if exec, ok := block.Find(".PostContextMenuReactMVK__root[data-exec]").First().Attr("data-exec"); ok {
		if m := commentsClosedRe.FindStringSubmatch(exec); m != nil {
			closed := m[1] == "true"
			flags.CommentsClosed = &closed
		}
	}
	return flags
}

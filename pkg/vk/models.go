package vk

import (
	"encoding/json"
	"fmt"
)

// EntityKind names the three record types the crawler persists
type EntityKind string

const (
	KindPost    EntityKind = "post"
	KindComment EntityKind = "comment"
	KindProfile EntityKind = "profile"
)

// Record is anything a Sink can upsert
type Record interface {
	Kind() EntityKind
	// NaturalKey identifies the record across runs
	NaturalKey() string
}

// Cursor is a restartable position in a paged listing. Thread is non-zero
// for comment reply-thread pages.
type Cursor struct {
	Offset int   `json:"offset"`
	Thread int64 `json:"thread,omitempty"`
}

// First reports whether the cursor points at the initial HTML page
func (c Cursor) First() bool {
	return c.Offset == 0 && c.Thread == 0
}

// PostRef identifies a wall post
type PostRef struct {
	OwnerID int64 `json:"owner_id"`
	PostID  int64 `json:"post_id"`
}

func (r PostRef) String() string {
	return fmt.Sprintf("%d_%d", r.OwnerID, r.PostID)
}

// Counters are the engagement numbers shown under a post
type Counters struct {
	Likes    int `json:"likes"`
	Reposts  int `json:"reposts"`
	Comments int `json:"comments"`
	Views    int `json:"views"`
}

// PostFlags are boolean markers of a post. CommentsClosed is nil when the
// page does not say.
type PostFlags struct {
	Pinned         bool  `json:"pinned"`
	CommentsClosed *bool `json:"is_comments_closed"`
}

// Attachments lists media referenced from a post or comment body
type Attachments struct {
	Images   []string `json:"images"`
	Videos   []string `json:"videos"`
	Outlinks []string `json:"outlinks"`
}

// TextFeatures are tokens pulled out of free text
type TextFeatures struct {
	Hashtags []string `json:"hashtags"`
	Mentions []string `json:"mentions"`
	URLs     []string `json:"urls"`
}

// Post is one community wall post
type Post struct {
	OwnerID      int64        `json:"owner_id"`
	PostID       int64        `json:"post_id"`
	Group        string       `json:"group"`
	URL          string       `json:"url"`
	DateText     string       `json:"date_text"`
	Timestamp    int64        `json:"timestamp"`
	Text         string       `json:"text"`
	Counters     Counters     `json:"counters"`
	Flags        PostFlags    `json:"flags"`
	Attachments  Attachments  `json:"attachments"`
	TextFeatures TextFeatures `json:"text_features"`
	CollectedAt  int64        `json:"collected_at"`
}

func (p *Post) Kind() EntityKind { return KindPost }

func (p *Post) NaturalKey() string {
	return fmt.Sprintf("post:%d_%d", p.OwnerID, p.PostID)
}

// Ref returns the post's identity
func (p *Post) Ref() PostRef {
	return PostRef{OwnerID: p.OwnerID, PostID: p.PostID}
}

// Comment is one comment under a post. ReplyTo is the thread root comment
// id for replies and zero for top-level comments; FromID is zero when the
// author could not be resolved.
type Comment struct {
	OwnerID      int64        `json:"owner_id"`
	PostID       int64        `json:"post_id"`
	CommentID    int64        `json:"comment_id"`
	FromID       int64        `json:"from_id"`
	AuthorName   string       `json:"author_name"`
	AuthorHref   string       `json:"author_href"`
	Text         string       `json:"text"`
	DateText     string       `json:"date_text"`
	Timestamp    int64        `json:"timestamp"`
	Likes        int          `json:"likes"`
	ReplyTo      int64        `json:"reply_to_comment_id"`
	Attachments  Attachments  `json:"attachments"`
	TextFeatures TextFeatures `json:"text_features"`
	CollectedAt  int64        `json:"collected_at"`
}

func (c *Comment) Kind() EntityKind { return KindComment }

func (c *Comment) NaturalKey() string {
	return fmt.Sprintf("comment:%d_%d_%d", c.OwnerID, c.PostID, c.CommentID)
}

// Profile is a commenter's public profile. Unavailable profiles carry only
// UserID and CollectedAt.
type Profile struct {
	UserID        int64            `json:"user_id"`
	ScreenName    string           `json:"screen_name"`
	FirstName     string           `json:"first_name"`
	LastName      string           `json:"last_name"`
	Nickname      string           `json:"nickname"`
	Sex           int              `json:"sex"`
	BirthDate     string           `json:"bdate"`
	City          string           `json:"city"`
	Country       string           `json:"country"`
	HomeTown      string           `json:"home_town"`
	Status        string           `json:"status"`
	About         string           `json:"about"`
	Site          string           `json:"site"`
	Photo         string           `json:"photo"`
	Verified      bool             `json:"verified"`
	Online        bool             `json:"online"`
	LastSeen      int64            `json:"last_seen"`
	Followers     int64            `json:"followers"`
	Friends       int64            `json:"friends"`
	Subscriptions int64            `json:"subscriptions"`
	Counters      map[string]int64 `json:"counters"`
	Bundle        json.RawMessage  `json:"bundle,omitempty"`
	Unavailable   bool             `json:"unavailable"`
	CollectedAt   int64            `json:"collected_at"`
}

func (p *Profile) Kind() EntityKind { return KindProfile }

func (p *Profile) NaturalKey() string {
	return fmt.Sprintf("profile:%d", p.UserID)
}

// PostPage is one page of a group wall
type PostPage struct {
	Posts []*Post
	// Next is nil when the listing is exhausted
	Next *Cursor
}

// CommentPage is one page of a post's comments or of a reply thread
type CommentPage struct {
	Comments []*Comment
	Next     *Cursor
	// Threads are reply threads discovered on this page
	Threads []Cursor
}

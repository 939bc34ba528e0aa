package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"vkcrawler/pkg/vk"
)

// Upsert writes one record, inserting it or updating the row with the same
// natural key. Replaying a record leaves the table unchanged.
func (s *Store) Upsert(ctx context.Context, rec vk.Record) error {
	var err error
	switch r := rec.(type) {
	case *vk.Post:
		err = s.upsertPost(ctx, r)
	case *vk.Comment:
		err = s.upsertComment(ctx, r)
	case *vk.Profile:
		err = s.upsertProfile(ctx, r)
	default:
		return fmt.Errorf("unsupported record type %T", rec)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", rec.NaturalKey(), err)
	}
	return nil
}

const upsertPostSQL = `
INSERT INTO posts (owner_id, post_id, group_slug, url, date_text, timestamp, text,
	likes, reposts, comments, views, pinned, is_comments_closed,
	attachments, text_features, collected_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(owner_id, post_id) DO UPDATE SET
	group_slug = CASE WHEN excluded.group_slug != '' THEN excluded.group_slug ELSE posts.group_slug END,
	url = CASE WHEN excluded.url != '' THEN excluded.url ELSE posts.url END,
	date_text = CASE WHEN excluded.date_text != '' THEN excluded.date_text ELSE posts.date_text END,
	timestamp = CASE WHEN excluded.timestamp > 0 THEN excluded.timestamp ELSE posts.timestamp END,
	text = excluded.text,
	likes = excluded.likes,
	reposts = excluded.reposts,
	comments = excluded.comments,
	views = excluded.views,
	pinned = excluded.pinned,
	is_comments_closed = COALESCE(excluded.is_comments_closed, posts.is_comments_closed),
	attachments = excluded.attachments,
	text_features = excluded.text_features,
	collected_at = excluded.collected_at
`

func (s *Store) upsertPost(ctx context.Context, p *vk.Post) error {
	attachments, err := json.Marshal(p.Attachments)
	if err != nil {
		return fmt.Errorf("failed to serialize attachments: %w", err)
	}
	features, err := json.Marshal(p.TextFeatures)
	if err != nil {
		return fmt.Errorf("failed to serialize text features: %w", err)
	}

	var closed interface{}
	if p.Flags.CommentsClosed != nil {
		closed = *p.Flags.CommentsClosed
	}

	return s.exec(ctx, upsertPostSQL,
		p.OwnerID, p.PostID, p.Group, p.URL, p.DateText, p.Timestamp, p.Text,
		p.Counters.Likes, p.Counters.Reposts, p.Counters.Comments, p.Counters.Views,
		p.Flags.Pinned, closed,
		string(attachments), string(features), p.CollectedAt,
	)
}

const upsertCommentSQL = `
INSERT INTO comments (owner_id, post_id, comment_id, from_id, author_name, author_href,
	reply_to_comment_id, date_text, timestamp, text, likes,
	attachments, text_features, collected_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(owner_id, post_id, comment_id) DO UPDATE SET
	from_id = CASE WHEN excluded.from_id != 0 THEN excluded.from_id ELSE comments.from_id END,
	author_name = CASE WHEN excluded.author_name != '' THEN excluded.author_name ELSE comments.author_name END,
	author_href = CASE WHEN excluded.author_href != '' THEN excluded.author_href ELSE comments.author_href END,
	reply_to_comment_id = CASE WHEN excluded.reply_to_comment_id != 0 THEN excluded.reply_to_comment_id ELSE comments.reply_to_comment_id END,
	date_text = CASE WHEN excluded.date_text != '' THEN excluded.date_text ELSE comments.date_text END,
	timestamp = CASE WHEN excluded.timestamp > 0 THEN excluded.timestamp ELSE comments.timestamp END,
	text = excluded.text,
	likes = excluded.likes,
	attachments = excluded.attachments,
	text_features = excluded.text_features,
	collected_at = excluded.collected_at
`

func (s *Store) upsertComment(ctx context.Context, c *vk.Comment) error {
	attachments, err := json.Marshal(c.Attachments)
	if err != nil {
		return fmt.Errorf("failed to serialize attachments: %w", err)
	}
	features, err := json.Marshal(c.TextFeatures)
	if err != nil {
		return fmt.Errorf("failed to serialize text features: %w", err)
	}

	return s.exec(ctx, upsertCommentSQL,
		c.OwnerID, c.PostID, c.CommentID, c.FromID, c.AuthorName, c.AuthorHref,
		c.ReplyTo, c.DateText, c.Timestamp, c.Text, c.Likes,
		string(attachments), string(features), c.CollectedAt,
	)
}

// An unavailable marker never overwrites a profile that was fetched before.
const upsertProfileSQL = `
INSERT INTO profiles (user_id, screen_name, first_name, last_name, nickname, sex, bdate,
	city, country, home_town, status, about, site, photo, verified, online, last_seen,
	followers, friends, subscriptions, counters, bundle, unavailable, collected_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	screen_name = excluded.screen_name,
	first_name = excluded.first_name,
	last_name = excluded.last_name,
	nickname = excluded.nickname,
	sex = excluded.sex,
	bdate = excluded.bdate,
	city = excluded.city,
	country = excluded.country,
	home_town = excluded.home_town,
	status = excluded.status,
	about = excluded.about,
	site = excluded.site,
	photo = excluded.photo,
	verified = excluded.verified,
	online = excluded.online,
	last_seen = excluded.last_seen,
	followers = excluded.followers,
	friends = excluded.friends,
	subscriptions = excluded.subscriptions,
	counters = excluded.counters,
	bundle = excluded.bundle,
	unavailable = excluded.unavailable,
	collected_at = excluded.collected_at
WHERE excluded.unavailable = 0 OR profiles.unavailable = 1
`

func (s *Store) upsertProfile(ctx context.Context, p *vk.Profile) error {
	counters := p.Counters
	if counters == nil {
		counters = map[string]int64{}
	}
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("failed to serialize counters: %w", err)
	}

	var bundle interface{}
	if len(p.Bundle) > 0 {
		bundle = string(p.Bundle)
	}

	return s.exec(ctx, upsertProfileSQL,
		p.UserID, p.ScreenName, p.FirstName, p.LastName, p.Nickname, p.Sex, p.BirthDate,
		p.City, p.Country, p.HomeTown, p.Status, p.About, p.Site, p.Photo, p.Verified,
		p.Online, p.LastSeen, p.Followers, p.Friends, p.Subscriptions,
		string(countersJSON), bundle, p.Unavailable, p.CollectedAt,
	)
}

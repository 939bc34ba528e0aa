package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"vkcrawler/pkg/vk"
)

// ErrNotFound is returned by lookups for rows that do not exist
var ErrNotFound = errors.New("record not found")

// Inventory summarizes what the database already holds
type Inventory struct {
	Posts               int
	Comments            int
	Profiles            int
	UnavailableProfiles int
	// PostsWithoutComments are stored posts with no stored comment
	PostsWithoutComments []vk.PostRef
	// UsersWithoutProfiles are commenters with no stored profile
	UsersWithoutProfiles []int64
}

// Inventory reads persisted counts and the gaps a follow-up crawl could fill
func (s *Store) Inventory(ctx context.Context) (*Inventory, error) {
	inv := &Inventory{}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM posts`, &inv.Posts},
		{`SELECT COUNT(*) FROM comments`, &inv.Comments},
		{`SELECT COUNT(*) FROM profiles`, &inv.Profiles},
		{`SELECT COUNT(*) FROM profiles WHERE unavailable = 1`, &inv.UnavailableProfiles},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count rows: %w", err)
		}
	}

	refs, err := s.postsWithoutComments(ctx)
	if err != nil {
		return nil, err
	}
	inv.PostsWithoutComments = refs

	users, err := s.usersWithoutProfiles(ctx)
	if err != nil {
		return nil, err
	}
	inv.UsersWithoutProfiles = users

	return inv, nil
}

// ReadPersisted loads the persisted inventory for downstream stages. It
// never touches the network.
func (s *Store) ReadPersisted(ctx context.Context) (*Inventory, error) {
	inv, err := s.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	s.log.InfoWithFields("Read persisted data", map[string]interface{}{
		"path":                   s.path,
		"posts":                  inv.Posts,
		"comments":               inv.Comments,
		"profiles":               inv.Profiles,
		"unavailable_profiles":   inv.UnavailableProfiles,
		"posts_without_comments": len(inv.PostsWithoutComments),
		"users_without_profiles": len(inv.UsersWithoutProfiles),
	})
	return inv, nil
}

func (s *Store) postsWithoutComments(ctx context.Context) ([]vk.PostRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.owner_id, p.post_id FROM posts p
		WHERE NOT EXISTS (
			SELECT 1 FROM comments c WHERE c.owner_id = p.owner_id AND c.post_id = p.post_id
		)
		ORDER BY p.owner_id, p.post_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query posts without comments: %w", err)
	}
	defer rows.Close()

	refs := []vk.PostRef{}
	for rows.Next() {
		var ref vk.PostRef
		if err := rows.Scan(&ref.OwnerID, &ref.PostID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *Store) usersWithoutProfiles(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT c.from_id FROM comments c
		WHERE c.from_id > 0 AND NOT EXISTS (
			SELECT 1 FROM profiles p WHERE p.user_id = c.from_id
		)
		ORDER BY c.from_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users without profiles: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetPost reads one stored post
func (s *Store) GetPost(ctx context.Context, ref vk.PostRef) (*vk.Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner_id, post_id, group_slug, url, date_text, timestamp, text,
			likes, reposts, comments, views, pinned, is_comments_closed,
			attachments, text_features, collected_at
		FROM posts WHERE owner_id = ? AND post_id = ?`, ref.OwnerID, ref.PostID)

	var (
		p                     vk.Post
		closed                sql.NullBool
		attachments, features string
	)
	err := row.Scan(&p.OwnerID, &p.PostID, &p.Group, &p.URL, &p.DateText, &p.Timestamp, &p.Text,
		&p.Counters.Likes, &p.Counters.Reposts, &p.Counters.Comments, &p.Counters.Views,
		&p.Flags.Pinned, &closed, &attachments, &features, &p.CollectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read post %s: %w", ref, err)
	}

	if closed.Valid {
		v := closed.Bool
		p.Flags.CommentsClosed = &v
	}
	if err := json.Unmarshal([]byte(attachments), &p.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &p.TextFeatures); err != nil {
		return nil, fmt.Errorf("failed to decode text features: %w", err)
	}
	return &p, nil
}

// GetComment reads one stored comment
func (s *Store) GetComment(ctx context.Context, ref vk.PostRef, commentID int64) (*vk.Comment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT owner_id, post_id, comment_id, from_id, author_name, author_href,
			reply_to_comment_id, date_text, timestamp, text, likes,
			attachments, text_features, collected_at
		FROM comments WHERE owner_id = ? AND post_id = ? AND comment_id = ?`,
		ref.OwnerID, ref.PostID, commentID)

	var (
		c                     vk.Comment
		attachments, features string
	)
	err := row.Scan(&c.OwnerID, &c.PostID, &c.CommentID, &c.FromID, &c.AuthorName, &c.AuthorHref,
		&c.ReplyTo, &c.DateText, &c.Timestamp, &c.Text, &c.Likes,
		&attachments, &features, &c.CollectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read comment %s_%d: %w", ref, commentID, err)
	}

	if err := json.Unmarshal([]byte(attachments), &c.Attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	if err := json.Unmarshal([]byte(features), &c.TextFeatures); err != nil {
		return nil, fmt.Errorf("failed to decode text features: %w", err)
	}
	return &c, nil
}

// GetProfile reads one stored profile
func (s *Store) GetProfile(ctx context.Context, userID int64) (*vk.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, screen_name, first_name, last_name, nickname, sex, bdate,
			city, country, home_town, status, about, site, photo, verified, online, last_seen,
			followers, friends, subscriptions, counters, bundle, unavailable, collected_at
		FROM profiles WHERE user_id = ?`, userID)

	var (
		p        vk.Profile
		counters string
		bundle   sql.NullString
	)
	err := row.Scan(&p.UserID, &p.ScreenName, &p.FirstName, &p.LastName, &p.Nickname, &p.Sex, &p.BirthDate,
		&p.City, &p.Country, &p.HomeTown, &p.Status, &p.About, &p.Site, &p.Photo, &p.Verified,
		&p.Online, &p.LastSeen, &p.Followers, &p.Friends, &p.Subscriptions,
		&counters, &bundle, &p.Unavailable, &p.CollectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %d: %w", userID, err)
	}

	if err := json.Unmarshal([]byte(counters), &p.Counters); err != nil {
		return nil, fmt.Errorf("failed to decode counters: %w", err)
	}
	if bundle.Valid {
		p.Bundle = []byte(bundle.String)
	}
	return &p, nil
}

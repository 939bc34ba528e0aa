package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
	"vkcrawler/pkg/logger"
	"vkcrawler/pkg/retry"
)

// Options tunes the SQLite connection
type Options struct {
	// BusyTimeout is how long SQLite itself waits on a locked database
	BusyTimeout time.Duration
	// BusyRetries is how many times a write is retried after SQLITE_BUSY
	BusyRetries int
	// BusyBackoff spaces those retries
	BusyBackoff retry.BackoffStrategy
}

// DefaultOptions returns the options used by Open
func DefaultOptions() Options {
	return Options{
		BusyTimeout: 5 * time.Second,
		BusyRetries: 5,
		BusyBackoff: &retry.ExponentialBackoff{
			BaseDelay:    50 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			JitterFactor: 0.2,
		},
	}
}

// Store is a SQLite-backed Sink
type Store struct {
	db    *sql.DB
	path  string
	log   logger.Logger
	retry *retry.Config
}

// Open opens or creates the database at path with default options
func Open(path string, log logger.Logger) (*Store, error) {
	return OpenWithOptions(path, DefaultOptions(), log)
}

// OpenWithOptions opens or creates the database at path
func OpenWithOptions(path string, opts Options, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:   db,
		path: path,
		log:  log.WithField("component", "storage"),
	}
	s.retry = &retry.Config{
		MaxAttempts: opts.BusyRetries + 1,
		Backoff:     opts.BusyBackoff,
		RetryIf:     isBusy,
		Logger:      s.log,
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	s.log.DebugWithFields("Database opened", map[string]interface{}{
		"path": path,
	})
	return s, nil
}

// dsn builds the SQLite URI for path. The path is percent-encoded so '?',
// '#' and '%' stay part of the file name.
func dsn(path string, busyTimeout time.Duration) string {
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(path),
		OmitHost: true,
		RawQuery: fmt.Sprintf("mode=rwc&_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
			busyTimeout.Milliseconds()),
	}
	return u.String()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// exec runs a write statement, retrying while the database is busy
func (s *Store) exec(ctx context.Context, query string, args ...interface{}) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	}, s.retry)
}

// isBusy reports SQLITE_BUSY and SQLITE_LOCKED, including extended codes
func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id INTEGER NOT NULL,
	post_id INTEGER NOT NULL,
	group_slug TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	date_text TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL DEFAULT 0,
	text TEXT NOT NULL DEFAULT '',
	likes INTEGER NOT NULL DEFAULT 0,
	reposts INTEGER NOT NULL DEFAULT 0,
	comments INTEGER NOT NULL DEFAULT 0,
	views INTEGER NOT NULL DEFAULT 0,
	pinned INTEGER NOT NULL DEFAULT 0,
	is_comments_closed INTEGER,
	attachments TEXT NOT NULL DEFAULT '{}',
	text_features TEXT NOT NULL DEFAULT '{}',
	collected_at INTEGER NOT NULL DEFAULT 0,
	UNIQUE(owner_id, post_id)
);

CREATE INDEX IF NOT EXISTS idx_posts_timestamp ON posts(timestamp);

CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id INTEGER NOT NULL,
	post_id INTEGER NOT NULL,
	comment_id INTEGER NOT NULL,
	from_id INTEGER NOT NULL DEFAULT 0,
	author_name TEXT NOT NULL DEFAULT '',
	author_href TEXT NOT NULL DEFAULT '',
	reply_to_comment_id INTEGER NOT NULL DEFAULT 0,
	date_text TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL DEFAULT 0,
	text TEXT NOT NULL DEFAULT '',
	likes INTEGER NOT NULL DEFAULT 0,
	attachments TEXT NOT NULL DEFAULT '{}',
	text_features TEXT NOT NULL DEFAULT '{}',
	collected_at INTEGER NOT NULL DEFAULT 0,
	UNIQUE(owner_id, post_id, comment_id)
);

CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(owner_id, post_id);
CREATE INDEX IF NOT EXISTS idx_comments_from ON comments(from_id);

CREATE TABLE IF NOT EXISTS profiles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL UNIQUE,
	screen_name TEXT NOT NULL DEFAULT '',
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	nickname TEXT NOT NULL DEFAULT '',
	sex INTEGER NOT NULL DEFAULT 0,
	bdate TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	home_town TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT '',
	about TEXT NOT NULL DEFAULT '',
	site TEXT NOT NULL DEFAULT '',
	photo TEXT NOT NULL DEFAULT '',
	verified INTEGER NOT NULL DEFAULT 0,
	online INTEGER NOT NULL DEFAULT 0,
	last_seen INTEGER NOT NULL DEFAULT 0,
	followers INTEGER NOT NULL DEFAULT 0,
	friends INTEGER NOT NULL DEFAULT 0,
	subscriptions INTEGER NOT NULL DEFAULT 0,
	counters TEXT NOT NULL DEFAULT '{}',
	bundle TEXT,
	unavailable INTEGER NOT NULL DEFAULT 0,
	collected_at INTEGER NOT NULL DEFAULT 0
);
`

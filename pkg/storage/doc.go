// Package storage persists crawled posts, comments and profiles to SQLite.
//
// Store is the crawler's Sink. Every write is an upsert keyed on the
// record's natural key, so replaying a record after a retry or a restart
// updates the existing row instead of adding a new one. List-valued fields
// (attachments, text features, profile counters and the raw profile
// bundle) are stored as JSON columns.
//
// The database runs in WAL mode behind a single connection with a busy
// timeout; writes that still hit SQLITE_BUSY are retried with backoff.
//
// Usage:
//
//	store, err := storage.Open("vk.sqlite", nil)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Upsert(ctx, post)
package storage

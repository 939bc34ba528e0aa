package pipeline

import (
	"context"

	"vkcrawler/pkg/session"
	"vkcrawler/pkg/storage"
	"vkcrawler/pkg/vk"
)

// Sink receives every completed record. Upsert must be idempotent on the
// record's natural key and safe for concurrent use.
type Sink interface {
	Upsert(ctx context.Context, rec vk.Record) error
}

// FeatureStage is the downstream consumer of persisted data
type FeatureStage interface {
	ReadPersisted(ctx context.Context) (*storage.Inventory, error)
}

// Fetcher is the page source. *vk.Client implements it.
type Fetcher interface {
	ListPosts(ctx context.Context, d session.Doer, group string, cur vk.Cursor) (*vk.PostPage, error)
	ListComments(ctx context.Context, d session.Doer, post vk.PostRef, cur vk.Cursor) (*vk.CommentPage, error)
	FetchProfile(ctx context.Context, d session.Doer, userID int64) (*vk.Profile, error)
}

package pipeline

import (
	"sync/atomic"
	"time"

	"vkcrawler/pkg/vk"
)

// Counters tracks one entity kind. Counters only ever increase.
type Counters struct {
	Fetched     atomic.Int64
	Failed      atomic.Int64
	Retried     atomic.Int64
	Skipped     atomic.Int64
	Unavailable atomic.Int64
}

func (c *Counters) snapshot() CountersSnapshot {
	return CountersSnapshot{
		Fetched:     c.Fetched.Load(),
		Failed:      c.Failed.Load(),
		Retried:     c.Retried.Load(),
		Skipped:     c.Skipped.Load(),
		Unavailable: c.Unavailable.Load(),
	}
}

// RunStats collects per-kind counters for one run
type RunStats struct {
	Posts    Counters
	Comments Counters
	Profiles Counters
	started  time.Time
}

// NewRunStats starts the run clock
func NewRunStats() *RunStats {
	return &RunStats{started: time.Now()}
}

// For returns the counters of an entity kind
func (s *RunStats) For(kind vk.EntityKind) *Counters {
	switch kind {
	case vk.KindPost:
		return &s.Posts
	case vk.KindComment:
		return &s.Comments
	default:
		return &s.Profiles
	}
}

// Snapshot returns a read-only copy of the counters
func (s *RunStats) Snapshot(runID string) Snapshot {
	return Snapshot{
		RunID:    runID,
		Posts:    s.Posts.snapshot(),
		Comments: s.Comments.snapshot(),
		Profiles: s.Profiles.snapshot(),
		Duration: time.Since(s.started),
	}
}

// CountersSnapshot is a point-in-time copy of Counters
type CountersSnapshot struct {
	Fetched     int64 `json:"fetched"`
	Failed      int64 `json:"failed"`
	Retried     int64 `json:"retried"`
	Skipped     int64 `json:"skipped"`
	Unavailable int64 `json:"unavailable"`
}

// Snapshot is the result of a run
type Snapshot struct {
	RunID    string           `json:"run_id"`
	Posts    CountersSnapshot `json:"posts"`
	Comments CountersSnapshot `json:"comments"`
	Profiles CountersSnapshot `json:"profiles"`
	Duration time.Duration    `json:"duration"`
}

// Fields flattens the snapshot for structured logging
func (s Snapshot) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"duration": s.Duration,
	}
	for name, c := range map[string]CountersSnapshot{
		"posts":    s.Posts,
		"comments": s.Comments,
		"profiles": s.Profiles,
	} {
		fields[name+"_fetched"] = c.Fetched
		fields[name+"_failed"] = c.Failed
		fields[name+"_retried"] = c.Retried
		fields[name+"_skipped"] = c.Skipped
	}
	fields["profiles_unavailable"] = s.Profiles.Unavailable
	return fields
}

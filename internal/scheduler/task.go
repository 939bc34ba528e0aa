package scheduler

import (
	"context"
	"fmt"
	"time"

	"vkcrawler/pkg/ratelimit"
	"vkcrawler/pkg/session"
	"vkcrawler/pkg/vk"
)

// Kind identifies what a task fetches
type Kind int

const (
	KindListPosts Kind = iota
	KindListComments
	KindFetchProfile
)

func (k Kind) String() string {
	switch k {
	case KindListPosts:
		return "list_posts"
	case KindListComments:
		return "list_comments"
	case KindFetchProfile:
		return "fetch_profile"
	default:
		return "unknown"
	}
}

// State is the lifecycle position of a task
type State int

const (
	StateQueued State = iota
	StateRunning
	StateRequeued
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateRequeued:
		return "requeued"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lower values run first. Profiles and comments drain ahead of further
// wall pages so a run's budget is spent depth first.
const (
	priorityProfile  = 0
	priorityComments = 1
	priorityPosts    = 2
)

// Task is one unit of fetch work. Which fields matter depends on Kind:
// Group and Cursor for ListPosts, Post, Cursor and Pending for
// ListComments, UserID for FetchProfile.
type Task struct {
	ID     string
	Kind   Kind
	Group  string
	Post   vk.PostRef
	Cursor vk.Cursor
	// Pending holds reply-thread cursors still to visit after the current
	// comment page.
	Pending  []vk.Cursor
	UserID   int64
	Retries  int
	Priority int
	State    State

	seq uint64
}

// NewListPostsTask creates a wall listing task for a community
func NewListPostsTask(group string, cur vk.Cursor) *Task {
	return &Task{Kind: KindListPosts, Group: group, Cursor: cur, Priority: priorityPosts}
}

// NewListCommentsTask creates a comment listing task for a post
func NewListCommentsTask(group string, post vk.PostRef, cur vk.Cursor, pending []vk.Cursor) *Task {
	return &Task{
		Kind:     KindListComments,
		Group:    group,
		Post:     post,
		Cursor:   cur,
		Pending:  pending,
		Priority: priorityComments,
	}
}

// NewFetchProfileTask creates a profile fetch task
func NewFetchProfileTask(group string, userID int64) *Task {
	return &Task{Kind: KindFetchProfile, Group: group, UserID: userID, Priority: priorityProfile}
}

// Target describes what the task points at, for logs
func (t *Task) Target() string {
	switch t.Kind {
	case KindListPosts:
		return fmt.Sprintf("%s@%d", t.Group, t.Cursor.Offset)
	case KindListComments:
		if t.Cursor.Thread != 0 {
			return fmt.Sprintf("%s@%d/%d", t.Post, t.Cursor.Offset, t.Cursor.Thread)
		}
		return fmt.Sprintf("%s@%d", t.Post, t.Cursor.Offset)
	case KindFetchProfile:
		return fmt.Sprintf("id%d", t.UserID)
	default:
		return ""
	}
}

// Result carries the typed payload of a successful fetch. NotFound is set
// instead when the target does not exist.
type Result struct {
	Posts    *vk.PostPage
	Comments *vk.CommentPage
	Profile  *vk.Profile
	NotFound bool
}

// Handler supplies the fetch for each task and consumes its outcome.
// Complete may submit follow-on tasks to the scheduler.
type Handler interface {
	Fetch(ctx context.Context, d session.Doer, t *Task) (*Result, error)
	Complete(ctx context.Context, t *Task, r *Result) error
	Retrying(t *Task, err error, delay time.Duration)
	Failed(t *Task, err error)
}

// SessionPool lends sessions to workers. *session.Pool implements it.
type SessionPool interface {
	Acquire(ctx context.Context) (*session.Session, error)
	Release(s *session.Session, o ratelimit.Outcome)
}

package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// taskHeap orders by priority, then by submission order
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Queue is a blocking priority queue that also counts outstanding work.
// A task is outstanding from Push until Done, including while it waits on
// a requeue timer or runs in a worker. The queue closes itself when the
// count reaches zero.
type Queue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	items       taskHeap
	seq         uint64
	outstanding int
	closed      bool
	timers      map[*time.Timer]struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	q := &Queue{timers: make(map[*time.Timer]struct{})}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.items)
	return q
}

// Push adds a new task. It returns false once the queue is closed.
func (q *Queue) Push(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.outstanding++
	q.pushLocked(t)
	return true
}

// PushAfter puts an outstanding task back after delay. The task stays
// outstanding while it waits.
func (q *Queue) PushAfter(t *Task, delay time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if delay <= 0 {
		q.pushLocked(t)
		return true
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		if !q.closed {
			q.pushLocked(t)
		}
	})
	q.timers[timer] = struct{}{}
	return true
}

func (q *Queue) pushLocked(t *Task) {
	q.seq++
	t.seq = q.seq
	heap.Push(&q.items, t)
	q.cond.Signal()
}

// Pop blocks until a task is ready. It returns false once the queue is
// closed, even if tasks remain.
func (q *Queue) Pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	return heap.Pop(&q.items).(*Task), true
}

// Done marks one outstanding task finished
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.outstanding--
	if q.outstanding <= 0 {
		q.closeLocked()
	}
}

// Close stops pending timers and wakes every waiting Pop
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closeLocked()
}

func (q *Queue) closeLocked() {
	if q.closed {
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
		delete(q.timers, timer)
	}
	q.cond.Broadcast()
}

// Len returns the number of tasks ready to run
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Outstanding returns the number of tasks not yet done
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}

// Closed reports whether the queue has closed
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

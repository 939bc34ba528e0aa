package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vkcrawler/pkg/vk"
)

func TestQueueOrdersByPriorityThenFIFO(t *testing.T) {
	q := NewQueue()
	a := NewListPostsTask("a", vk.Cursor{})
	b := NewFetchProfileTask("b", 1)
	c := NewListPostsTask("c", vk.Cursor{})
	d := NewFetchProfileTask("d", 2)
	for _, task := range []*Task{a, b, c, d} {
		require.True(t, q.Push(task))
	}

	var got []string
	for i := 0; i < 4; i++ {
		task, ok := q.Pop()
		require.True(t, ok)
		got = append(got, task.Group)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, got)
}

func TestQueueClosesWhenDrained(t *testing.T) {
	q := NewQueue()
	require.True(t, q.Push(NewListPostsTask("a", vk.Cursor{})))
	task, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, q.Outstanding(), "popped tasks stay outstanding")

	require.True(t, q.Push(NewFetchProfileTask("a", 1)))
	q.Done()
	assert.False(t, q.Closed())

	_, ok = q.Pop()
	require.True(t, ok)
	q.Done()
	assert.True(t, q.Closed())
	assert.False(t, q.Push(task))

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueuePushAfter(t *testing.T) {
	q := NewQueue()
	task := NewListPostsTask("a", vk.Cursor{})
	require.True(t, q.Push(task))
	_, ok := q.Pop()
	require.True(t, ok)

	start := time.Now()
	require.True(t, q.PushAfter(task, 20*time.Millisecond))
	assert.Equal(t, 0, q.Len())

	got, ok := q.Pop()
	require.True(t, ok)
	assert.Same(t, task, got)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 1, q.Outstanding())
}

func TestQueueCloseWakesWaitersAndStopsTimers(t *testing.T) {
	q := NewQueue()
	task := NewListPostsTask("a", vk.Cursor{})
	require.True(t, q.Push(task))
	_, _ = q.Pop()
	require.True(t, q.PushAfter(task, time.Hour))

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Close")
	}
	assert.False(t, q.PushAfter(task, 0))

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Empty(t, q.timers)
}

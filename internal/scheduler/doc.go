// Package scheduler executes crawl tasks on a fixed worker pool.
//
// Tasks wait in a priority Queue. Each worker pops a task, borrows a
// session from the pool for exactly one fetch, returns it with the fetch
// outcome, and then applies the retry policy: successes and missing
// targets complete, throttled and transient failures are requeued after a
// backoff delay until MaxRetries is spent, everything else fails. A task
// is only ever held by one worker or one requeue timer at a time.
//
// The run ends when no task is outstanding, when ctx is cancelled, or when
// the session pool reports it is exhausted.
package scheduler

// Package retry provides backoff strategies and a retry loop for failures
// classified by pkg/errors.
//
// Do runs an operation until it succeeds, returns a non-retryable error, runs
// out of attempts or the context ends:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		_, err := db.ExecContext(ctx, query, args...)
//		return err
//	}, &retry.Config{
//		MaxAttempts: 5,
//		Backoff:     &retry.ConstantBackoff{Delay: 50 * time.Millisecond},
//		RetryIf:     isBusy,
//	})
//
// KindBackoff maps a failure kind to a strategy. The scheduler uses it to
// compute requeue delays: rate-limited tasks wait longer than tasks that hit
// a transient network error.
package retry

// Package ratelimit paces requests per session.
//
// Every session owns a Pacing value: a current interval, an optional cooldown
// deadline and a golang.org/x/time/rate token bucket with burst 1 whose rate
// tracks the interval. Adaptive is the only code that mutates it:
//
//	lim := ratelimit.New(ratelimit.ConfigFrom(cfg), log)
//	wait := lim.Acquire(sess)   // reserve the next slot
//	// ... sleep wait, issue request ...
//	lim.Report(sess, ratelimit.OutcomeOf(err))
//
// A RateLimited outcome multiplies the interval by BackoffMultiplier (capped at
// MaxInterval) and opens a cooldown window. Transient failures grow the
// interval more gently without a cooldown. Successes decay it by DecayFactor
// toward BaseInterval, so recovery is gradual rather than a reset.
package ratelimit

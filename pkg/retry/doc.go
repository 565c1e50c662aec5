// Package retry provides exponential backoff retry logic used across the
// runtime, primarily by the registry's optimistic-concurrency write cycle.
//
// # Usage
//
//	cfg := retry.Quick()
//	err := retry.Do(ctx, cfg, func() error {
//	    return store.Write(ctx, snapshot, token)
//	})
//
// Errors wrapped with NonRetryable fail immediately without consuming the
// remaining attempts; everything else is retried with exponential backoff and
// optional jitter until the attempt budget is spent or the context is
// cancelled.
package retry

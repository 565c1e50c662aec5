// Package errors provides standardized error handling patterns for the agent
// runtime.
//
// # Overview
//
// The package combines three things:
//
//   - Sentinel error variables for every well-known failure mode in the
//     runtime (lifecycle misuse, activation misses, dispatch misses, RPC
//     correlation violations, registry write conflicts, cancellation).
//   - An ErrorClass taxonomy (transient / invalid / fatal) used by callers to
//     decide between retrying, rejecting, and aborting.
//   - Wrap helpers that produce uniformly formatted, classified errors:
//     "component.method: action failed: <cause>".
//
// # Classification
//
// Transient errors may succeed on retry; the canonical example is
// ErrTokenMismatch from an optimistic-concurrency write race. Invalid errors
// indicate caller mistakes (unknown agent type, unregistered handler,
// removing a subscription that does not exist) and must not be retried.
// Fatal errors indicate the operation cannot make progress at all, such as
// ErrMaxRetriesExceeded after the registry's write-retry budget is spent.
//
// Cancellation is deliberately outside the class taxonomy. IsCanceled
// distinguishes an aborted send or publish from a failed one so callers can
// treat the two outcomes differently.
//
// # Usage
//
//	if err := reg.AddSubscription(ctx, sub); err != nil {
//	    if errors.IsTransient(err) {
//	        // back off and retry
//	    }
//	    return errors.Wrap(err, "Router", "Subscribe", "registry update")
//	}
package errors

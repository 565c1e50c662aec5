// Package statestore provides snapshot persistence for the registry behind a
// compare-and-swap contract. The registry serializes its whole state and
// hands it to a Store together with the version token it last read; the
// write succeeds only if the token still matches the persisted revision.
//
// Three implementations are provided: an in-memory store for tests and
// ephemeral runtimes, a flat-file snapshot store, and a NATS JetStream KV
// store whose bucket revision is the version token.
package statestore

import "context"

// Snapshot is one persisted registry state together with its version token
type Snapshot struct {
	Data  []byte
	Token string
}

// Store persists opaque state snapshots with optimistic concurrency. The
// token is opaque to callers; its only contract is that it changes on every
// successful write.
type Store interface {
	// Read returns the current snapshot, or ErrStateNotFound when nothing
	// has been persisted yet.
	Read(ctx context.Context) (*Snapshot, error)

	// Write persists data if the store's current token equals
	// expectedToken, returning the new token. An empty expectedToken
	// asserts that no state exists yet. A mismatch returns
	// ErrTokenMismatch and the caller must re-read and retry.
	Write(ctx context.Context, data []byte, expectedToken string) (string, error)
}

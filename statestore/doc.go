// Package statestore defines the persistence contract for registry
// snapshots and provides three backends.
//
// A Store holds one opaque byte snapshot plus a version token. Read
// returns both; Write succeeds only if the caller's token still matches
// the stored one, returning ErrTokenMismatch otherwise. An empty token on
// Write asserts the snapshot does not exist yet. The token is opaque to
// callers: backends derive it from a revision counter (memory, file) or
// the JetStream key-value entry revision (NATS).
//
// MemoryStore is for tests and single-process demos. FileStore keeps the
// snapshot in one JSON file written atomically via a temp file and
// rename. NATSKVStore maps the contract onto a JetStream KV bucket so
// multiple hosts can share one registry.
package statestore

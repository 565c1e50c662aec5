// Package registry persists agent-type registrations and topic
// subscriptions.
//
// State is one snapshot: the type descriptors, the subscription index by
// id, and two directional maps (agent type to topic keys, topic key to
// agent types). The three subscription structures are only ever changed
// together inside a single write, so a persisted snapshot can never show
// a partial update.
//
// Every mutation runs an optimistic write cycle: read the current
// snapshot and its version token, apply the change to a clone, and write
// back conditioned on the token. A conflicting writer gets a token
// mismatch, reloads, and recomputes; the retry budget is bounded and
// exhausting it returns a fatal error rather than dropping the update.
// Domain rejections (duplicate type name, unknown subscription id) are
// not retried.
//
// The store behind the registry is pluggable through statestore.Store:
// memory, a snapshot file, or a NATS JetStream key-value bucket.
package registry

// Package config loads and validates the host process configuration.
//
// Configuration is layered: built-in defaults, then an optional JSON file,
// then AGENTRUNTIME_* environment variables. Validation runs on the merged
// result, so a sparse file only needs the fields it wants to change.
//
// The store section selects where the registry persists its state:
// "memory" for tests and demos, "file" for single-host durability, or
// "nats" for a JetStream key-value bucket shared across restarts.
package config

// Package metric provides Prometheus-based observability for the runtime.
//
// # Overview
//
// MetricsRegistry owns a private Prometheus registry preloaded with the
// core runtime metrics (router queue depth, per-type mailbox depth, handler
// durations and errors, activations, RPC correlation failures, registry
// write outcomes) plus the standard Go process collectors. Embedding
// services can register their own collectors under a service prefix.
//
// Server exposes the registry at an HTTP scrape endpoint, /metrics by
// default.
//
// The runtime and registry accept a *Metrics and record into it directly;
// all metric fields are always safe to use once NewMetricsRegistry has run.
package metric

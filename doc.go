// Package agentruntime provides an in-process actor runtime: typed agents
// with private mailboxes, a routing layer for point-to-point RPC and topic
// broadcast, and a durable registry of agent types and subscriptions.
//
// # Architecture
//
// The module is organized in three layers:
//
//	┌─────────────────────────────────────┐
//	│            Agents                   │  Typed handlers, one
//	│   (agent.BaseAgent + HandleFunc)    │  mailbox per instance
//	└─────────────────────────────────────┘
//	           ↑ delivered to via
//	┌─────────────────────────────────────┐
//	│            Runtime                  │  Send (RPC) and Publish
//	│     (runtime.InProcessRuntime)      │  (broadcast), one FIFO
//	└─────────────────────────────────────┘  delivery queue
//	           ↓ matches topics via
//	┌─────────────────────────────────────┐
//	│            Registry                 │  Agent types and
//	│  (registry.Registry + statestore)   │  subscriptions, CAS
//	└─────────────────────────────────────┘  persistence
//
// Agents carry a type and a key. The type selects a factory and a handler
// set; the key distinguishes instances, so "checker/order-17" and
// "checker/order-42" are two actors of one type. Instances come into
// existence on first message, never eagerly.
//
// # Messaging model
//
// Send targets one agent and returns its reply, correlated by message id.
// Publish targets a topic; the registry's subscriptions decide which
// agents receive it. An exact subscription matches one topic type, a
// prefix subscription matches a family of them, and both route each
// publication to the agent instance keyed by the topic's source. A
// publishing agent does not receive its own publication unless the
// runtime is configured to deliver to self.
//
// Ordering is per destination: messages submitted in order arrive in each
// target's mailbox in order, and an agent processes its mailbox strictly
// one message at a time. Different agents process concurrently.
//
// # Durability
//
// The registry persists every type registration and subscription change
// through an optimistic compare-and-swap cycle against a pluggable state
// store: in-memory for tests, a JSON snapshot file, or a NATS JetStream
// key-value bucket for shared deployments. Conflicting writers retry
// against a bounded attempt budget and never silently drop an update.
//
// # Getting started
//
//	reg, err := registry.New(ctx, statestore.NewMemoryStore())
//	rt := runtime.New(reg)
//	rt.RegisterAgentType(ctx, "echo", "echoes messages", newEchoAgent)
//	rt.Start(ctx)
//	defer rt.Stop()
//
//	reply, err := rt.Call(ctx, "hello", agent.AgentId{Type: "echo", Key: "default"})
//
// The cmd/agentrund binary wires these layers from a JSON configuration
// and serves Prometheus metrics.
package agentruntime

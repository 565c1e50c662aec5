// Package runtime implements the in-process message router that connects
// agents to each other.
//
// The router accepts two kinds of traffic. Send is point-to-point RPC: the
// caller names a receiving agent and gets a Future that settles with the
// receiver's reply. Publish is topic broadcast: the caller names a topic,
// the router matches it against the registry's subscriptions, and every
// matched agent receives the message at most once per publication.
//
// # Ordering
//
// All submissions funnel through one FIFO delivery queue with a single
// consumer goroutine. Consuming a delivery never runs an agent handler; it
// only resolves targets and enqueues the message into their mailboxes.
// Two messages submitted in order therefore reach a shared target's
// mailbox in the same order, regardless of how long either handler takes,
// and a handler that sends to another agent cannot deadlock the router.
//
// # Activation
//
// Agents are constructed lazily. The first send or matched publication for
// an AgentId looks up the factory registered for the id's type, constructs
// the agent, binds it to the runtime, and starts its mailbox loop.
// Activation is serialized per id, so concurrent first-touches produce
// exactly one instance.
//
// # Correlation
//
// Every send registers its message id in a pending-request table before
// the delivery is enqueued. The receiver's reply settles the entry and
// removes it. A reply for an id that is not pending indicates a routing
// bug and is surfaced as an ErrUnknownRequest rather than silently
// dropped.
//
// # Typical usage
//
//	reg, _ := registry.New(ctx, statestore.NewMemoryStore())
//	rt := runtime.New(reg)
//	rt.RegisterAgentType(ctx, "echo", "echoes messages", newEchoAgent)
//	rt.Start(ctx)
//	defer rt.Stop()
//
//	reply, err := rt.Call(ctx, "hello", agent.AgentId{Type: "echo", Key: "default"})
package runtime

// Package agent provides the actor building blocks of the runtime: identity
// types, topic subscriptions, the mailbox, and the BaseAgent actor.
//
// # Identity
//
// An AgentId (Type, Key) names exactly one logical actor instance. Agents
// are lazily instantiated the first time an id is targeted and then cached
// for the runtime's lifetime. A TopicId (Type, Source) names a publication
// channel instance; its Type is matched against subscriptions and its Source
// typically becomes the routed agent's Key.
//
// The canonical default topic for an agent instance is
// DefaultTopicType(id) = id.Type + "." + id.Key.
//
// # Subscriptions
//
// A Subscription maps topics to agent instances. TypeSubscription matches on
// exact topic-type equality; TypePrefixSubscription matches on a topic-type
// prefix. Both route a matching topic to AgentId(AgentType, topic.Source).
// Matching is pure: the matcher holds no state and performs no I/O.
//
// # Actor model
//
// BaseAgent owns one unbounded FIFO mailbox consumed by a single processing
// loop. Messages are dispatched to handlers registered per concrete message
// type via HandleFunc; the table is resolved at registration, so dispatch is
// one map lookup. Within an agent, messages are processed strictly in
// arrival order with no overlap; across agents, processing is fully
// concurrent.
//
// The lifecycle is Uninitialized -> Running -> Draining -> Stopped. An agent
// constructed outside the runtime's activation path is never bound, and all
// runtime-dependent operations on it fail fast with ErrNotInitialized.
package agent

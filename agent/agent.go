package agent

import (
	"context"
	"time"
)

// State represents the current lifecycle state of an agent actor
type State int

const (
	// StateUninitialized indicates the agent was constructed but not yet
	// bound to a runtime and started
	StateUninitialized State = iota
	// StateRunning indicates the mailbox loop is processing messages
	StateRunning
	// StateDraining indicates the mailbox is closed for writing and the
	// loop is finishing queued messages
	StateDraining
	// StateStopped indicates the mailbox loop has terminated
	StateStopped
)

// String returns a string representation of the agent state
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Agent is the runtime-facing surface of an actor. BaseAgent implements it
// and is the intended embedding point for concrete agents; the runtime only
// depends on this interface.
type Agent interface {
	ID() AgentId
	Metadata() Metadata

	// Bind attaches the runtime reference. Called exactly once by the
	// activation path; binding twice is an error.
	Bind(rt RuntimeHandle) error

	// Start launches the mailbox loop. The context bounds the loop's
	// lifetime in addition to Stop.
	Start(ctx context.Context) error

	// Stop closes the mailbox, waits up to timeout for queued messages to
	// drain, and terminates the loop.
	Stop(timeout time.Duration) error

	// Deliver enqueues an inbound message for ordered processing
	Deliver(inb Inbound) error

	// SaveState returns an opaque snapshot of the agent's state.
	// The default implementation returns an empty map.
	SaveState(ctx context.Context) (map[string]any, error)

	// LoadState restores a snapshot previously produced by SaveState.
	// The default implementation ignores the input.
	LoadState(ctx context.Context, state map[string]any) error
}

// RuntimeHandle is the narrow runtime surface available to a bound agent.
// It carries the operations an agent may invoke from inside a handler.
type RuntimeHandle interface {
	// SendMessage routes a point-to-point message and blocks until the
	// receiver's reply, an error, or cancellation.
	SendMessage(ctx context.Context, message any, receiver AgentId, sender AgentId) (any, error)

	// PublishMessage broadcasts to all subscribers of the topic and blocks
	// until every matched delivery has been attempted.
	PublishMessage(ctx context.Context, message any, topic TopicId, sender AgentId) error
}

// Factory constructs an agent instance for an id. Factories are registered
// per agent type before first activation; the runtime binds and starts the
// returned agent itself.
type Factory func(id AgentId) (Agent, error)

// Inbound is one queued unit of mailbox work: the message, its routing
// metadata, and the callback that resolves the originating delivery.
//
// Ctx is stored rather than passed because an Inbound is a queued work item;
// the mailbox loop receives it long after the producer returned. It carries
// the cancellation signal of the originating send or publish.
type Inbound struct {
	Ctx     context.Context
	Message any
	Context MessageContext

	// Respond resolves the originating delivery with the handler's reply
	// or failure. Always non-nil; for publish deliveries the value is
	// ignored and only the error is aggregated.
	Respond func(value any, err error)
}

// HandlerFunc processes one inbound message. The returned value is the RPC
// reply for send deliveries and is discarded for publish deliveries.
type HandlerFunc func(ctx context.Context, message any, mctx MessageContext) (any, error)

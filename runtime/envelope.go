package runtime

import (
	"context"
	"sync/atomic"

	"github.com/c360/agentruntime/agent"
	"github.com/c360/agentruntime/errors"
)

// Envelope wraps a message with its routing metadata. Exactly one of
// Receiver and Topic is set: Receiver for point-to-point sends that expect a
// reply, Topic for fire-and-forget broadcasts. Envelopes are immutable after
// construction.
type Envelope struct {
	Message   any
	MessageID string
	Sender    *agent.AgentId
	Receiver  *agent.AgentId
	Topic     *agent.TopicId

	// ctx carries the cancellation signal of the originating call. Stored
	// because an envelope is queued work consumed after the caller
	// returned.
	ctx context.Context
}

func newSendEnvelope(ctx context.Context, message any, messageID string, receiver agent.AgentId, sender *agent.AgentId) Envelope {
	return Envelope{
		Message:   message,
		MessageID: messageID,
		Sender:    sender,
		Receiver:  &receiver,
		ctx:       ctx,
	}
}

func newPublishEnvelope(ctx context.Context, message any, messageID string, topic agent.TopicId, sender *agent.AgentId) Envelope {
	return Envelope{
		Message:   message,
		MessageID: messageID,
		Sender:    sender,
		Topic:     &topic,
		ctx:       ctx,
	}
}

// Context returns the cancellation context bound at construction
func (e Envelope) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// servicer performs the routing work of one delivery: activating targets,
// enqueuing into their mailboxes, and arranging for sink to settle. It must
// not block on handler execution; that happens on the agents' own loops.
type servicer func(ctx context.Context, env Envelope, sink *Future)

// Delivery is one unit of queued routing work: an envelope, the servicer
// bound for it, and the result sink. The router's driver consumes each
// delivery exactly once; re-invocation is a programming error.
type Delivery struct {
	env     Envelope
	serve   servicer
	sink    *Future
	invoked atomic.Bool
}

func newDelivery(env Envelope, serve servicer) *Delivery {
	return &Delivery{
		env:   env,
		serve: serve,
		sink:  newFuture(),
	}
}

// Envelope returns the wrapped envelope
func (d *Delivery) Envelope() Envelope {
	return d.env
}

// Future returns the delivery's result sink. For sends it settles with the
// single reply value; for publishes it settles once the broadcast to all
// matched subscribers has been attempted.
func (d *Delivery) Future() *Future {
	return d.sink
}

// Invoke runs the bound servicer. The second invocation reports
// ErrDeliveryConsumed and does nothing. A canceled ctx consumes the
// delivery without running the servicer and cancels its future.
func (d *Delivery) Invoke(ctx context.Context) error {
	if !d.invoked.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrDeliveryConsumed, "Delivery", "Invoke", "single-consumption check")
	}
	if err := ctx.Err(); err != nil {
		d.sink.cancel()
		return errors.WrapTransient(err, "Delivery", "Invoke", "context check")
	}
	d.serve(ctx, d.env, d.sink)
	return nil
}

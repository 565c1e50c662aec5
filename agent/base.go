package agent

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/c360/agentruntime/errors"
)

// BaseAgent provides the actor mechanics shared by all agents: one unbounded
// FIFO mailbox, a single-consumer processing loop, a typed dispatch table,
// and send/publish operations that route back through the bound runtime.
//
// Concrete agents embed BaseAgent and register handlers at construction:
//
//	type Echo struct {
//	    *agent.BaseAgent
//	}
//
//	func NewEcho(id agent.AgentId) (agent.Agent, error) {
//	    e := &Echo{BaseAgent: agent.NewBase(id, "echoes every message")}
//	    err := agent.HandleFunc(e.BaseAgent, func(_ context.Context, msg string, _ agent.MessageContext) (any, error) {
//	        return msg, nil
//	    })
//	    return e, err
//	}
//
// Handlers for a given agent never run concurrently: the loop awaits each
// handler before dequeuing the next message. Different agents run fully
// concurrently.
type BaseAgent struct {
	id          AgentId
	description string
	logger      *slog.Logger

	handlers map[reflect.Type]HandlerFunc

	mailbox *Mailbox[Inbound]

	mu      sync.Mutex
	state   State
	runtime RuntimeHandle
	done    chan struct{}
}

// BaseOption configures a BaseAgent
type BaseOption func(*BaseAgent)

// WithLogger sets the agent's logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) BaseOption {
	return func(a *BaseAgent) {
		a.logger = logger
	}
}

// NewBase creates an unbound BaseAgent. The agent is not usable until the
// runtime's activation path binds and starts it; runtime-dependent
// operations fail with ErrNotInitialized before then, which catches agents
// constructed outside the runtime.
func NewBase(id AgentId, description string, opts ...BaseOption) *BaseAgent {
	a := &BaseAgent{
		id:          id,
		description: description,
		logger:      slog.Default(),
		handlers:    make(map[reflect.Type]HandlerFunc),
		mailbox:     NewMailbox[Inbound](),
		state:       StateUninitialized,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("agent", id.String())
	return a
}

// ID returns the agent's id
func (a *BaseAgent) ID() AgentId {
	return a.id
}

// Metadata returns the agent's descriptive view
func (a *BaseAgent) Metadata() Metadata {
	return Metadata{
		Type:        a.id.Type,
		Key:         a.id.Key,
		Description: a.description,
	}
}

// State returns the current lifecycle state
func (a *BaseAgent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// HandleFunc registers fn as the handler for messages of concrete type T.
// The dispatch table is keyed by the message's concrete type and resolved
// once here, not per message. T must therefore be a concrete type: a
// handler keyed by an interface could never be reached, because incoming
// messages are looked up by what they are, not by what they implement.
// Registering two handlers for the same type is an error.
func HandleFunc[T any](a *BaseAgent, fn func(ctx context.Context, message T, mctx MessageContext) (any, error)) error {
	msgType := reflect.TypeOf((*T)(nil)).Elem()
	if msgType.Kind() == reflect.Interface {
		return errors.WrapInvalid(
			fmt.Errorf("handler type %s is an interface; dispatch is by concrete message type", msgType),
			"BaseAgent", "HandleFunc", "handler type check")
	}
	wrapped := func(ctx context.Context, message any, mctx MessageContext) (any, error) {
		typed, ok := message.(T)
		if !ok {
			// Dispatch and registration share the same key, so this
			// indicates runtime corruption rather than a caller bug.
			return nil, errors.WrapFatal(
				fmt.Errorf("dispatch table routed %T to handler for %s", message, msgType),
				"BaseAgent", "HandleFunc", "handler dispatch")
		}
		return fn(ctx, typed, mctx)
	}
	return a.registerHandler(msgType, wrapped)
}

func (a *BaseAgent) registerHandler(msgType reflect.Type, fn HandlerFunc) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateUninitialized {
		return errors.WrapInvalid(
			fmt.Errorf("cannot register handler for %s while %s", msgType, a.state),
			"BaseAgent", "registerHandler", "lifecycle check")
	}
	if _, exists := a.handlers[msgType]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrHandlerExists, msgType),
			"BaseAgent", "registerHandler", "duplicate handler check")
	}
	a.handlers[msgType] = fn
	return nil
}

// Bind attaches the runtime reference. The runtime calls this during
// activation, before Start; agents must not call it themselves.
func (a *BaseAgent) Bind(rt RuntimeHandle) error {
	if rt == nil {
		return errors.WrapInvalid(
			fmt.Errorf("runtime handle must not be nil"),
			"BaseAgent", "Bind", "runtime validation")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.runtime != nil {
		return errors.WrapInvalid(errors.ErrAlreadyBound, "BaseAgent", "Bind", "rebind check")
	}
	a.runtime = rt
	return nil
}

// Start launches the mailbox loop. The agent must be bound first.
func (a *BaseAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.runtime == nil {
		return errors.WrapInvalid(errors.ErrNotInitialized, "BaseAgent", "Start", "bind check")
	}
	if a.state != StateUninitialized {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "BaseAgent", "Start", "lifecycle check")
	}
	a.state = StateRunning

	go a.loop(ctx)
	return nil
}

// Stop closes the mailbox for writing, waits up to timeout for queued
// messages to drain, and reports ErrStopTimeout if the loop does not finish
// in time. Stopping an agent that never started is an error.
func (a *BaseAgent) Stop(timeout time.Duration) error {
	a.mu.Lock()
	if a.state != StateRunning {
		state := a.state
		a.mu.Unlock()
		if state == StateStopped || state == StateDraining {
			return nil
		}
		return errors.WrapInvalid(errors.ErrNotStarted, "BaseAgent", "Stop", "lifecycle check")
	}
	a.state = StateDraining
	a.mu.Unlock()

	a.mailbox.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-a.done:
		return nil
	case <-timer.C:
		return errors.WrapTransient(errors.ErrStopTimeout, "BaseAgent", "Stop", "mailbox drain")
	}
}

// Deliver enqueues an inbound message for ordered processing
func (a *BaseAgent) Deliver(inb Inbound) error {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	if state == StateUninitialized {
		return errors.WrapInvalid(errors.ErrNotInitialized, "BaseAgent", "Deliver", "lifecycle check")
	}
	if err := a.mailbox.Push(inb); err != nil {
		return errors.Wrap(err, "BaseAgent", "Deliver", "mailbox enqueue")
	}
	return nil
}

// MailboxLen returns the number of messages waiting in the mailbox
func (a *BaseAgent) MailboxLen() int {
	return a.mailbox.Len()
}

// Send routes a point-to-point message through the runtime with this agent
// as the sender, blocking until the reply.
func (a *BaseAgent) Send(ctx context.Context, message any, receiver AgentId) (any, error) {
	rt, err := a.boundRuntime("Send")
	if err != nil {
		return nil, err
	}
	return rt.SendMessage(ctx, message, receiver, a.id)
}

// Publish broadcasts a message through the runtime with this agent as the
// sender, blocking until every matched delivery has been attempted.
func (a *BaseAgent) Publish(ctx context.Context, message any, topic TopicId) error {
	rt, err := a.boundRuntime("Publish")
	if err != nil {
		return err
	}
	return rt.PublishMessage(ctx, message, topic, a.id)
}

// SaveState returns an opaque state snapshot; the default is an empty map.
// Agents with durable state override this.
func (a *BaseAgent) SaveState(_ context.Context) (map[string]any, error) {
	return map[string]any{}, nil
}

// LoadState restores a snapshot; the default implementation ignores it
func (a *BaseAgent) LoadState(_ context.Context, _ map[string]any) error {
	return nil
}

func (a *BaseAgent) boundRuntime(op string) (RuntimeHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtime == nil {
		return nil, errors.WrapInvalid(errors.ErrNotInitialized, "BaseAgent", op, "bind check")
	}
	return a.runtime, nil
}

// loop is the single consumer of the mailbox. It dequeues strictly in
// arrival order and awaits each handler before the next dequeue, so no two
// messages are ever processed concurrently within one agent.
func (a *BaseAgent) loop(ctx context.Context) {
	defer func() {
		a.mu.Lock()
		a.state = StateStopped
		a.mu.Unlock()
		close(a.done)
	}()

	for {
		inb, ok := a.mailbox.Pop()
		if !ok {
			return
		}

		select {
		case <-ctx.Done():
			// Runtime context gone: fail the remaining work as canceled
			// and keep draining so no Respond is dropped.
			inb.Respond(nil, errors.WrapTransient(errors.ErrDeliveryCanceled, "BaseAgent", "loop", "runtime shutdown"))
			continue
		default:
		}

		a.process(inb)
	}
}

// process dispatches one message to its typed handler, isolating panics so
// a failing handler never terminates the mailbox loop.
func (a *BaseAgent) process(inb Inbound) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.WrapFatal(
				fmt.Errorf("handler panic: %v", r),
				"BaseAgent", "process", "handler invocation")
			a.logger.Error("Handler panicked", "message_id", inb.Context.MessageID, "panic", r)
			inb.Respond(nil, err)
		}
	}()

	msgCtx := inb.Ctx
	if msgCtx == nil {
		msgCtx = context.Background()
	}

	// A cancellation that fired while the message sat in the mailbox is a
	// distinct outcome from a handler failure.
	if msgCtx.Err() != nil {
		inb.Respond(nil, errors.WrapTransient(errors.ErrDeliveryCanceled, "BaseAgent", "process", "pre-dispatch cancellation"))
		return
	}

	a.mu.Lock()
	handler, ok := a.handlers[reflect.TypeOf(inb.Message)]
	a.mu.Unlock()

	if !ok {
		// No handler for this runtime type: report and drop, never retry.
		err := errors.WrapInvalid(
			fmt.Errorf("%w: %T", errors.ErrHandlerNotFound, inb.Message),
			"BaseAgent", "process", "handler lookup")
		a.logger.Error("No handler for message type",
			"message_type", fmt.Sprintf("%T", inb.Message),
			"message_id", inb.Context.MessageID)
		inb.Respond(nil, err)
		return
	}

	value, err := handler(msgCtx, inb.Message, inb.Context)
	if err != nil {
		a.logger.Error("Handler failed",
			"message_id", inb.Context.MessageID,
			"is_rpc", inb.Context.IsRPC,
			"error", err)
	}
	inb.Respond(value, err)
}

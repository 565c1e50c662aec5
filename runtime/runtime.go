package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/c360/agentruntime/agent"
	"github.com/c360/agentruntime/errors"
	"github.com/c360/agentruntime/metric"
	"github.com/c360/agentruntime/registry"
)

const componentName = "InProcessRuntime"

// lifecycle states of the runtime
type runtimeState int

const (
	runtimeCreated runtimeState = iota
	runtimeRunning
	runtimeStopped
)

// InProcessRuntime is the dispatch core: it accepts send and publish calls,
// consults the registry's subscriptions, lazily activates target agents,
// enqueues deliveries onto a single FIFO queue, and correlates RPC
// responses to their requests.
//
// One driver goroutine consumes the delivery queue. Dequeuing a delivery
// only enqueues the message into the target agents' mailboxes, so the
// driver preserves submission order while handler execution fans out to the
// agents' own loops.
type InProcessRuntime struct {
	registry      *registry.Registry
	logger        *slog.Logger
	metrics       *metric.Metrics
	deliverToSelf bool
	stopTimeout   time.Duration

	queue *agent.Mailbox[*Delivery]
	idle  *idleTracker

	mu         sync.Mutex
	state      runtimeState
	runCtx     context.Context
	runCancel  context.CancelFunc
	driverDone chan struct{}

	factoryMu sync.RWMutex
	factories map[string]agent.Factory

	instMu     sync.RWMutex
	instances  map[agent.AgentId]agent.Agent
	activation singleflight.Group

	reqMu    sync.Mutex
	requests map[string]*Future
}

// Option configures an InProcessRuntime
type Option func(*InProcessRuntime)

// WithLogger sets the runtime's logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *InProcessRuntime) {
		r.logger = logger
	}
}

// WithMetrics wires the runtime's Prometheus metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(r *InProcessRuntime) {
		r.metrics = m
	}
}

// WithDeliverToSelf enables delivering publications back to their sender.
// Disabled by default: an agent publishing to a topic it subscribes to does
// not re-invoke its own handler.
func WithDeliverToSelf(enabled bool) Option {
	return func(r *InProcessRuntime) {
		r.deliverToSelf = enabled
	}
}

// WithStopTimeout bounds each agent's drain during Stop. Defaults to 5s.
func WithStopTimeout(d time.Duration) Option {
	return func(r *InProcessRuntime) {
		r.stopTimeout = d
	}
}

// New creates a runtime over the given registry
func New(reg *registry.Registry, opts ...Option) *InProcessRuntime {
	r := &InProcessRuntime{
		registry:    reg,
		logger:      slog.Default(),
		stopTimeout: 5 * time.Second,
		queue:       agent.NewMailbox[*Delivery](),
		idle:        newIdleTracker(),
		factories:   make(map[string]agent.Factory),
		instances:   make(map[agent.AgentId]agent.Agent),
		requests:    make(map[string]*Future),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", componentName)
	return r
}

// Registry returns the backing registry for direct subscription management
func (r *InProcessRuntime) Registry() *registry.Registry {
	return r.registry
}

// Start launches the delivery driver. Starting twice is an error.
func (r *InProcessRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != runtimeCreated {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, componentName, "Start", "lifecycle check")
	}
	r.state = runtimeRunning
	r.runCtx, r.runCancel = context.WithCancel(ctx)
	r.driverDone = make(chan struct{})

	go r.driveDeliveries()

	if r.metrics != nil {
		r.metrics.RuntimeStatus.Set(1)
	}
	r.logger.Info("Runtime started", "deliver_to_self", r.deliverToSelf)
	return nil
}

// Stop closes the delivery queue, drains it, and stops every activated
// agent. Stopping a runtime that is not running is an error.
func (r *InProcessRuntime) Stop() error {
	r.mu.Lock()
	if r.state != runtimeRunning {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, componentName, "Stop", "lifecycle check")
	}
	r.state = runtimeStopped
	driverDone := r.driverDone
	r.mu.Unlock()

	// The driver keeps consuming until the closed queue is drained, so
	// already-submitted deliveries still reach their targets.
	r.queue.Close()

	var errs []error
	select {
	case <-driverDone:
	case <-time.After(r.stopTimeout):
		errs = append(errs, errors.WrapTransient(errors.ErrStopTimeout, componentName, "Stop", "delivery queue drain"))
	}

	r.instMu.RLock()
	agents := make([]agent.Agent, 0, len(r.instances))
	for _, ag := range r.instances {
		agents = append(agents, ag)
	}
	r.instMu.RUnlock()

	for _, ag := range agents {
		if err := ag.Stop(r.stopTimeout); err != nil {
			errs = append(errs, errors.Wrap(err, componentName, "Stop", fmt.Sprintf("stop agent %s", ag.ID())))
		}
	}

	r.runCancel()
	if r.metrics != nil {
		r.metrics.RuntimeStatus.Set(0)
	}
	r.logger.Info("Runtime stopped")
	return errors.Join(errs...)
}

// RunUntilIdle blocks until every submitted delivery and every enqueued
// mailbox message has been fully processed, or ctx is done. Intended for
// batch and test use.
func (r *InProcessRuntime) RunUntilIdle(ctx context.Context) error {
	if err := r.requireRunning("RunUntilIdle"); err != nil {
		return err
	}
	return r.idle.wait(ctx)
}

// RegisterAgentType binds a factory to an agent type name and records the
// type in the registry. Registering the same type twice is an error.
func (r *InProcessRuntime) RegisterAgentType(ctx context.Context, name, description string, factory agent.Factory) error {
	if factory == nil {
		return errors.WrapInvalid(
			fmt.Errorf("factory for %q must not be nil", name),
			componentName, "RegisterAgentType", "factory validation")
	}

	r.factoryMu.Lock()
	defer r.factoryMu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrAgentTypeExists, name),
			componentName, "RegisterAgentType", "duplicate type check")
	}
	if err := r.registry.RegisterAgentType(ctx, name, description); err != nil {
		return err
	}
	r.factories[name] = factory
	return nil
}

// AddSubscription registers a topic subscription
func (r *InProcessRuntime) AddSubscription(ctx context.Context, sub agent.Subscription) error {
	return r.registry.AddSubscription(ctx, sub)
}

// RemoveSubscription removes a subscription by id
func (r *InProcessRuntime) RemoveSubscription(ctx context.Context, id string) error {
	return r.registry.RemoveSubscription(ctx, id)
}

// MessageOption configures one send or publish call
type MessageOption func(*messageOptions)

type messageOptions struct {
	sender    *agent.AgentId
	messageID string
}

// WithSender binds the sending agent's id to the envelope
func WithSender(id agent.AgentId) MessageOption {
	return func(o *messageOptions) {
		o.sender = &id
	}
}

// WithMessageID overrides the generated message id. For sends this is the
// RPC correlation id and must be unique among in-flight requests.
func WithMessageID(id string) MessageOption {
	return func(o *messageOptions) {
		o.messageID = id
	}
}

func applyMessageOptions(opts []MessageOption) messageOptions {
	var o messageOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.messageID == "" {
		o.messageID = uuid.NewString()
	}
	return o
}

// Send routes a point-to-point message to the receiver and returns a future
// that settles with the receiver's reply. The receiver is activated lazily
// on first touch.
func (r *InProcessRuntime) Send(ctx context.Context, message any, receiver agent.AgentId, opts ...MessageOption) (*Future, error) {
	if err := r.requireRunning("Send"); err != nil {
		return nil, err
	}
	if receiver.IsZero() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("receiver id must not be zero"),
			componentName, "Send", "receiver validation")
	}

	o := applyMessageOptions(opts)
	env := newSendEnvelope(ctx, message, o.messageID, receiver, o.sender)
	d := newDelivery(env, r.serveSend)

	// The pending-request entry and the delivery share one future, so the
	// reply path and the caller observe the same settlement.
	if err := r.registerRequest(o.messageID, d.Future()); err != nil {
		return nil, err
	}

	if err := r.enqueue(d); err != nil {
		r.forgetRequest(o.messageID)
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.MessagesSent.WithLabelValues(receiver.Type, "enqueued").Inc()
	}
	return d.Future(), nil
}

// Call is Send followed by Await: it blocks until the reply
func (r *InProcessRuntime) Call(ctx context.Context, message any, receiver agent.AgentId, opts ...MessageOption) (any, error) {
	fut, err := r.Send(ctx, message, receiver, opts...)
	if err != nil {
		return nil, err
	}
	return fut.Await(ctx)
}

// Publish broadcasts a message to every subscriber matching the topic and
// returns a future that settles once delivery to all matched agents has
// been attempted. Per-target failures are isolated and aggregated; a topic
// matching zero subscriptions is a valid no-op.
func (r *InProcessRuntime) Publish(ctx context.Context, message any, topic agent.TopicId, opts ...MessageOption) (*Future, error) {
	if err := r.requireRunning("Publish"); err != nil {
		return nil, err
	}
	if topic.IsZero() {
		return nil, errors.WrapInvalid(
			fmt.Errorf("topic id must not be zero"),
			componentName, "Publish", "topic validation")
	}

	o := applyMessageOptions(opts)
	env := newPublishEnvelope(ctx, message, o.messageID, topic, o.sender)
	d := newDelivery(env, r.servePublish)

	if err := r.enqueue(d); err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.MessagesPublished.WithLabelValues(topic.Type, "enqueued").Inc()
	}
	return d.Future(), nil
}

// SendMessage implements agent.RuntimeHandle for bound agents
func (r *InProcessRuntime) SendMessage(ctx context.Context, message any, receiver agent.AgentId, sender agent.AgentId) (any, error) {
	fut, err := r.Send(ctx, message, receiver, WithSender(sender))
	if err != nil {
		return nil, err
	}
	return fut.Await(ctx)
}

// PublishMessage implements agent.RuntimeHandle for bound agents
func (r *InProcessRuntime) PublishMessage(ctx context.Context, message any, topic agent.TopicId, sender agent.AgentId) error {
	fut, err := r.Publish(ctx, message, topic, WithSender(sender))
	if err != nil {
		return err
	}
	_, err = fut.Await(ctx)
	return err
}

// AgentMetadata returns the metadata of the agent with the given id,
// activating it if needed
func (r *InProcessRuntime) AgentMetadata(ctx context.Context, id agent.AgentId) (agent.Metadata, error) {
	if err := r.requireRunning("AgentMetadata"); err != nil {
		return agent.Metadata{}, err
	}
	ag, err := r.ensureAgent(ctx, id)
	if err != nil {
		return agent.Metadata{}, err
	}
	return ag.Metadata(), nil
}

// SaveState snapshots every activated agent, keyed by id
func (r *InProcessRuntime) SaveState(ctx context.Context) (map[string]map[string]any, error) {
	r.instMu.RLock()
	agents := make(map[agent.AgentId]agent.Agent, len(r.instances))
	for id, ag := range r.instances {
		agents[id] = ag
	}
	r.instMu.RUnlock()

	out := make(map[string]map[string]any, len(agents))
	for id, ag := range agents {
		state, err := ag.SaveState(ctx)
		if err != nil {
			return nil, errors.Wrap(err, componentName, "SaveState", fmt.Sprintf("agent %s", id))
		}
		out[id.String()] = state
	}
	return out, nil
}

// LoadState restores snapshots produced by SaveState, activating agents as
// needed
func (r *InProcessRuntime) LoadState(ctx context.Context, state map[string]map[string]any) error {
	for key, agentState := range state {
		typeName, agentKey, ok := strings.Cut(key, "/")
		if !ok {
			return errors.WrapInvalid(
				fmt.Errorf("malformed agent id %q", key),
				componentName, "LoadState", "id parsing")
		}
		ag, err := r.ensureAgent(ctx, agent.AgentId{Type: typeName, Key: agentKey})
		if err != nil {
			return err
		}
		if err := ag.LoadState(ctx, agentState); err != nil {
			return errors.Wrap(err, componentName, "LoadState", fmt.Sprintf("agent %s", key))
		}
	}
	return nil
}

// driveDeliveries is the single consumer of the delivery queue. It invokes
// deliveries strictly in submission order; each invocation only enqueues
// into target mailboxes, so a slow handler never stalls the queue.
func (r *InProcessRuntime) driveDeliveries() {
	defer close(r.driverDone)

	for {
		d, ok := r.queue.Pop()
		if !ok {
			return
		}
		if r.metrics != nil {
			r.metrics.DeliveryQueueDepth.Set(float64(r.queue.Len()))
		}
		if err := d.Invoke(r.runCtx); err != nil {
			// The servicer did not run, so balance its idle accounting and
			// drop any pending request the delivery carried.
			r.idle.done()
			if d.Envelope().Receiver != nil {
				r.forgetRequest(d.Envelope().MessageID)
			}
			r.logger.Error("Delivery invocation rejected", "message_id", d.Envelope().MessageID, "error", err)
		}
	}
}

func (r *InProcessRuntime) enqueue(d *Delivery) error {
	r.idle.add(1)
	if err := r.queue.Push(d); err != nil {
		r.idle.done()
		return errors.Wrap(err, componentName, "enqueue", "delivery queue push")
	}
	if r.metrics != nil {
		r.metrics.DeliveryQueueDepth.Set(float64(r.queue.Len()))
	}
	return nil
}

// serveSend activates the receiver and hands the message to its mailbox.
// The reply path runs through the correlation table, not through this
// function's return.
func (r *InProcessRuntime) serveSend(_ context.Context, env Envelope, _ *Future) {
	defer r.idle.done()

	requestID := env.MessageID
	ag, err := r.ensureAgent(env.Context(), *env.Receiver)
	if err != nil {
		r.respondToRequest(requestID, nil, err)
		return
	}

	mctx := agent.MessageContext{
		MessageID: requestID,
		Sender:    env.Sender,
		IsRPC:     true,
	}

	start := time.Now()
	r.idle.add(1)
	inb := agent.Inbound{
		Ctx:     env.Context(),
		Message: env.Message,
		Context: mctx,
		Respond: func(value any, err error) {
			defer r.idle.done()
			r.observeHandler(ag.ID().Type, start, err)
			r.respondToRequest(requestID, value, err)
		},
	}
	if err := ag.Deliver(inb); err != nil {
		r.idle.done()
		r.respondToRequest(requestID, nil, err)
		return
	}
	r.observeMailbox(ag)
}

// servePublish fans one publication out to every matching subscriber. Each
// target gets its own ack future; the publish sink settles only after all
// acks, with per-target failures aggregated rather than short-circuiting.
func (r *InProcessRuntime) servePublish(_ context.Context, env Envelope, sink *Future) {
	defer r.idle.done()

	topic := *env.Topic
	subs := r.registry.MatchSubscriptions(topic)

	var preErrs []error
	var acks []*Future
	seen := make(map[agent.AgentId]bool)

	for _, sub := range subs {
		target, err := sub.MapToAgent(topic)
		if err != nil {
			preErrs = append(preErrs, err)
			continue
		}
		// Multiple subscriptions may map to one instance; it still gets
		// the publication at most once.
		if seen[target] {
			continue
		}
		seen[target] = true

		if env.Sender != nil && *env.Sender == target && !r.deliverToSelf {
			continue
		}

		ag, err := r.ensureAgent(env.Context(), target)
		if err != nil {
			preErrs = append(preErrs, err)
			continue
		}

		mctx := agent.MessageContext{
			MessageID: env.MessageID,
			Sender:    env.Sender,
			Topic:     &topic,
			IsRPC:     false,
		}

		ack := newFuture()
		start := time.Now()
		r.idle.add(1)
		inb := agent.Inbound{
			Ctx:     env.Context(),
			Message: env.Message,
			Context: mctx,
			Respond: func(_ any, err error) {
				defer r.idle.done()
				r.observeHandler(target.Type, start, err)
				ack.complete(nil, err)
			},
		}
		if err := ag.Deliver(inb); err != nil {
			r.idle.done()
			preErrs = append(preErrs, errors.Wrap(err, componentName, "servePublish", fmt.Sprintf("deliver to %s", target)))
			continue
		}
		r.observeMailbox(ag)
		acks = append(acks, ack)
	}

	if len(acks) == 0 {
		// Zero matches is a valid no-op; pre-delivery failures still fail
		// the publish.
		sink.complete(nil, errors.Join(preErrs...))
		return
	}

	r.idle.add(1)
	go func() {
		defer r.idle.done()
		errs := preErrs
		for _, ack := range acks {
			<-ack.Done()
			if _, err := ack.Result(); err != nil {
				errs = append(errs, err)
			}
		}
		sink.complete(nil, errors.Join(errs...))
	}()
}

func (r *InProcessRuntime) observeHandler(agentType string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.HandlerDuration.WithLabelValues(agentType).Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.HandlerErrors.WithLabelValues(agentType, errors.Classify(err).String()).Inc()
	}
}

func (r *InProcessRuntime) observeMailbox(ag agent.Agent) {
	if r.metrics == nil {
		return
	}
	if m, ok := ag.(interface{ MailboxLen() int }); ok {
		r.metrics.MailboxDepth.WithLabelValues(ag.ID().Type).Set(float64(m.MailboxLen()))
	}
}

// ensureAgent returns the live instance for an id, constructing it via the
// registered factory on first touch. Activation is serialized per id so
// concurrent first-touches cannot create two instances.
func (r *InProcessRuntime) ensureAgent(ctx context.Context, id agent.AgentId) (agent.Agent, error) {
	r.instMu.RLock()
	ag, ok := r.instances[id]
	r.instMu.RUnlock()
	if ok {
		return ag, nil
	}

	v, err, _ := r.activation.Do(id.String(), func() (any, error) {
		r.instMu.RLock()
		ag, ok := r.instances[id]
		r.instMu.RUnlock()
		if ok {
			return ag, nil
		}
		return r.activateAgent(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(agent.Agent), nil
}

func (r *InProcessRuntime) activateAgent(_ context.Context, id agent.AgentId) (agent.Agent, error) {
	r.factoryMu.RLock()
	factory, ok := r.factories[id.Type]
	r.factoryMu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrAgentTypeNotRegistered, id.Type),
			componentName, "ensureAgent", "factory lookup")
	}

	ag, err := factory(id)
	if err != nil {
		return nil, errors.Wrap(err, componentName, "ensureAgent", fmt.Sprintf("construct agent %s", id))
	}
	if ag.ID() != id {
		return nil, errors.WrapInvalid(
			fmt.Errorf("factory for %s returned agent with id %s", id.Type, ag.ID()),
			componentName, "ensureAgent", "factory contract check")
	}

	if err := ag.Bind(r); err != nil {
		return nil, errors.Wrap(err, componentName, "ensureAgent", fmt.Sprintf("bind agent %s", id))
	}

	r.mu.Lock()
	runCtx := r.runCtx
	r.mu.Unlock()
	if err := ag.Start(runCtx); err != nil {
		return nil, errors.Wrap(err, componentName, "ensureAgent", fmt.Sprintf("start agent %s", id))
	}

	r.instMu.Lock()
	r.instances[id] = ag
	r.instMu.Unlock()

	if r.metrics != nil {
		r.metrics.ActivationsTotal.WithLabelValues(id.Type).Inc()
	}
	r.logger.Debug("Activated agent", "agent", id.String())
	return ag, nil
}

// registerRequest inserts a pending RPC entry. Each request id may be
// inserted at most once.
func (r *InProcessRuntime) registerRequest(requestID string, fut *Future) error {
	r.reqMu.Lock()
	defer r.reqMu.Unlock()

	if _, exists := r.requests[requestID]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrDuplicateRequest, requestID),
			componentName, "registerRequest", "pending request insert")
	}
	r.requests[requestID] = fut
	if r.metrics != nil {
		r.metrics.PendingRequests.Set(float64(len(r.requests)))
	}
	return nil
}

func (r *InProcessRuntime) forgetRequest(requestID string) {
	r.reqMu.Lock()
	defer r.reqMu.Unlock()
	delete(r.requests, requestID)
	if r.metrics != nil {
		r.metrics.PendingRequests.Set(float64(len(r.requests)))
	}
}

// completeRequest settles the pending request for requestID. A response for
// an id that is not pending is a correlation error: it indicates a routing
// bug, so it is surfaced rather than ignored.
func (r *InProcessRuntime) completeRequest(requestID string, value any, handlerErr error) error {
	r.reqMu.Lock()
	fut, ok := r.requests[requestID]
	if ok {
		delete(r.requests, requestID)
		if r.metrics != nil {
			r.metrics.PendingRequests.Set(float64(len(r.requests)))
		}
	}
	r.reqMu.Unlock()

	if !ok {
		if r.metrics != nil {
			r.metrics.CorrelationErrors.Inc()
		}
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrUnknownRequest, requestID),
			componentName, "completeRequest", "request lookup")
	}

	fut.complete(value, handlerErr)
	return nil
}

// respondToRequest is completeRequest plus loud logging, used on the
// delivery path where there is no caller to return the error to.
func (r *InProcessRuntime) respondToRequest(requestID string, value any, handlerErr error) {
	if err := r.completeRequest(requestID, value, handlerErr); err != nil {
		r.logger.Error("RPC correlation violation", "request_id", requestID, "error", err)
	}
}

func (r *InProcessRuntime) requireRunning(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != runtimeRunning {
		return errors.WrapInvalid(errors.ErrNotStarted, componentName, op, "lifecycle check")
	}
	return nil
}

// idleTracker counts outstanding work units: queued deliveries, enqueued
// mailbox messages, and publish aggregations. RunUntilIdle waits for the
// count to reach zero.
type idleTracker struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func newIdleTracker() *idleTracker {
	t := &idleTracker{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *idleTracker) add(delta int) {
	t.mu.Lock()
	t.n += delta
	t.mu.Unlock()
}

func (t *idleTracker) done() {
	t.mu.Lock()
	t.n--
	if t.n <= 0 {
		t.cond.Broadcast()
	}
	t.mu.Unlock()
}

func (t *idleTracker) wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		t.mu.Lock()
		t.cond.Broadcast()
		t.mu.Unlock()
	})
	defer stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.n > 0 && ctx.Err() == nil {
		t.cond.Wait()
	}
	if ctx.Err() != nil && t.n > 0 {
		return errors.WrapTransient(ctx.Err(), componentName, "RunUntilIdle", "idle wait")
	}
	return nil
}

package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/c360/agentruntime/agent"
	"github.com/c360/agentruntime/errors"
	"github.com/c360/agentruntime/metric"
	"github.com/c360/agentruntime/pkg/retry"
	"github.com/c360/agentruntime/statestore"
)

// component name used in wrapped errors
const componentName = "Registry"

// Registry is the durable record of agent-type registrations and topic
// subscriptions. Every mutation runs a read-current, compute-next,
// compare-and-swap write cycle against the state store: the write succeeds
// only if the store's version token is unchanged since this registry last
// read it. Conflicting writers re-read and retry up to the attempt budget;
// exhausting it is a fatal error, never a silent drop.
type Registry struct {
	store    statestore.Store
	logger   *slog.Logger
	retryCfg retry.Config
	metrics  *metric.Metrics

	// writeMu serializes in-process mutations across the whole
	// read-compute-write-install cycle. Without it, a writer stalled
	// between the store accepting its write and the in-memory install
	// could overwrite the state a faster concurrent writer already
	// installed, leaving the cache behind the store.
	writeMu sync.Mutex

	mu    sync.RWMutex
	state *State
	token string
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry's logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithRetryConfig overrides the CAS retry budget. The default allows 5
// attempts with short exponential backoff.
func WithRetryConfig(cfg retry.Config) Option {
	return func(r *Registry) {
		r.retryCfg = cfg
	}
}

// WithMetrics wires registry write/conflict counters
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates a registry over the given store, loading persisted state or
// starting from an empty default.
func New(ctx context.Context, store statestore.Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		store:    store,
		logger:   slog.Default(),
		retryCfg: retry.Quick(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", componentName)

	if err := r.reload(ctx); err != nil {
		return nil, errors.Wrap(err, componentName, "New", "initial state load")
	}
	return r, nil
}

// RegisterAgentType records an agent type. Registering the same name twice
// is an error.
func (r *Registry) RegisterAgentType(ctx context.Context, name, description string) error {
	return r.mutate(ctx, "RegisterAgentType", func(next *State) error {
		return next.registerAgentType(TypeDescriptor{Name: name, Description: description})
	})
}

// AgentType returns the descriptor for a registered type
func (r *Registry) AgentType(name string) (TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.state.AgentTypes[name]
	return desc, ok
}

// AddSubscription persists a subscription, updating the by-id index and both
// directional maps in one CAS write.
func (r *Registry) AddSubscription(ctx context.Context, sub agent.Subscription) error {
	rec, err := NewSubscriptionRecord(sub)
	if err != nil {
		return err
	}
	return r.mutate(ctx, "AddSubscription", func(next *State) error {
		return next.addSubscription(rec)
	})
}

// RemoveSubscription removes a subscription by its id, the only valid
// removal handle. An unknown id returns ErrSubscriptionNotFound; callers
// routinely probe for existence, so this is a structured result rather than
// a fatal condition.
func (r *Registry) RemoveSubscription(ctx context.Context, id string) error {
	return r.mutate(ctx, "RemoveSubscription", func(next *State) error {
		return next.removeSubscription(id)
	})
}

// Filter restricts ListSubscriptions. Zero values match everything.
type Filter struct {
	// AgentType keeps only subscriptions routed to this agent type
	AgentType string
	// TopicType keeps only subscriptions that would match a topic of this
	// type, honoring both exact and prefix semantics
	TopicType string
}

// ListSubscriptions returns the live subscription records matching the filter
func (r *Registry) ListSubscriptions(filter Filter) []SubscriptionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []SubscriptionRecord
	for _, rec := range r.state.Subscriptions {
		if filter.AgentType != "" && rec.AgentType != filter.AgentType {
			continue
		}
		if filter.TopicType != "" {
			sub, err := rec.Subscription()
			if err != nil || !sub.Matches(agent.TopicId{Type: filter.TopicType, Source: "-"}) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}

// MatchSubscriptions returns every live subscription that matches the topic.
// All matching subscriptions receive a publication; there is no single-winner
// selection.
func (r *Registry) MatchSubscriptions(topic agent.TopicId) []agent.Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []agent.Subscription
	for _, rec := range r.state.Subscriptions {
		sub, err := rec.Subscription()
		if err != nil {
			// Corrupt record in a persisted snapshot; skip it loudly.
			r.logger.Error("Dropping unreadable subscription record", "id", rec.ID, "error", err)
			continue
		}
		if sub.Matches(topic) {
			matched = append(matched, sub)
		}
	}
	return matched
}

// Snapshot returns a deep copy of the current state for inspection
func (r *Registry) Snapshot() *State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// mutate runs one read-compute-CAS-write cycle with bounded retry. fn is
// applied to a clone; the in-memory state only advances when the store
// accepted the write. writeMu is held for the whole cycle: the CAS token
// resolves races with other processes, but two writers in this process
// must also install in commit order, and serializing them is the only way
// a writer cannot clobber the cache with a snapshot the store has already
// superseded.
func (r *Registry) mutate(ctx context.Context, op string, fn func(next *State) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	err := retry.Do(ctx, r.retryCfg, func() error {
		r.mu.RLock()
		next := r.state.Clone()
		token := r.token
		r.mu.RUnlock()

		if err := fn(next); err != nil {
			// Domain rejection, not a write race: retrying cannot help.
			return retry.NonRetryable(err)
		}

		data, err := json.Marshal(next)
		if err != nil {
			return retry.NonRetryable(errors.WrapInvalid(err, componentName, op, "state encoding"))
		}

		newToken, err := r.store.Write(ctx, data, token)
		if err != nil {
			if errors.Is(err, errors.ErrTokenMismatch) {
				// Another writer won; re-read and recompute from the top.
				r.recordWrite(op, "conflict")
				r.logger.Debug("Registry write conflict, retrying", "operation", op)
				if reloadErr := r.reload(ctx); reloadErr != nil {
					return retry.NonRetryable(reloadErr)
				}
				return err
			}
			return retry.NonRetryable(errors.WrapTransient(err, componentName, op, "state write"))
		}

		r.mu.Lock()
		r.state = next
		r.token = newToken
		r.mu.Unlock()

		r.recordWrite(op, "ok")
		return nil
	})

	if err != nil {
		if nre := new(retry.NonRetryableError); errors.As(err, &nre) {
			return nre.Err
		}
		// Retry budget spent on conflicts: fatal I/O error to the caller.
		r.recordWrite(op, "exhausted")
		return errors.WrapFatal(errors.ErrMaxRetriesExceeded, componentName, op, "optimistic write")
	}
	return nil
}

// reload replaces the in-memory state with what the store holds
func (r *Registry) reload(ctx context.Context) error {
	snap, err := r.store.Read(ctx)
	if err != nil {
		if errors.Is(err, errors.ErrStateNotFound) {
			r.mu.Lock()
			r.state = NewState()
			r.token = ""
			r.mu.Unlock()
			return nil
		}
		return errors.WrapTransient(err, componentName, "reload", "state read")
	}

	state := NewState()
	if err := json.Unmarshal(snap.Data, state); err != nil {
		return errors.WrapFatal(err, componentName, "reload", "state decoding")
	}

	r.mu.Lock()
	r.state = state
	r.token = snap.Token
	r.mu.Unlock()
	return nil
}

func (r *Registry) recordWrite(op, status string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RegistryWrites.WithLabelValues(op, status).Inc()
	if status == "conflict" {
		r.metrics.RegistryConflicts.Inc()
	}
}

package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentruntime/agent"
	"github.com/c360/agentruntime/errors"
	"github.com/c360/agentruntime/pkg/retry"
	"github.com/c360/agentruntime/statestore"
)

func newTestRegistry(t *testing.T) (*Registry, statestore.Store) {
	t.Helper()
	store := statestore.NewMemoryStore()
	reg, err := New(context.Background(), store)
	require.NoError(t, err)
	return reg, store
}

func mustExactSub(t *testing.T, topicType, agentType string) *agent.TypeSubscription {
	t.Helper()
	sub, err := agent.NewTypeSubscription(topicType, agentType)
	require.NoError(t, err)
	return sub
}

func TestRegisterAgentType(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.RegisterAgentType(ctx, "echo", "echoes messages"))

	desc, ok := reg.AgentType("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", desc.Name)
	assert.Equal(t, "echoes messages", desc.Description)

	_, ok = reg.AgentType("missing")
	assert.False(t, ok)

	err := reg.RegisterAgentType(ctx, "echo", "again")
	assert.ErrorIs(t, err, errors.ErrAgentTypeExists)
}

func TestAddAndMatchSubscriptions(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	exact := mustExactSub(t, "orders.created", "biller")
	require.NoError(t, reg.AddSubscription(ctx, exact))

	prefix, err := agent.NewTypePrefixSubscription("orders.", "auditor")
	require.NoError(t, err)
	require.NoError(t, reg.AddSubscription(ctx, prefix))

	matched := reg.MatchSubscriptions(agent.TopicId{Type: "orders.created", Source: "s"})
	require.Len(t, matched, 2)

	matched = reg.MatchSubscriptions(agent.TopicId{Type: "orders.shipped", Source: "s"})
	require.Len(t, matched, 1)
	assert.Equal(t, "auditor", matched[0].AgentType())

	matched = reg.MatchSubscriptions(agent.TopicId{Type: "payments.settled", Source: "s"})
	assert.Empty(t, matched)
}

func TestAddSubscriptionDuplicateID(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	sub := mustExactSub(t, "orders.created", "biller")
	require.NoError(t, reg.AddSubscription(ctx, sub))

	err := reg.AddSubscription(ctx, sub)
	assert.ErrorIs(t, err, errors.ErrSubscriptionExists)
}

func TestRemoveSubscription(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	sub := mustExactSub(t, "orders.created", "biller")
	require.NoError(t, reg.AddSubscription(ctx, sub))
	require.NoError(t, reg.RemoveSubscription(ctx, sub.ID()))

	assert.Empty(t, reg.MatchSubscriptions(agent.TopicId{Type: "orders.created", Source: "s"}))

	err := reg.RemoveSubscription(ctx, sub.ID())
	assert.ErrorIs(t, err, errors.ErrSubscriptionNotFound)
}

func TestDirectionalMapsStayConsistent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	first := mustExactSub(t, "orders.created", "biller")
	second := mustExactSub(t, "orders.created", "biller")
	require.NoError(t, reg.AddSubscription(ctx, first))
	require.NoError(t, reg.AddSubscription(ctx, second))

	snap := reg.Snapshot()
	assert.Equal(t, []string{"orders.created"}, snap.AgentsToTopics["biller"])
	assert.Equal(t, []string{"biller"}, snap.TopicToAgents["orders.created"])

	// Removing one of two covering subscriptions keeps the pair alive.
	require.NoError(t, reg.RemoveSubscription(ctx, first.ID()))
	snap = reg.Snapshot()
	assert.Equal(t, []string{"orders.created"}, snap.AgentsToTopics["biller"])
	assert.Len(t, snap.Subscriptions, 1)

	// Removing the last one prunes every structure together.
	require.NoError(t, reg.RemoveSubscription(ctx, second.ID()))
	snap = reg.Snapshot()
	assert.Empty(t, snap.AgentsToTopics)
	assert.Empty(t, snap.TopicToAgents)
	assert.Empty(t, snap.Subscriptions)
}

func TestListSubscriptionsFilter(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.AddSubscription(ctx, mustExactSub(t, "orders.created", "biller")))
	require.NoError(t, reg.AddSubscription(ctx, mustExactSub(t, "orders.shipped", "courier")))
	prefix, err := agent.NewTypePrefixSubscription("orders.", "auditor")
	require.NoError(t, err)
	require.NoError(t, reg.AddSubscription(ctx, prefix))

	assert.Len(t, reg.ListSubscriptions(Filter{}), 3)
	assert.Len(t, reg.ListSubscriptions(Filter{AgentType: "biller"}), 1)

	// TopicType honors both exact and prefix match semantics.
	byTopic := reg.ListSubscriptions(Filter{TopicType: "orders.created"})
	assert.Len(t, byTopic, 2)

	assert.Empty(t, reg.ListSubscriptions(Filter{AgentType: "nobody"}))
}

func TestStatePersistsAcrossRegistries(t *testing.T) {
	store := statestore.NewMemoryStore()
	ctx := context.Background()

	reg, err := New(ctx, store)
	require.NoError(t, err)
	require.NoError(t, reg.RegisterAgentType(ctx, "echo", "echoes"))
	sub := mustExactSub(t, "orders.created", "echo")
	require.NoError(t, reg.AddSubscription(ctx, sub))

	// A second registry over the same store sees the persisted state.
	reg2, err := New(ctx, store)
	require.NoError(t, err)

	desc, ok := reg2.AgentType("echo")
	require.True(t, ok)
	assert.Equal(t, "echoes", desc.Description)

	matched := reg2.MatchSubscriptions(agent.TopicId{Type: "orders.created", Source: "s"})
	require.Len(t, matched, 1)
	assert.Equal(t, sub.ID(), matched[0].ID())
}

func TestConcurrentWritersAllLand(t *testing.T) {
	store := statestore.NewMemoryStore()
	ctx := context.Background()

	// Two registries over one store race their CAS writes; the loser of
	// each round re-reads and retries, so every subscription lands.
	regA, err := New(ctx, store)
	require.NoError(t, err)
	regB, err := New(ctx, store)
	require.NoError(t, err)

	const perWriter = 10
	var wg sync.WaitGroup
	writer := func(reg *Registry, topicType string) {
		defer wg.Done()
		for i := 0; i < perWriter; i++ {
			sub, err := agent.NewTypeSubscription(topicType, "worker")
			assert.NoError(t, err)
			assert.NoError(t, reg.AddSubscription(ctx, sub))
		}
	}
	wg.Add(2)
	go writer(regA, "stream.a")
	go writer(regB, "stream.b")
	wg.Wait()

	// A fresh registry reads the final snapshot: nothing was lost.
	regC, err := New(ctx, store)
	require.NoError(t, err)
	assert.Len(t, regC.Snapshot().Subscriptions, 2*perWriter)
}

// gatedStore commits the first write to the inner store, then stalls the
// writer before Write returns. It reproduces a writer that the scheduler
// parks between the store accepting its snapshot and the caller installing
// it in memory.
type gatedStore struct {
	inner   statestore.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore(inner statestore.Store) *gatedStore {
	return &gatedStore{
		inner:   inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedStore) Read(ctx context.Context) (*statestore.Snapshot, error) {
	return g.inner.Read(ctx)
}

func (g *gatedStore) Write(ctx context.Context, data []byte, expectedToken string) (string, error) {
	token, err := g.inner.Write(ctx, data, expectedToken)
	if err != nil {
		return token, err
	}
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return token, nil
}

func TestStalledWriterDoesNotClobberNewerState(t *testing.T) {
	ctx := context.Background()
	store := newGatedStore(statestore.NewMemoryStore())

	reg, err := New(ctx, store)
	require.NoError(t, err)

	subA := mustExactSub(t, "stream.a", "worker")
	subB := mustExactSub(t, "stream.b", "worker")

	// Writer A commits to the store, then stalls before its mutation
	// cycle finishes. Writer B starts while A is parked.
	errA := make(chan error, 1)
	go func() { errA <- reg.AddSubscription(ctx, subA) }()
	<-store.entered

	errB := make(chan error, 1)
	go func() { errB <- reg.AddSubscription(ctx, subB) }()

	// Give B a window to run ahead of A's release.
	time.Sleep(20 * time.Millisecond)
	close(store.release)

	require.NoError(t, <-errA)
	require.NoError(t, <-errB)

	// Both writes were accepted by the store, so both must be live in
	// the matcher; neither writer may have installed a snapshot the
	// store had already superseded.
	assert.Len(t, reg.Snapshot().Subscriptions, 2)
	assert.Len(t, reg.MatchSubscriptions(agent.TopicId{Type: "stream.a", Source: "s"}), 1)
	assert.Len(t, reg.MatchSubscriptions(agent.TopicId{Type: "stream.b", Source: "s"}), 1)
}

// conflictingStore fails every write with a token mismatch, simulating a
// writer that always loses the CAS race.
type conflictingStore struct {
	inner statestore.Store
}

func (c *conflictingStore) Read(ctx context.Context) (*statestore.Snapshot, error) {
	return c.inner.Read(ctx)
}

func (c *conflictingStore) Write(context.Context, []byte, string) (string, error) {
	return "", errors.ErrTokenMismatch
}

func TestRetryBudgetExhaustionIsFatal(t *testing.T) {
	ctx := context.Background()
	store := &conflictingStore{inner: statestore.NewMemoryStore()}

	reg, err := New(ctx, store,
		WithRetryConfig(retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2.0,
		}))
	require.NoError(t, err)

	err = reg.AddSubscription(ctx, mustExactSub(t, "orders.created", "biller"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMaxRetriesExceeded)
	assert.True(t, errors.IsFatal(err))

	// The rejected write never leaked into the in-memory view.
	assert.Empty(t, reg.Snapshot().Subscriptions)
}

func TestMutateDomainErrorNotRetried(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.RegisterAgentType(ctx, "echo", ""))

	// The duplicate rejection surfaces directly, without the retry wrapper
	// or the fatal exhaustion error.
	err := reg.RegisterAgentType(ctx, "echo", "")
	assert.ErrorIs(t, err, errors.ErrAgentTypeExists)
	assert.False(t, errors.Is(err, errors.ErrMaxRetriesExceeded))
}

func TestSnapshotIsACopy(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.AddSubscription(ctx, mustExactSub(t, "orders.created", "biller")))

	snap := reg.Snapshot()
	delete(snap.Subscriptions, mustKey(snap))

	assert.Len(t, reg.Snapshot().Subscriptions, 1)
}

func mustKey(s *State) string {
	for id := range s.Subscriptions {
		return id
	}
	return ""
}

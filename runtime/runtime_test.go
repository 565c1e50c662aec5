package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentruntime/agent"
	"github.com/c360/agentruntime/errors"
	"github.com/c360/agentruntime/registry"
	"github.com/c360/agentruntime/statestore"
)

// echoAgent replies with the string it received
type echoAgent struct {
	*agent.BaseAgent
}

func newEchoAgent(id agent.AgentId) (agent.Agent, error) {
	e := &echoAgent{BaseAgent: agent.NewBase(id, "echoes every message")}
	err := agent.HandleFunc(e.BaseAgent, func(_ context.Context, msg string, _ agent.MessageContext) (any, error) {
		return msg, nil
	})
	return e, err
}

// recordingAgent captures every message and message context it receives
type recordingAgent struct {
	*agent.BaseAgent

	mu       sync.Mutex
	messages []string
	contexts []agent.MessageContext
	fail     bool
}

func newRecordingAgent(id agent.AgentId) (*recordingAgent, error) {
	r := &recordingAgent{BaseAgent: agent.NewBase(id, "records received messages")}
	err := agent.HandleFunc(r.BaseAgent, func(_ context.Context, msg string, mctx agent.MessageContext) (any, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.messages = append(r.messages, msg)
		r.contexts = append(r.contexts, mctx)
		if r.fail {
			return nil, fmt.Errorf("handler rejected %q", msg)
		}
		return nil, nil
	})
	return r, err
}

func (r *recordingAgent) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *recordingAgent) lastContext(t *testing.T) agent.MessageContext {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.contexts)
	return r.contexts[len(r.contexts)-1]
}

func newTestRuntime(t *testing.T, opts ...Option) *InProcessRuntime {
	t.Helper()
	reg, err := registry.New(context.Background(), statestore.NewMemoryStore())
	require.NoError(t, err)
	return New(reg, opts...)
}

func startRuntime(t *testing.T, opts ...Option) *InProcessRuntime {
	t.Helper()
	rt := newTestRuntime(t, opts...)
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() {
		_ = rt.Stop()
	})
	return rt
}

func TestRuntimeLifecycle(t *testing.T) {
	rt := newTestRuntime(t)
	ctx := context.Background()

	// Operations before Start fail fast.
	_, err := rt.Send(ctx, "hi", agent.AgentId{Type: "echo", Key: "a"})
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	assert.ErrorIs(t, rt.Stop(), errors.ErrNotStarted)

	require.NoError(t, rt.Start(ctx))
	assert.ErrorIs(t, rt.Start(ctx), errors.ErrAlreadyStarted)

	require.NoError(t, rt.Stop())
	assert.ErrorIs(t, rt.Stop(), errors.ErrNotStarted)

	// A stopped runtime stays stopped.
	assert.ErrorIs(t, rt.Start(ctx), errors.ErrAlreadyStarted)
}

func TestSendRoundTrip(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	require.NoError(t, rt.RegisterAgentType(ctx, "echo", "echo agent", newEchoAgent))

	reply, err := rt.Call(ctx, "hello", agent.AgentId{Type: "echo", Key: "default"})
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)
}

func TestSendToUnregisteredType(t *testing.T) {
	rt := startRuntime(t)

	_, err := rt.Call(context.Background(), "hello", agent.AgentId{Type: "nope", Key: "a"})
	assert.ErrorIs(t, err, errors.ErrAgentTypeNotRegistered)
}

func TestSendPreservesSubmissionOrder(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	var rec *recordingAgent
	require.NoError(t, rt.RegisterAgentType(ctx, "recorder", "", func(id agent.AgentId) (agent.Agent, error) {
		var err error
		rec, err = newRecordingAgent(id)
		return rec, err
	}))

	target := agent.AgentId{Type: "recorder", Key: "a"}
	var futs []*Future
	for i := 0; i < 20; i++ {
		fut, err := rt.Send(ctx, fmt.Sprintf("msg-%02d", i), target)
		require.NoError(t, err)
		futs = append(futs, fut)
	}
	for _, fut := range futs {
		_, err := fut.Await(ctx)
		require.NoError(t, err)
	}

	got := rec.received()
	require.Len(t, got, 20)
	for i, msg := range got {
		assert.Equal(t, fmt.Sprintf("msg-%02d", i), msg)
	}
}

func TestDuplicateRequestID(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	blocker := make(chan struct{})
	require.NoError(t, rt.RegisterAgentType(ctx, "slow", "", func(id agent.AgentId) (agent.Agent, error) {
		a := agent.NewBase(id, "")
		err := agent.HandleFunc(a, func(_ context.Context, msg string, _ agent.MessageContext) (any, error) {
			<-blocker
			return msg, nil
		})
		return a, err
	}))
	defer close(blocker)

	target := agent.AgentId{Type: "slow", Key: "a"}
	_, err := rt.Send(ctx, "first", target, WithMessageID("req-1"))
	require.NoError(t, err)

	_, err = rt.Send(ctx, "second", target, WithMessageID("req-1"))
	assert.ErrorIs(t, err, errors.ErrDuplicateRequest)
}

func TestCorrelationUnknownRequest(t *testing.T) {
	rt := startRuntime(t)

	err := rt.completeRequest("never-registered", "value", nil)
	assert.ErrorIs(t, err, errors.ErrUnknownRequest)
}

func TestCorrelationAtMostOnce(t *testing.T) {
	rt := startRuntime(t)

	fut := newFuture()
	require.NoError(t, rt.registerRequest("req-1", fut))

	require.NoError(t, rt.completeRequest("req-1", "first", nil))
	// The entry is gone: a second response for the same id is a
	// correlation error, and the future keeps the first value.
	assert.ErrorIs(t, rt.completeRequest("req-1", "second", nil), errors.ErrUnknownRequest)

	value, err := fut.Result()
	require.NoError(t, err)
	assert.Equal(t, "first", value)
}

func TestPublishExactMatch(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	recorders := make(map[agent.AgentId]*recordingAgent)
	var mu sync.Mutex
	require.NoError(t, rt.RegisterAgentType(ctx, "recorder", "", func(id agent.AgentId) (agent.Agent, error) {
		rec, err := newRecordingAgent(id)
		mu.Lock()
		recorders[id] = rec
		mu.Unlock()
		return rec, err
	}))

	sub, err := agent.NewTypeSubscription("orders.created", "recorder")
	require.NoError(t, err)
	require.NoError(t, rt.AddSubscription(ctx, sub))

	topic := agent.TopicId{Type: "orders.created", Source: "store-west"}
	fut, err := rt.Publish(ctx, "order-1", topic)
	require.NoError(t, err)
	_, err = fut.Await(ctx)
	require.NoError(t, err)

	// The subscription maps the topic source onto the agent key.
	mu.Lock()
	rec := recorders[agent.AgentId{Type: "recorder", Key: "store-west"}]
	mu.Unlock()
	require.NotNil(t, rec)
	assert.Equal(t, []string{"order-1"}, rec.received())

	mctx := rec.lastContext(t)
	require.NotNil(t, mctx.Topic)
	assert.Equal(t, topic, *mctx.Topic)
	assert.False(t, mctx.IsRPC)

	// A different topic type does not match.
	fut, err = rt.Publish(ctx, "order-2", agent.TopicId{Type: "orders.shipped", Source: "store-west"})
	require.NoError(t, err)
	_, err = fut.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"order-1"}, rec.received())
}

func TestPublishPrefixMatch(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	var rec *recordingAgent
	require.NoError(t, rt.RegisterAgentType(ctx, "auditor", "", func(id agent.AgentId) (agent.Agent, error) {
		var err error
		rec, err = newRecordingAgent(id)
		return rec, err
	}))

	sub, err := agent.NewTypePrefixSubscription("orders.", "auditor")
	require.NoError(t, err)
	require.NoError(t, rt.AddSubscription(ctx, sub))

	for _, topicType := range []string{"orders.created", "orders.shipped"} {
		fut, err := rt.Publish(ctx, topicType, agent.TopicId{Type: topicType, Source: "store-east"})
		require.NoError(t, err)
		_, err = fut.Await(ctx)
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, []string{"orders.created", "orders.shipped"}, rec.received())

	fut, err := rt.Publish(ctx, "nope", agent.TopicId{Type: "payments.settled", Source: "store-east"})
	require.NoError(t, err)
	_, err = fut.Await(ctx)
	require.NoError(t, err)
	assert.Len(t, rec.received(), 2)
}

func TestPublishNoSubscribersIsNoOp(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	fut, err := rt.Publish(ctx, "nobody listens", agent.TopicId{Type: "void", Source: "a"})
	require.NoError(t, err)
	_, err = fut.Await(ctx)
	assert.NoError(t, err)
}

func TestPublishAtMostOncePerAgent(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	var rec *recordingAgent
	require.NoError(t, rt.RegisterAgentType(ctx, "recorder", "", func(id agent.AgentId) (agent.Agent, error) {
		var err error
		rec, err = newRecordingAgent(id)
		return rec, err
	}))

	// Both subscriptions map the topic to the same agent instance.
	exact, err := agent.NewTypeSubscription("orders.created", "recorder")
	require.NoError(t, err)
	require.NoError(t, rt.AddSubscription(ctx, exact))
	prefix, err := agent.NewTypePrefixSubscription("orders.", "recorder")
	require.NoError(t, err)
	require.NoError(t, rt.AddSubscription(ctx, prefix))

	fut, err := rt.Publish(ctx, "order-1", agent.TopicId{Type: "orders.created", Source: "s"})
	require.NoError(t, err)
	_, err = fut.Await(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"order-1"}, rec.received())
}

func TestPublishFailureIsolation(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	var failing, healthy *recordingAgent
	require.NoError(t, rt.RegisterAgentType(ctx, "flaky", "", func(id agent.AgentId) (agent.Agent, error) {
		var err error
		failing, err = newRecordingAgent(id)
		failing.fail = true
		return failing, err
	}))
	require.NoError(t, rt.RegisterAgentType(ctx, "steady", "", func(id agent.AgentId) (agent.Agent, error) {
		var err error
		healthy, err = newRecordingAgent(id)
		return healthy, err
	}))

	for _, agentType := range []string{"flaky", "steady"} {
		sub, err := agent.NewTypeSubscription("events", agentType)
		require.NoError(t, err)
		require.NoError(t, rt.AddSubscription(ctx, sub))
	}

	fut, err := rt.Publish(ctx, "e-1", agent.TopicId{Type: "events", Source: "s"})
	require.NoError(t, err)
	_, err = fut.Await(ctx)

	// One handler failing does not keep the other from receiving, but the
	// publish surfaces the aggregated failure.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler rejected")
	assert.Equal(t, []string{"e-1"}, failing.received())
	assert.Equal(t, []string{"e-1"}, healthy.received())
}

func TestPublishSelfDeliverySuppressed(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	var rec *recordingAgent
	require.NoError(t, rt.RegisterAgentType(ctx, "looper", "", func(id agent.AgentId) (agent.Agent, error) {
		var err error
		rec, err = newRecordingAgent(id)
		return rec, err
	}))

	sub, err := agent.NewTypeSubscription("events", "looper")
	require.NoError(t, err)
	require.NoError(t, rt.AddSubscription(ctx, sub))

	self := agent.AgentId{Type: "looper", Key: "s"}
	fut, err := rt.Publish(ctx, "from myself", agent.TopicId{Type: "events", Source: "s"}, WithSender(self))
	require.NoError(t, err)
	_, err = fut.Await(ctx)
	require.NoError(t, err)

	// The publication mapped back to the sender, so nothing was delivered
	// and the agent was never activated.
	assert.Nil(t, rec)
}

func TestPublishDeliverToSelfEnabled(t *testing.T) {
	rt := startRuntime(t, WithDeliverToSelf(true))
	ctx := context.Background()

	var rec *recordingAgent
	require.NoError(t, rt.RegisterAgentType(ctx, "looper", "", func(id agent.AgentId) (agent.Agent, error) {
		var err error
		rec, err = newRecordingAgent(id)
		return rec, err
	}))

	sub, err := agent.NewTypeSubscription("events", "looper")
	require.NoError(t, err)
	require.NoError(t, rt.AddSubscription(ctx, sub))

	self := agent.AgentId{Type: "looper", Key: "s"}
	fut, err := rt.Publish(ctx, "from myself", agent.TopicId{Type: "events", Source: "s"}, WithSender(self))
	require.NoError(t, err)
	_, err = fut.Await(ctx)
	require.NoError(t, err)

	require.NotNil(t, rec)
	assert.Equal(t, []string{"from myself"}, rec.received())
}

func TestRemoveSubscriptionStopsDelivery(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	var rec *recordingAgent
	require.NoError(t, rt.RegisterAgentType(ctx, "recorder", "", func(id agent.AgentId) (agent.Agent, error) {
		var err error
		rec, err = newRecordingAgent(id)
		return rec, err
	}))

	sub, err := agent.NewTypeSubscription("events", "recorder")
	require.NoError(t, err)
	require.NoError(t, rt.AddSubscription(ctx, sub))

	topic := agent.TopicId{Type: "events", Source: "s"}
	fut, err := rt.Publish(ctx, "before", topic)
	require.NoError(t, err)
	_, err = fut.Await(ctx)
	require.NoError(t, err)

	require.NoError(t, rt.RemoveSubscription(ctx, sub.ID()))

	fut, err = rt.Publish(ctx, "after", topic)
	require.NoError(t, err)
	_, err = fut.Await(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"before"}, rec.received())
}

func TestLazyActivationExactlyOnce(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	var constructed atomic.Int32
	require.NoError(t, rt.RegisterAgentType(ctx, "echo", "", func(id agent.AgentId) (agent.Agent, error) {
		constructed.Add(1)
		return newEchoAgent(id)
	}))

	target := agent.AgentId{Type: "echo", Key: "singleton"}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rt.Call(ctx, fmt.Sprintf("m%d", i), target)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), constructed.Load())
}

func TestRegisterAgentTypeDuplicate(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	require.NoError(t, rt.RegisterAgentType(ctx, "echo", "", newEchoAgent))
	err := rt.RegisterAgentType(ctx, "echo", "", newEchoAgent)
	assert.ErrorIs(t, err, errors.ErrAgentTypeExists)
}

func TestAgentMetadata(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	require.NoError(t, rt.RegisterAgentType(ctx, "echo", "echoes every message", newEchoAgent))

	md, err := rt.AgentMetadata(ctx, agent.AgentId{Type: "echo", Key: "a"})
	require.NoError(t, err)
	assert.Equal(t, "echo", md.Type)
	assert.Equal(t, "a", md.Key)
	assert.Equal(t, "echoes every message", md.Description)
}

func TestRunUntilIdle(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	var rec *recordingAgent
	require.NoError(t, rt.RegisterAgentType(ctx, "recorder", "", func(id agent.AgentId) (agent.Agent, error) {
		var err error
		rec, err = newRecordingAgent(id)
		return rec, err
	}))

	sub, err := agent.NewTypeSubscription("events", "recorder")
	require.NoError(t, err)
	require.NoError(t, rt.AddSubscription(ctx, sub))

	target := agent.AgentId{Type: "recorder", Key: "s"}
	for i := 0; i < 5; i++ {
		_, err := rt.Send(ctx, fmt.Sprintf("send-%d", i), target)
		require.NoError(t, err)
	}
	_, err = rt.Publish(ctx, "pub", agent.TopicId{Type: "events", Source: "s"})
	require.NoError(t, err)

	require.NoError(t, rt.RunUntilIdle(ctx))
	assert.Len(t, rec.received(), 6)
}

func TestRunUntilIdleContextDeadline(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	blocker := make(chan struct{})
	require.NoError(t, rt.RegisterAgentType(ctx, "slow", "", func(id agent.AgentId) (agent.Agent, error) {
		a := agent.NewBase(id, "")
		err := agent.HandleFunc(a, func(_ context.Context, msg string, _ agent.MessageContext) (any, error) {
			<-blocker
			return msg, nil
		})
		return a, err
	}))
	defer close(blocker)

	_, err := rt.Send(ctx, "stuck", agent.AgentId{Type: "slow", Key: "a"})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err = rt.RunUntilIdle(waitCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSaveAndLoadState(t *testing.T) {
	rt := startRuntime(t)
	ctx := context.Background()

	require.NoError(t, rt.RegisterAgentType(ctx, "counter", "", newCounterAgent))

	target := agent.AgentId{Type: "counter", Key: "a"}
	for i := 0; i < 3; i++ {
		_, err := rt.Call(ctx, "tick", target)
		require.NoError(t, err)
	}

	state, err := rt.SaveState(ctx)
	require.NoError(t, err)
	require.Contains(t, state, "counter/a")
	assert.Equal(t, 3, state["counter/a"]["count"])

	// A fresh runtime restores the snapshot and keeps counting from it.
	rt2 := startRuntime(t)
	require.NoError(t, rt2.RegisterAgentType(ctx, "counter", "", newCounterAgent))
	require.NoError(t, rt2.LoadState(ctx, state))

	reply, err := rt2.Call(ctx, "tick", target)
	require.NoError(t, err)
	assert.Equal(t, 4, reply)
}

func TestLoadStateMalformedKey(t *testing.T) {
	rt := startRuntime(t)

	err := rt.LoadState(context.Background(), map[string]map[string]any{
		"no-separator": {},
	})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "malformed agent id"))
}

// counterAgent counts ticks and persists the count through the state hooks
type counterAgent struct {
	*agent.BaseAgent

	mu    sync.Mutex
	count int
}

func newCounterAgent(id agent.AgentId) (agent.Agent, error) {
	c := &counterAgent{BaseAgent: agent.NewBase(id, "counts ticks")}
	err := agent.HandleFunc(c.BaseAgent, func(_ context.Context, _ string, _ agent.MessageContext) (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.count++
		return c.count, nil
	})
	return c, err
}

func (c *counterAgent) SaveState(_ context.Context) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{"count": c.count}, nil
}

func (c *counterAgent) LoadState(_ context.Context, state map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := state["count"].(type) {
	case int:
		c.count = v
	case float64:
		c.count = int(v)
	default:
		return fmt.Errorf("state has no usable count, got %T", state["count"])
	}
	return nil
}

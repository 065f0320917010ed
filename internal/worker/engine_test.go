package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noesislabs/noesis/pkg/atomspace"
	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/noesislabs/noesis/pkg/reasoning"
)

func testConfig() *Config {
	return &Config{
		InstanceName:        "test-instance",
		NodeName:            "worker-1",
		RedisURL:            "redis://localhost:6379",
		Endpoint:            "inproc://worker-1",
		Capabilities:        []reasoning.Capability{reasoning.CapabilityDeductive, reasoning.CapabilityHybrid},
		HeartbeatIntervalMs: 100,
		MaxConcurrent:       2,
	}
}

func setupEngine(t *testing.T) (*Engine, *mesh.Client) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := mesh.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return New(testConfig(), client), client
}

// startEngine runs the engine until test cleanup and waits for its node
// registration to land.
func startEngine(t *testing.T, e *Engine, client *mesh.Client) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("engine did not shut down")
		}
	})

	require.Eventually(t, func() bool {
		if e.NodeID() == "" {
			return false
		}
		_, err := client.GetNode(context.Background(), e.NodeID())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "node never registered")

	// Let the dispatch subscription attach.
	time.Sleep(50 * time.Millisecond)
}

func TestEngineRegistersOnStart(t *testing.T) {
	e, client := setupEngine(t)
	startEngine(t, e, client)

	node, err := client.GetNode(context.Background(), e.NodeID())
	require.NoError(t, err)
	assert.Equal(t, mesh.NodeStatusOnline, node.Status)
	assert.Equal(t, "inproc://worker-1", node.Endpoint)
	assert.Equal(t, 1.0, node.Performance.Reliability)
}

func TestEnginePublishesHeartbeats(t *testing.T) {
	e, client := setupEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := client.SubscribeHeartbeats(ctx)
	require.NoError(t, err)
	defer sub.Close()
	time.Sleep(50 * time.Millisecond)

	startEngine(t, e, client)

	select {
	case hb := <-sub.Events():
		assert.Equal(t, e.NodeID(), hb.NodeID)
		assert.Equal(t, mesh.NodeStatusOnline, hb.Status)
		assert.Zero(t, hb.Workload)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestEngineExecutesDispatchedTask(t *testing.T) {
	e, client := setupEngine(t)

	// Seed the knowledge store with one implication so the deductive
	// engine has something to conclude.
	socrates := atomspace.Atom{Type: "concept", Name: "socrates", Truth: &atomspace.TruthValue{Strength: 1, Confidence: 0.9}}
	socratesID := e.Store().AddAtom(socrates)
	mortal := atomspace.Atom{Type: "concept", Name: "mortal", Truth: &atomspace.TruthValue{Strength: 1, Confidence: 0.9}}
	mortalID := e.Store().AddAtom(mortal)
	e.Store().AddAtom(atomspace.Atom{
		Type:     "implication",
		Name:     "socrates-is-mortal",
		Truth:    &atomspace.TruthValue{Strength: 0.95, Confidence: 0.9},
		Outgoing: []string{socratesID, mortalID},
	})

	startEngine(t, e, client)

	ctx := context.Background()
	taskID := uuid.New().String()
	results, err := client.SubscribeTaskResults(ctx, taskID)
	require.NoError(t, err)
	defer results.Close()
	time.Sleep(50 * time.Millisecond)

	storedSocrates, ok := e.Store().GetAtom(socratesID)
	require.True(t, ok)
	require.NoError(t, client.PublishDispatch(ctx, &mesh.DispatchMessage{
		TaskID: taskID,
		NodeID: e.NodeID(),
		Query: reasoning.Query{
			Type:  reasoning.CapabilityDeductive,
			Atoms: []atomspace.Atom{storedSocrates},
		},
		DeadlineMs: time.Now().Add(5 * time.Second).UnixMilli(),
	}))

	var kinds []mesh.ResultMessageKind
	var nodeResult *mesh.NodeResult
	for len(kinds) < 2 {
		select {
		case msg := <-results.Events():
			kinds = append(kinds, msg.Kind)
			if msg.Kind == mesh.ResultKindResult {
				nodeResult = msg.NodeResult
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for ack and result, got %v", kinds)
		}
	}

	assert.Equal(t, []mesh.ResultMessageKind{mesh.ResultKindAck, mesh.ResultKindResult}, kinds)
	require.NotNil(t, nodeResult)
	assert.Equal(t, e.NodeID(), nodeResult.NodeID)
	assert.Greater(t, nodeResult.Result.Confidence, 0.0)
	assert.NotEmpty(t, nodeResult.Result.Conclusion)
}

func TestEngineFallsBackToHybridForUnknownType(t *testing.T) {
	e, client := setupEngine(t)
	startEngine(t, e, client)

	ctx := context.Background()
	taskID := uuid.New().String()
	results, err := client.SubscribeTaskResults(ctx, taskID)
	require.NoError(t, err)
	defer results.Close()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, client.PublishDispatch(ctx, &mesh.DispatchMessage{
		TaskID: taskID,
		NodeID: e.NodeID(),
		Query:  reasoning.Query{Type: "quantum"},
	}))

	for {
		select {
		case msg := <-results.Events():
			if msg.Kind != mesh.ResultKindResult {
				continue
			}
			// Unknown query types run through the hybrid fan-out rather
			// than erroring.
			assert.NotNil(t, msg.NodeResult)
			assert.Empty(t, msg.NodeResult.Error)
			return
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for result")
		}
	}
}

func TestEngineDeregistersOnShutdown(t *testing.T) {
	e, client := setupEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	require.Eventually(t, func() bool { return e.NodeID() != "" }, 2*time.Second, 10*time.Millisecond)
	nodeID := e.NodeID()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not shut down")
	}

	_, err := client.GetNode(context.Background(), nodeID)
	assert.True(t, mesh.IsNotFound(err), "node record should be removed on shutdown")
}

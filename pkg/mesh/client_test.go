package mesh

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noesislabs/noesis/pkg/reasoning"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func makeTestTask(priority TaskPriority, createdAtMs int64) *Task {
	return &Task{
		ID:       uuid.New().String(),
		Query:    reasoning.Query{Type: reasoning.CapabilityDeductive, Context: "test"},
		Priority: priority,
		Constraints: Constraints{
			MaxExecutionTimeMs: 5000,
			MinConfidence:      0.3,
		},
		Status:      TaskStatusPending,
		CreatedAtMs: createdAtMs,
	}
}

func TestNewClient(t *testing.T) {
	t.Run("creates client successfully", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.NotNil(t, client)
		assert.Equal(t, "test-instance", client.InstanceName())
	})

	t.Run("rejects empty instance name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "instance name cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestNodeCRUD(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	node := validTestNode()

	t.Run("put and get round-trip", func(t *testing.T) {
		require.NoError(t, client.PutNode(ctx, node))

		got, err := client.GetNode(ctx, node.ID)
		require.NoError(t, err)
		assert.Equal(t, node.ID, got.ID)
		assert.Equal(t, node.Endpoint, got.Endpoint)
		assert.Equal(t, node.Capabilities, got.Capabilities)
		assert.Equal(t, node.Status, got.Status)
		assert.Equal(t, node.Workload, got.Workload)
		assert.Equal(t, node.Performance, got.Performance)
	})

	t.Run("rejects invalid node", func(t *testing.T) {
		bad := validTestNode()
		bad.Endpoint = ""
		assert.Error(t, client.PutNode(ctx, bad))
	})

	t.Run("get missing node returns not found", func(t *testing.T) {
		_, err := client.GetNode(ctx, uuid.New().String())
		assert.True(t, IsNotFound(err))
	})

	t.Run("put is idempotent and lists once", func(t *testing.T) {
		require.NoError(t, client.PutNode(ctx, node))

		nodes, err := client.ListNodes(ctx)
		require.NoError(t, err)
		assert.Len(t, nodes, 1)
	})

	t.Run("remove node", func(t *testing.T) {
		removed, err := client.RemoveNode(ctx, node.ID)
		require.NoError(t, err)
		assert.True(t, removed)

		_, err = client.GetNode(ctx, node.ID)
		assert.True(t, IsNotFound(err))

		removed, err = client.RemoveNode(ctx, node.ID)
		require.NoError(t, err)
		assert.False(t, removed)
	})
}

func TestTaskCRUD(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	task := makeTestTask(TaskPriorityHigh, time.Now().UnixMilli())
	task.RequiredCapabilities = []reasoning.Capability{reasoning.CapabilityDeductive}

	t.Run("create and get round-trip", func(t *testing.T) {
		require.NoError(t, client.CreateTask(ctx, task))

		got, err := client.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, task.ID, got.ID)
		assert.Equal(t, task.Query, got.Query)
		assert.Equal(t, task.Priority, got.Priority)
		assert.Equal(t, task.RequiredCapabilities, got.RequiredCapabilities)
		assert.Equal(t, task.Constraints, got.Constraints)
		assert.Equal(t, task.Status, got.Status)
		assert.Equal(t, task.CreatedAtMs, got.CreatedAtMs)
	})

	t.Run("update advances status", func(t *testing.T) {
		task.Status = TaskStatusAssigned
		task.AssignedNodes = []string{uuid.New().String()}
		require.NoError(t, client.UpdateTask(ctx, task))

		got, err := client.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, TaskStatusAssigned, got.Status)
		assert.Equal(t, task.AssignedNodes, got.AssignedNodes)
	})

	t.Run("list includes the task", func(t *testing.T) {
		tasks, err := client.ListTasks(ctx)
		require.NoError(t, err)
		assert.Len(t, tasks, 1)
	})

	t.Run("delete removes task and result", func(t *testing.T) {
		require.NoError(t, client.DeleteTask(ctx, task.ID))

		_, err := client.GetTask(ctx, task.ID)
		assert.True(t, IsNotFound(err))
	})
}

func TestTaskQueueOrdering(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	now := time.Now().UnixMilli()
	lowOld := makeTestTask(TaskPriorityLow, now-10000)
	mediumA := makeTestTask(TaskPriorityMedium, now)
	mediumB := makeTestTask(TaskPriorityMedium, now+5)
	critical := makeTestTask(TaskPriorityCritical, now+100)

	// Enqueue out of order.
	for _, task := range []*Task{mediumB, lowOld, critical, mediumA} {
		require.NoError(t, client.CreateTask(ctx, task))
		require.NoError(t, client.EnqueueTask(ctx, task))
	}

	depth, err := client.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), depth)

	// Critical first despite being newest, then FIFO within medium,
	// then the old low-priority task.
	wantOrder := []string{critical.ID, mediumA.ID, mediumB.ID, lowOld.ID}
	for i, want := range wantOrder {
		got, err := client.DequeueTask(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got, "dequeue position %d", i)
	}

	_, err = client.DequeueTask(ctx)
	assert.True(t, IsNotFound(err), "empty queue should report not found")
}

func TestRemoveQueuedTask(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	task := makeTestTask(TaskPriorityMedium, time.Now().UnixMilli())
	require.NoError(t, client.CreateTask(ctx, task))
	require.NoError(t, client.EnqueueTask(ctx, task))

	removed, err := client.RemoveQueuedTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = client.RemoveQueuedTask(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	depth, err := client.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestResultRoundTrip(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	taskID := uuid.New().String()
	nodeID := uuid.New().String()
	result := &DistributedResult{
		TaskID: taskID,
		NodeResults: []NodeResult{
			{
				NodeID: nodeID,
				Result: reasoning.Result{
					Confidence:  0.8,
					Explanation: "deductive: derived 2 conclusions",
				},
				ExecutionTimeMs: 42,
				Reliability:     0.95,
			},
		},
		Aggregated: reasoning.Result{
			Confidence:  0.8,
			Explanation: "majority-vote over 1 result",
		},
		ConsensusLevel:  1.0,
		ExecutionTimeMs: 50,
		NodesUsed:       1,
		Metadata:        map[string]string{"strategy": "majority-vote"},
	}

	require.NoError(t, client.PutResult(ctx, result))

	got, err := client.GetResult(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, result, got)

	_, err = client.GetResult(ctx, uuid.New().String())
	assert.True(t, IsNotFound(err))
}

func TestHeartbeatPubSub(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeHeartbeats(ctx)
	require.NoError(t, err)
	defer sub.Close()

	// Give the subscriber goroutine time to attach.
	time.Sleep(50 * time.Millisecond)

	hb := &Heartbeat{
		NodeID:      uuid.New().String(),
		Status:      NodeStatusOnline,
		Workload:    0.4,
		TimestampMs: time.Now().UnixMilli(),
	}
	require.NoError(t, client.PublishHeartbeat(ctx, hb))

	select {
	case got := <-sub.Events():
		assert.Equal(t, hb.NodeID, got.NodeID)
		assert.Equal(t, hb.Status, got.Status)
		assert.Equal(t, hb.Workload, got.Workload)
	case err := <-sub.Errors():
		t.Fatalf("unexpected subscription error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat event")
	}
}

func TestDispatchAndResultPubSub(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	nodeID := uuid.New().String()
	taskID := uuid.New().String()

	dispatchSub, err := client.SubscribeDispatches(ctx, nodeID)
	require.NoError(t, err)
	defer dispatchSub.Close()

	resultSub, err := client.SubscribeTaskResults(ctx, taskID)
	require.NoError(t, err)
	defer resultSub.Close()

	time.Sleep(50 * time.Millisecond)

	dispatch := &DispatchMessage{
		TaskID:     taskID,
		NodeID:     nodeID,
		Query:      reasoning.Query{Type: reasoning.CapabilityInductive},
		DeadlineMs: time.Now().Add(5 * time.Second).UnixMilli(),
	}
	require.NoError(t, client.PublishDispatch(ctx, dispatch))

	select {
	case got := <-dispatchSub.Events():
		assert.Equal(t, taskID, got.TaskID)
		assert.Equal(t, dispatch.Query.Type, got.Query.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	ack := &ResultMessage{Kind: ResultKindAck, TaskID: taskID, NodeID: nodeID}
	require.NoError(t, client.PublishResult(ctx, ack))

	res := &ResultMessage{
		Kind:   ResultKindResult,
		TaskID: taskID,
		NodeID: nodeID,
		NodeResult: &NodeResult{
			NodeID:          nodeID,
			Result:          reasoning.Result{Confidence: 0.7},
			ExecutionTimeMs: 10,
			Reliability:     1.0,
		},
	}
	require.NoError(t, client.PublishResult(ctx, res))

	var kinds []ResultMessageKind
	for len(kinds) < 2 {
		select {
		case got := <-resultSub.Events():
			kinds = append(kinds, got.Kind)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for result messages, got %v", kinds)
		}
	}
	assert.Equal(t, []ResultMessageKind{ResultKindAck, ResultKindResult}, kinds)
}

func TestSubscriptionSkipsMalformedMessages(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.SubscribeTaskEvents(ctx)
	require.NoError(t, err)
	defer sub.Close()

	time.Sleep(50 * time.Millisecond)

	mr.Publish(TaskEventsChannel("test-instance"), "not json")

	select {
	case err := <-sub.Errors():
		assert.Contains(t, err.Error(), "unmarshal")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unmarshal error")
	}

	// The subscription survives and still delivers good messages.
	ev := &TaskEvent{
		Type:        "status_changed",
		TaskID:      uuid.New().String(),
		Status:      TaskStatusRunning,
		TimestampMs: time.Now().UnixMilli(),
	}
	require.NoError(t, client.PublishTaskEvent(ctx, ev))

	select {
	case got := <-sub.Events():
		assert.Equal(t, ev.TaskID, got.TaskID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task event after malformed message")
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	client, _ := setupTestClient(t)

	sub, err := client.SubscribeHeartbeats(context.Background())
	require.NoError(t, err)

	assert.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())
}

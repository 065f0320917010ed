package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/noesislabs/noesis/pkg/reasoning"
)

// setupMeshClient creates a mesh client backed by miniredis
func setupMeshClient(t *testing.T) *mesh.Client {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := mesh.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func testRegistration(caps ...reasoning.Capability) *mesh.Registration {
	if len(caps) == 0 {
		caps = []reasoning.Capability{reasoning.CapabilityDeductive}
	}
	return &mesh.Registration{
		Endpoint:     "inproc://worker",
		Capabilities: caps,
	}
}

func TestRegistryRegister(t *testing.T) {
	client := setupMeshClient(t)
	registry := NewRegistry(client, 15000)
	ctx := context.Background()

	t.Run("registers node with fresh defaults", func(t *testing.T) {
		node, err := registry.Register(ctx, testRegistration())
		require.NoError(t, err)

		assert.NotEmpty(t, node.ID)
		assert.Equal(t, mesh.NodeStatusOnline, node.Status)
		assert.Equal(t, 1.0, node.Performance.Reliability)
		assert.Zero(t, node.Workload)

		stored, err := registry.GetNode(ctx, node.ID)
		require.NoError(t, err)
		assert.Equal(t, node.ID, stored.ID)
	})

	t.Run("identical registrations produce distinct nodes", func(t *testing.T) {
		a, err := registry.Register(ctx, testRegistration())
		require.NoError(t, err)
		b, err := registry.Register(ctx, testRegistration())
		require.NoError(t, err)

		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("rejects invalid registration", func(t *testing.T) {
		_, err := registry.Register(ctx, &mesh.Registration{Endpoint: "x"})
		assert.Error(t, err)
	})
}

func TestRegistryDeregister(t *testing.T) {
	client := setupMeshClient(t)
	registry := NewRegistry(client, 15000)
	ctx := context.Background()

	node, err := registry.Register(ctx, testRegistration())
	require.NoError(t, err)

	removed, err := registry.Deregister(ctx, node.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = registry.Deregister(ctx, node.ID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRegistryProcessHeartbeat(t *testing.T) {
	client := setupMeshClient(t)
	registry := NewRegistry(client, 15000)
	ctx := context.Background()

	node, err := registry.Register(ctx, testRegistration())
	require.NoError(t, err)

	t.Run("updates liveness, status, and workload", func(t *testing.T) {
		now := time.Now().UnixMilli()
		require.NoError(t, registry.ProcessHeartbeat(ctx, &mesh.Heartbeat{
			NodeID:      node.ID,
			Status:      mesh.NodeStatusBusy,
			Workload:    0.8,
			TimestampMs: now,
		}))

		got, err := registry.GetNode(ctx, node.ID)
		require.NoError(t, err)
		assert.Equal(t, mesh.NodeStatusBusy, got.Status)
		assert.Equal(t, 0.8, got.Workload)
		assert.Equal(t, now, got.LastHeartbeatMs)
	})

	t.Run("unknown node is a no-op", func(t *testing.T) {
		err := registry.ProcessHeartbeat(ctx, &mesh.Heartbeat{
			NodeID:      uuid.New().String(),
			Status:      mesh.NodeStatusOnline,
			TimestampMs: time.Now().UnixMilli(),
		})
		assert.NoError(t, err)
	})

	t.Run("heartbeat cannot clear suspicion count", func(t *testing.T) {
		_, err := registry.MarkSuspicious(ctx, node.ID, 10)
		require.NoError(t, err)

		require.NoError(t, registry.ProcessHeartbeat(ctx, &mesh.Heartbeat{
			NodeID:      node.ID,
			Status:      mesh.NodeStatusOnline,
			TimestampMs: time.Now().UnixMilli(),
			Performance: &mesh.Performance{Reliability: 1.0},
		}))

		got, err := registry.GetNode(ctx, node.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Performance.SuspicionCount)
	})
}

func TestRegistryGetActiveNodes(t *testing.T) {
	client := setupMeshClient(t)
	registry := NewRegistry(client, 15000)
	ctx := context.Background()

	online, err := registry.Register(ctx, testRegistration())
	require.NoError(t, err)
	busy, err := registry.Register(ctx, testRegistration())
	require.NoError(t, err)
	stale, err := registry.Register(ctx, testRegistration())
	require.NoError(t, err)
	drained, err := registry.Register(ctx, testRegistration())
	require.NoError(t, err)

	now := time.Now().UnixMilli()
	require.NoError(t, registry.ProcessHeartbeat(ctx, &mesh.Heartbeat{
		NodeID: busy.ID, Status: mesh.NodeStatusBusy, Workload: 1, TimestampMs: now,
	}))
	require.NoError(t, registry.ProcessHeartbeat(ctx, &mesh.Heartbeat{
		NodeID: stale.ID, Status: mesh.NodeStatusOnline, TimestampMs: now - 60000,
	}))
	require.NoError(t, registry.ProcessHeartbeat(ctx, &mesh.Heartbeat{
		NodeID: drained.ID, Status: mesh.NodeStatusMaintenance, TimestampMs: now,
	}))

	active, err := registry.GetActiveNodes(ctx)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, n := range active {
		ids[n.ID] = true
	}
	assert.True(t, ids[online.ID], "online node should be active")
	assert.True(t, ids[busy.ID], "busy node should remain selectable")
	assert.False(t, ids[stale.ID], "stale node should be filtered")
	assert.False(t, ids[drained.ID], "maintenance node should be filtered")
}

func TestRegistryFindNodesByCapability(t *testing.T) {
	client := setupMeshClient(t)
	registry := NewRegistry(client, 15000)
	ctx := context.Background()

	deductive, err := registry.Register(ctx, testRegistration(reasoning.CapabilityDeductive))
	require.NoError(t, err)
	generalist, err := registry.Register(ctx, testRegistration(
		reasoning.CapabilityDeductive, reasoning.CapabilityInductive))
	require.NoError(t, err)

	matched, err := registry.FindNodesByCapability(ctx, []reasoning.Capability{
		reasoning.CapabilityDeductive, reasoning.CapabilityInductive,
	})
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, generalist.ID, matched[0].ID)

	matched, err = registry.FindNodesByCapability(ctx, []reasoning.Capability{reasoning.CapabilityDeductive})
	require.NoError(t, err)
	assert.Len(t, matched, 2)
	_ = deductive
}

func TestRegistryCleanupInactiveNodes(t *testing.T) {
	client := setupMeshClient(t)
	registry := NewRegistry(client, 15000)
	ctx := context.Background()

	fresh, err := registry.Register(ctx, testRegistration())
	require.NoError(t, err)
	dead, err := registry.Register(ctx, testRegistration())
	require.NoError(t, err)

	require.NoError(t, registry.ProcessHeartbeat(ctx, &mesh.Heartbeat{
		NodeID:      dead.ID,
		Status:      mesh.NodeStatusOnline,
		TimestampMs: time.Now().UnixMilli() - 60000,
	}))

	newlyOffline, err := registry.CleanupInactiveNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{dead.ID}, newlyOffline)

	got, err := registry.GetNode(ctx, dead.ID)
	require.NoError(t, err)
	assert.Equal(t, mesh.NodeStatusOffline, got.Status)

	// A second sweep does not report the same node again.
	newlyOffline, err = registry.CleanupInactiveNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, newlyOffline)

	got, err = registry.GetNode(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, mesh.NodeStatusOnline, got.Status)
}

func TestRegistryRecordOutcome(t *testing.T) {
	client := setupMeshClient(t)
	registry := NewRegistry(client, 15000)
	ctx := context.Background()

	node, err := registry.Register(ctx, testRegistration())
	require.NoError(t, err)

	require.NoError(t, registry.RecordOutcome(ctx, node.ID, true, 100))
	require.NoError(t, registry.RecordOutcome(ctx, node.ID, true, 200))
	require.NoError(t, registry.RecordOutcome(ctx, node.ID, false, 0))

	got, err := registry.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Performance.TasksCompleted)
	assert.Equal(t, int64(1), got.Performance.TasksErrored)
	assert.InDelta(t, 2.0/3.0, got.Performance.Reliability, 1e-9)
	// EMA: 100, then 0.3*200 + 0.7*100 = 130; the failure leaves it alone.
	assert.InDelta(t, 130, got.Performance.AvgResponseTimeMs, 1e-9)

	t.Run("unknown node is a no-op", func(t *testing.T) {
		assert.NoError(t, registry.RecordOutcome(ctx, uuid.New().String(), true, 10))
	})
}

func TestRegistryMarkSuspicious(t *testing.T) {
	client := setupMeshClient(t)
	registry := NewRegistry(client, 15000)
	ctx := context.Background()

	node, err := registry.Register(ctx, testRegistration())
	require.NoError(t, err)

	quarantined, err := registry.MarkSuspicious(ctx, node.ID, 2)
	require.NoError(t, err)
	assert.False(t, quarantined)

	quarantined, err = registry.MarkSuspicious(ctx, node.ID, 2)
	require.NoError(t, err)
	assert.True(t, quarantined)

	got, err := registry.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, mesh.NodeStatusError, got.Status)
	assert.Equal(t, 2, got.Performance.SuspicionCount)
}

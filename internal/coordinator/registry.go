package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/noesislabs/noesis/pkg/reasoning"
)

// Registry manages the set of reasoning nodes known to the mesh. Node
// records live in Redis so registry state survives coordinator restarts;
// the registry itself is stateless and safe for concurrent use.
type Registry struct {
	client *mesh.Client

	// timeoutThresholdMs is how long a node may go silent before
	// CleanupInactiveNodes marks it offline.
	timeoutThresholdMs int64
}

// NewRegistry creates a registry over the given mesh client.
func NewRegistry(client *mesh.Client, timeoutThresholdMs int64) *Registry {
	return &Registry{
		client:             client,
		timeoutThresholdMs: timeoutThresholdMs,
	}
}

// Register admits a new node to the mesh and returns the stored record.
// Every registration produces a distinct node: two workers advertising
// identical endpoints and capabilities are still two nodes.
func (r *Registry) Register(ctx context.Context, reg *mesh.Registration) (*mesh.Node, error) {
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registration: %w", err)
	}

	now := time.Now().UnixMilli()
	node := &mesh.Node{
		ID:              uuid.New().String(),
		Endpoint:        reg.Endpoint,
		Capabilities:    reg.Capabilities,
		Status:          mesh.NodeStatusOnline,
		LastHeartbeatMs: now,
		Workload:        0,
		// Fresh nodes start fully trusted so performance-based selection
		// does not starve new capacity.
		Performance:    mesh.Performance{Reliability: 1.0},
		RegisteredAtMs: now,
	}

	if err := r.client.PutNode(ctx, node); err != nil {
		return nil, fmt.Errorf("failed to register node: %w", err)
	}
	return node, nil
}

// AdoptNode admits a self-registered worker that already assigned its own
// node ID. Used by out-of-process workers that register over Redis.
func (r *Registry) AdoptNode(ctx context.Context, node *mesh.Node) error {
	if err := r.client.PutNode(ctx, node); err != nil {
		return fmt.Errorf("failed to adopt node: %w", err)
	}
	return nil
}

// Deregister removes a node from the mesh. Returns false if the node was
// not registered.
func (r *Registry) Deregister(ctx context.Context, nodeID string) (bool, error) {
	return r.client.RemoveNode(ctx, nodeID)
}

// GetNode returns a single node record.
func (r *Registry) GetNode(ctx context.Context, nodeID string) (*mesh.Node, error) {
	return r.client.GetNode(ctx, nodeID)
}

// ListNodes returns every registered node regardless of status.
func (r *Registry) ListNodes(ctx context.Context) ([]*mesh.Node, error) {
	return r.client.ListNodes(ctx)
}

// ProcessHeartbeat applies a heartbeat to the node's record: refreshes the
// liveness timestamp and adopts the reported status and workload. A
// heartbeat for an unknown node is a no-op, not an error; the worker will
// re-register when it notices it is gone.
func (r *Registry) ProcessHeartbeat(ctx context.Context, hb *mesh.Heartbeat) error {
	if err := hb.Validate(); err != nil {
		return fmt.Errorf("invalid heartbeat: %w", err)
	}

	node, err := r.client.GetNode(ctx, hb.NodeID)
	if err != nil {
		if mesh.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load node for heartbeat: %w", err)
	}

	node.LastHeartbeatMs = hb.TimestampMs
	if node.LastHeartbeatMs == 0 {
		node.LastHeartbeatMs = time.Now().UnixMilli()
	}
	node.Status = hb.Status
	node.Workload = hb.Workload
	if hb.Performance != nil {
		// Suspicion count is coordinator-owned; nodes cannot clear their
		// own record by omitting it.
		suspicion := node.Performance.SuspicionCount
		node.Performance = *hb.Performance
		node.Performance.SuspicionCount = suspicion
	}

	return r.client.PutNode(ctx, node)
}

// GetActiveNodes returns nodes currently eligible for work: online or
// busy, with a heartbeat inside the liveness window.
func (r *Registry) GetActiveNodes(ctx context.Context) ([]*mesh.Node, error) {
	nodes, err := r.client.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UnixMilli() - r.timeoutThresholdMs
	active := make([]*mesh.Node, 0, len(nodes))
	for _, node := range nodes {
		if !nodeSelectable(node.Status) {
			continue
		}
		if node.LastHeartbeatMs < cutoff {
			continue
		}
		active = append(active, node)
	}
	return active, nil
}

// nodeSelectable reports whether a node in this status may receive work.
// Busy nodes remain selectable: they are alive and queue internally.
func nodeSelectable(s mesh.NodeStatus) bool {
	return s == mesh.NodeStatusOnline || s == mesh.NodeStatusBusy
}

// FindNodesByCapability returns active nodes covering every required
// capability.
func (r *Registry) FindNodesByCapability(ctx context.Context, caps []reasoning.Capability) ([]*mesh.Node, error) {
	active, err := r.GetActiveNodes(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*mesh.Node, 0, len(active))
	for _, node := range active {
		if node.CoversAll(caps) {
			matched = append(matched, node)
		}
	}
	return matched, nil
}

// CleanupInactiveNodes marks nodes silent past the liveness window as
// offline and returns the IDs of nodes that transitioned in this sweep.
// Already-offline nodes are not reported again.
func (r *Registry) CleanupInactiveNodes(ctx context.Context) ([]string, error) {
	nodes, err := r.client.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UnixMilli() - r.timeoutThresholdMs
	var newlyOffline []string
	for _, node := range nodes {
		if node.Status == mesh.NodeStatusOffline {
			continue
		}
		if node.LastHeartbeatMs >= cutoff {
			continue
		}

		node.Status = mesh.NodeStatusOffline
		if err := r.client.PutNode(ctx, node); err != nil {
			return newlyOffline, fmt.Errorf("failed to mark node %s offline: %w", node.ID, err)
		}
		newlyOffline = append(newlyOffline, node.ID)
	}
	return newlyOffline, nil
}

// RecordOutcome folds one task execution into the node's rolling
// performance statistics. Response time uses an exponential moving
// average so recent behavior dominates.
func (r *Registry) RecordOutcome(ctx context.Context, nodeID string, success bool, execTimeMs int64) error {
	node, err := r.client.GetNode(ctx, nodeID)
	if err != nil {
		if mesh.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load node for outcome: %w", err)
	}

	perf := &node.Performance
	if success {
		perf.TasksCompleted++
	} else {
		perf.TasksErrored++
	}

	total := perf.TasksCompleted + perf.TasksErrored
	perf.Reliability = float64(perf.TasksCompleted) / float64(total)

	if success {
		const alpha = 0.3
		if perf.AvgResponseTimeMs == 0 {
			perf.AvgResponseTimeMs = float64(execTimeMs)
		} else {
			perf.AvgResponseTimeMs = alpha*float64(execTimeMs) + (1-alpha)*perf.AvgResponseTimeMs
		}
	}

	return r.client.PutNode(ctx, node)
}

// MarkSuspicious increments a node's suspicion count after its result was
// screened out as an outlier. When the count reaches the threshold the
// node is quarantined (status error) and true is returned.
func (r *Registry) MarkSuspicious(ctx context.Context, nodeID string, threshold int) (bool, error) {
	node, err := r.client.GetNode(ctx, nodeID)
	if err != nil {
		if mesh.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load node for suspicion: %w", err)
	}

	node.Performance.SuspicionCount++
	quarantined := node.Performance.SuspicionCount >= threshold
	if quarantined {
		node.Status = mesh.NodeStatusError
	}

	if err := r.client.PutNode(ctx, node); err != nil {
		return false, fmt.Errorf("failed to update suspicion: %w", err)
	}
	return quarantined, nil
}

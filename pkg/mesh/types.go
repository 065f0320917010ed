package mesh

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/noesislabs/noesis/pkg/reasoning"
)

// NodeStatus defines the advertised state of a reasoning node.
type NodeStatus string

const (
	// NodeStatusOnline indicates the node is accepting work.
	NodeStatusOnline NodeStatus = "online"

	// NodeStatusBusy indicates the node is at capacity but alive.
	NodeStatusBusy NodeStatus = "busy"

	// NodeStatusError indicates the node reported an internal fault.
	NodeStatusError NodeStatus = "error"

	// NodeStatusMaintenance indicates the node is deliberately drained.
	NodeStatusMaintenance NodeStatus = "maintenance"

	// NodeStatusOffline indicates the node missed its heartbeat window
	// or deregistered.
	NodeStatusOffline NodeStatus = "offline"
)

// Validate checks if the NodeStatus is a valid enum value.
func (s NodeStatus) Validate() error {
	switch s {
	case NodeStatusOnline, NodeStatusBusy, NodeStatusError,
		NodeStatusMaintenance, NodeStatusOffline:
		return nil
	default:
		return fmt.Errorf("unknown node status: %q", s)
	}
}

// Performance holds a node's rolling execution statistics. Reliability is
// the completed fraction of attempted tasks, seeded at 1.0 for fresh nodes
// so new capacity is not starved by performance-based selection.
type Performance struct {
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	TasksCompleted    int64   `json:"tasks_completed"`
	TasksErrored      int64   `json:"tasks_errored"`
	Reliability       float64 `json:"reliability"`
	SuspicionCount    int     `json:"suspicion_count"`
}

// Node represents a registered reasoning worker. Owned by the node
// registry; mutated only by heartbeat processing and task
// assignment/completion.
type Node struct {
	ID              string                 `json:"id"`
	Endpoint        string                 `json:"endpoint"`
	Capabilities    []reasoning.Capability `json:"capabilities"`
	Status          NodeStatus             `json:"status"`
	LastHeartbeatMs int64                  `json:"last_heartbeat_ms"`
	Workload        float64                `json:"workload"`
	Performance     Performance            `json:"performance"`
	RegisteredAtMs  int64                  `json:"registered_at_ms"`
}

// Validate checks if the Node has valid field values.
func (n *Node) Validate() error {
	if !isValidUUID(n.ID) {
		return fmt.Errorf("invalid node ID: not a valid UUID")
	}
	if n.Endpoint == "" {
		return fmt.Errorf("node endpoint cannot be empty")
	}
	if len(n.Capabilities) == 0 {
		return fmt.Errorf("node must advertise at least one capability")
	}
	for _, c := range n.Capabilities {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid capability: %w", err)
		}
	}
	if err := n.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if n.Workload < 0 || n.Workload > 1 {
		return fmt.Errorf("workload must be in [0,1], got %v", n.Workload)
	}
	return nil
}

// HasCapability reports whether the node advertises the capability.
func (n *Node) HasCapability(c reasoning.Capability) bool {
	for _, have := range n.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// CoversAll reports whether the node advertises every listed capability.
func (n *Node) CoversAll(caps []reasoning.Capability) bool {
	for _, c := range caps {
		if !n.HasCapability(c) {
			return false
		}
	}
	return true
}

// Registration is the payload a worker submits to join the mesh. The
// registry assigns the node ID; identical registrations always produce
// distinct nodes (no content deduplication).
type Registration struct {
	Endpoint     string                 `json:"endpoint"`
	Capabilities []reasoning.Capability `json:"capabilities"`
}

// Validate checks the registration carries the required fields.
func (r *Registration) Validate() error {
	if r.Endpoint == "" {
		return fmt.Errorf("registration endpoint cannot be empty")
	}
	if len(r.Capabilities) == 0 {
		return fmt.Errorf("registration must advertise at least one capability")
	}
	for _, c := range r.Capabilities {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid capability: %w", err)
		}
	}
	return nil
}

// Heartbeat is the periodic liveness/status message from a worker.
// A heartbeat for an unknown node ID is a no-op, not an error.
type Heartbeat struct {
	NodeID      string       `json:"node_id"`
	Status      NodeStatus   `json:"status"`
	Workload    float64      `json:"workload"`
	TimestampMs int64        `json:"timestamp_ms"`
	Performance *Performance `json:"performance,omitempty"`
}

// Validate checks if the Heartbeat has valid field values.
func (h *Heartbeat) Validate() error {
	if !isValidUUID(h.NodeID) {
		return fmt.Errorf("invalid heartbeat node ID: not a valid UUID")
	}
	if err := h.Status.Validate(); err != nil {
		return fmt.Errorf("invalid heartbeat status: %w", err)
	}
	if h.Workload < 0 || h.Workload > 1 {
		return fmt.Errorf("heartbeat workload must be in [0,1], got %v", h.Workload)
	}
	return nil
}

// TaskPriority orders tasks in the queue. Critical dequeues first.
type TaskPriority string

const (
	// TaskPriorityLow is background work.
	TaskPriorityLow TaskPriority = "low"

	// TaskPriorityMedium is the default priority.
	TaskPriorityMedium TaskPriority = "medium"

	// TaskPriorityHigh preempts medium and low work.
	TaskPriorityHigh TaskPriority = "high"

	// TaskPriorityCritical preempts everything.
	TaskPriorityCritical TaskPriority = "critical"
)

// Validate checks if the TaskPriority is a valid enum value.
func (p TaskPriority) Validate() error {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh, TaskPriorityCritical:
		return nil
	default:
		return fmt.Errorf("unknown task priority: %q", p)
	}
}

// Rank maps a priority to its queue ordering class: lower ranks dequeue
// first.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityCritical:
		return 0
	case TaskPriorityHigh:
		return 1
	case TaskPriorityMedium:
		return 2
	default:
		return 3
	}
}

// TaskStatus defines the lifecycle state of a distributed task. A task
// occupies exactly one state at a time.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued, awaiting node selection.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusAssigned indicates nodes have been selected and dispatch begun.
	TaskStatusAssigned TaskStatus = "assigned"

	// TaskStatusRunning indicates at least one node acknowledged the dispatch.
	TaskStatusRunning TaskStatus = "running"

	// TaskStatusCompleted indicates aggregation succeeded.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates the task failed (no nodes, consensus not
	// reached, or no usable results).
	TaskStatusFailed TaskStatus = "failed"

	// TaskStatusTimeout indicates the deadline elapsed before aggregation.
	TaskStatusTimeout TaskStatus = "timeout"

	// TaskStatusCancelled indicates explicit cancellation.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Validate checks if the TaskStatus is a valid enum value.
func (s TaskStatus) Validate() error {
	switch s {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusTimeout, TaskStatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown task status: %q", s)
	}
}

// Terminal reports whether the status is an end state.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimeout, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the task state machine permits moving from
// one status to another. Cancellation is reachable from any non-terminal
// state; dispatch-time failures may skip the running state.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return false
	}
	if to == TaskStatusCancelled {
		return !from.Terminal()
	}
	switch from {
	case TaskStatusPending:
		return to == TaskStatusAssigned || to == TaskStatusFailed
	case TaskStatusAssigned:
		return to == TaskStatusRunning || to == TaskStatusCompleted ||
			to == TaskStatusFailed || to == TaskStatusTimeout
	case TaskStatusRunning:
		return to == TaskStatusCompleted || to == TaskStatusFailed || to == TaskStatusTimeout
	default:
		return false
	}
}

// Constraints bound how a task may be distributed. Zero values mean
// "use the coordinator defaults".
type Constraints struct {
	MaxExecutionTimeMs int64    `json:"max_execution_time_ms,omitempty"`
	MinConfidence      float64  `json:"min_confidence,omitempty"`
	MaxNodes           int      `json:"max_nodes,omitempty"`
	PreferredNodes     []string `json:"preferred_nodes,omitempty"`
	ExcludedNodes      []string `json:"excluded_nodes,omitempty"`
	RequireAllNodes    bool     `json:"require_all_nodes,omitempty"`
	// MaxNodesSet distinguishes an explicit MaxNodes of 0 (reject) from an
	// unset MaxNodes (use the default).
	MaxNodesSet bool `json:"max_nodes_set,omitempty"`
}

// Task represents a distributed reasoning request. Owned by the task queue
// until it reaches a terminal state.
type Task struct {
	ID                   string                 `json:"id"`
	Query                reasoning.Query        `json:"query"`
	Priority             TaskPriority           `json:"priority"`
	RequiredCapabilities []reasoning.Capability `json:"required_capabilities,omitempty"`
	Constraints          Constraints            `json:"constraints"`
	Status               TaskStatus             `json:"status"`
	AssignedNodes        []string               `json:"assigned_nodes"`
	CreatedAtMs          int64                  `json:"created_at_ms"`
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if !isValidUUID(t.ID) {
		return fmt.Errorf("invalid task ID: not a valid UUID")
	}
	if err := t.Query.Validate(); err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}
	if err := t.Priority.Validate(); err != nil {
		return fmt.Errorf("invalid priority: %w", err)
	}
	if err := t.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	return nil
}

// NodeResult is one node's contribution to a task. Ephemeral: discarded
// after aggregation except for the audit copy inside DistributedResult.
type NodeResult struct {
	NodeID          string           `json:"node_id"`
	Result          reasoning.Result `json:"result"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
	Reliability     float64          `json:"reliability"`
	Error           string           `json:"error,omitempty"`
}

// DistributedResult is the final artifact of a distributed reasoning task.
// NodeResults preserves arrival order for auditability.
type DistributedResult struct {
	TaskID          string            `json:"task_id"`
	NodeResults     []NodeResult      `json:"node_results"`
	Aggregated      reasoning.Result  `json:"aggregated"`
	ConsensusLevel  float64           `json:"consensus_level"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	NodesUsed       int               `json:"nodes_used"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ErrorKind classifies coordination failures.
type ErrorKind string

const (
	// ErrNodeUnavailable: no live capable node found, or requireAllNodes unmet.
	ErrNodeUnavailable ErrorKind = "NodeUnavailable"

	// ErrTaskTimeout: the deadline elapsed before aggregation.
	ErrTaskTimeout ErrorKind = "TaskTimeout"

	// ErrConsensusNotReached: consensus-based aggregation below threshold.
	ErrConsensusNotReached ErrorKind = "ConsensusNotReached"

	// ErrAggregationFailure: zero usable node results.
	ErrAggregationFailure ErrorKind = "AggregationFailure"

	// ErrInvalidQuery: malformed query rejected before dispatch.
	ErrInvalidQuery ErrorKind = "InvalidQuery"

	// ErrNodeExecution: a single node's call failed; recorded per node.
	ErrNodeExecution ErrorKind = "NodeExecutionError"
)

// CoordinationError is a task-level failure carrying the taxonomy kind and
// enough per-node detail to diagnose partial outages without re-running
// the task.
type CoordinationError struct {
	Kind   ErrorKind
	TaskID string
	Detail string
	// Nodes maps node ID to that node's failure description, when node
	// failures contributed to the task-level failure.
	Nodes map[string]string
}

// Error implements the error interface.
func (e *CoordinationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", e.Kind)
	if e.TaskID != "" {
		fmt.Fprintf(&b, " (task %s)", e.TaskID)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if len(e.Nodes) > 0 {
		ids := make([]string, 0, len(e.Nodes))
		for id := range e.Nodes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts := make([]string, 0, len(ids))
		for _, id := range ids {
			parts = append(parts, fmt.Sprintf("%s: %s", id, e.Nodes[id]))
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, "; "))
	}
	return b.String()
}

// IsKind reports whether err is a CoordinationError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *CoordinationError
	return errors.As(err, &ce) && ce.Kind == kind
}

// ResultMessageKind distinguishes acknowledgements from results on the
// per-task results channel.
type ResultMessageKind string

const (
	// ResultKindAck signals a node accepted the dispatch and began work.
	ResultKindAck ResultMessageKind = "ack"

	// ResultKindResult carries the node's finished contribution.
	ResultKindResult ResultMessageKind = "result"
)

// DispatchMessage is published on a node's dispatch channel to hand it a
// share of a task.
type DispatchMessage struct {
	TaskID     string          `json:"task_id"`
	NodeID     string          `json:"node_id"`
	Query      reasoning.Query `json:"query"`
	DeadlineMs int64           `json:"deadline_ms"`
}

// ResultMessage is published on a task's results channel by a worker.
type ResultMessage struct {
	Kind       ResultMessageKind `json:"kind"`
	TaskID     string            `json:"task_id"`
	NodeID     string            `json:"node_id"`
	NodeResult *NodeResult       `json:"node_result,omitempty"`
}

// Validate checks if the ResultMessage has valid field values.
func (m *ResultMessage) Validate() error {
	if m.Kind != ResultKindAck && m.Kind != ResultKindResult {
		return fmt.Errorf("unknown result message kind: %q", m.Kind)
	}
	if !isValidUUID(m.TaskID) {
		return fmt.Errorf("invalid result message task ID")
	}
	if m.Kind == ResultKindResult && m.NodeResult == nil {
		return fmt.Errorf("result message carries no node result")
	}
	return nil
}

// TaskEvent is published on the task events channel at every lifecycle
// transition for observers (CLI, monitoring).
type TaskEvent struct {
	Type        string     `json:"type"`
	TaskID      string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	TimestampMs int64      `json:"timestamp_ms"`
	Detail      string     `json:"detail,omitempty"`
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

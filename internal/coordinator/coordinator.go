package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/noesislabs/noesis/internal/config"
	"github.com/noesislabs/noesis/pkg/mesh"
)

// Settings is the runtime coordination configuration. A snapshot is taken
// per task so a reconfiguration never changes a task mid-flight.
type Settings struct {
	DefaultTimeoutMs       int64
	NodeTimeoutThresholdMs int64
	FaultCheckIntervalMs   int64
	RetentionWindowMs      int64
	DefaultMaxNodes        int
	BalancerStrategy       string
	AggregationStrategy    string
	MinConsensusLevel      float64
	SimilarityThreshold    float64
	FaultToleranceLevel    string
	SuspicionThreshold     int
}

// SettingsFromConfig converts a validated coordinator config section.
func SettingsFromConfig(cc *config.CoordinatorConfig) Settings {
	return Settings{
		DefaultTimeoutMs:       *cc.DefaultTimeoutMs,
		NodeTimeoutThresholdMs: *cc.NodeTimeoutThresholdMs,
		FaultCheckIntervalMs:   *cc.FaultCheckIntervalMs,
		RetentionWindowMs:      *cc.RetentionWindowMs,
		DefaultMaxNodes:        *cc.DefaultMaxNodes,
		BalancerStrategy:       cc.BalancerStrategy,
		AggregationStrategy:    cc.AggregationStrategy,
		MinConsensusLevel:      *cc.MinConsensusLevel,
		SimilarityThreshold:    *cc.SimilarityThreshold,
		FaultToleranceLevel:    cc.FaultToleranceLevel,
		SuspicionThreshold:     *cc.SuspicionThreshold,
	}
}

// taskOutcome is delivered to in-process waiters when a task finishes.
type taskOutcome struct {
	result *mesh.DistributedResult
	err    error
}

// inflightTask tracks the expected responders of one executing task so a
// redistribution can swap lost nodes for replacements without restarting
// the collection.
type inflightTask struct {
	mu         sync.Mutex
	expected   map[string]bool
	answered   map[string]bool
	deadlineMs int64

	// changed wakes the collection loop after a swap shrank the expected
	// set, so it does not sit out the deadline waiting for nobody.
	changed chan struct{}
}

func newInflightTask(dispatched map[string]bool, deadlineMs int64) *inflightTask {
	return &inflightTask{
		expected:   dispatched,
		answered:   make(map[string]bool, len(dispatched)),
		deadlineMs: deadlineMs,
		changed:    make(chan struct{}, 1),
	}
}

// expects reports whether a node is currently an expected responder.
func (t *inflightTask) expects(nodeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expected[nodeID]
}

// markAnswered records a result from a node. Returns false for nodes not
// currently expected or already counted.
func (t *inflightTask) markAnswered(nodeID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.expected[nodeID] || t.answered[nodeID] {
		return false
	}
	t.answered[nodeID] = true
	return true
}

// pending is the number of expected nodes that have not answered yet.
func (t *inflightTask) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id := range t.expected {
		if !t.answered[id] {
			n++
		}
	}
	return n
}

// unanswered lists the expected nodes that never answered.
func (t *inflightTask) unanswered() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id := range t.expected {
		if !t.answered[id] {
			out = append(out, id)
		}
	}
	return out
}

// unansweredLost lists the expected nodes in the lost set that have not
// answered, the share a redistribution needs to replace.
func (t *inflightTask) unansweredLost(lost map[string]bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id := range t.expected {
		if lost[id] && !t.answered[id] {
			out = append(out, id)
		}
	}
	return out
}

// swap removes lost nodes that have not answered from the expected set
// and returns them. Nodes that already delivered a result keep it.
func (t *inflightTask) swap(lost map[string]bool) []string {
	t.mu.Lock()
	var removed []string
	for id := range t.expected {
		if lost[id] && !t.answered[id] {
			delete(t.expected, id)
			removed = append(removed, id)
		}
	}
	t.mu.Unlock()
	if len(removed) > 0 {
		t.notify()
	}
	return removed
}

// add registers a replacement responder.
func (t *inflightTask) add(nodeID string) {
	t.mu.Lock()
	t.expected[nodeID] = true
	t.mu.Unlock()
	t.notify()
}

func (t *inflightTask) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// Coordinator is the core engine that dispatches queued tasks to nodes,
// collects their results, and aggregates them. It also owns liveness
// sweeping and task retention.
type Coordinator struct {
	client       *mesh.Client
	instanceName string
	registry     *Registry
	queue        *Queue
	faults       *FaultManager
	healthServer *HealthServer

	// mu guards the reconfigurable strategy objects and settings.
	mu         sync.RWMutex
	settings   Settings
	balancer   Balancer
	aggregator *Aggregator

	// waiters maps task ID to the channel its in-process submitter blocks
	// on. Buffered size 1 so finalization never blocks.
	waitersMu sync.Mutex
	waiters   map[string]chan taskOutcome

	// inflight maps task ID to its live collection handle, so the fault
	// manager can top up lost responders instead of restarting the task.
	inflightMu sync.Mutex
	inflight   map[string]*inflightTask

	wg sync.WaitGroup
}

// New creates a coordinator over the given mesh client.
func New(client *mesh.Client, settings Settings) (*Coordinator, error) {
	balancer, err := NewBalancer(settings.BalancerStrategy)
	if err != nil {
		return nil, err
	}
	aggregator, err := NewAggregator(aggregatorOptions(settings))
	if err != nil {
		return nil, err
	}

	registry := NewRegistry(client, settings.NodeTimeoutThresholdMs)
	queue := NewQueue(client)

	c := &Coordinator{
		client:       client,
		instanceName: client.InstanceName(),
		registry:     registry,
		queue:        queue,
		settings:     settings,
		balancer:     balancer,
		aggregator:   aggregator,
		waiters:      make(map[string]chan taskOutcome),
		inflight:     make(map[string]*inflightTask),
	}
	c.faults = NewFaultManager(registry, queue, c)
	c.healthServer = NewHealthServer(client, registry, queue)
	return c, nil
}

func aggregatorOptions(s Settings) AggregatorOptions {
	return AggregatorOptions{
		Strategy:            s.AggregationStrategy,
		MinConsensusLevel:   s.MinConsensusLevel,
		SimilarityThreshold: s.SimilarityThreshold,
		Byzantine:           s.FaultToleranceLevel == "byzantine",
	}
}

// Registry exposes the node registry for callers that manage nodes
// directly (CLI, tests).
func (c *Coordinator) Registry() *Registry { return c.registry }

// Queue exposes the task queue.
func (c *Coordinator) Queue() *Queue { return c.queue }

// GetConfig returns a snapshot of the current settings.
func (c *Coordinator) GetConfig() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// UpdateConfig swaps the coordination settings at runtime. Tasks already
// in flight keep the snapshot they started with.
func (c *Coordinator) UpdateConfig(settings Settings) error {
	balancer, err := NewBalancer(settings.BalancerStrategy)
	if err != nil {
		return err
	}
	aggregator, err := NewAggregator(aggregatorOptions(settings))
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = settings
	c.balancer = balancer
	c.aggregator = aggregator

	c.logEvent("config_updated", map[string]interface{}{
		"balancer_strategy":    settings.BalancerStrategy,
		"aggregation_strategy": settings.AggregationStrategy,
	})
	return nil
}

// Run starts the coordinator and blocks until the context is cancelled:
// the health server, the heartbeat listener, the dispatch loop, and the
// fault sweep all run under it.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start health server: %w", err)
	}
	defer c.healthServer.Shutdown(context.Background())

	log.Printf("[Coordinator] Starting for instance '%s'", c.instanceName)

	heartbeats, err := c.client.SubscribeHeartbeats(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to heartbeats: %w", err)
	}
	defer heartbeats.Close()

	c.wg.Add(3)
	go c.heartbeatLoop(ctx, heartbeats)
	go c.dispatchLoop(ctx)
	go c.faultLoop(ctx)

	<-ctx.Done()
	log.Printf("[Coordinator] Shutting down...")
	c.wg.Wait()
	return nil
}

// heartbeatLoop applies incoming heartbeats to the registry.
func (c *Coordinator) heartbeatLoop(ctx context.Context, sub *mesh.HeartbeatSubscription) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case hb, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := c.registry.ProcessHeartbeat(ctx, hb); err != nil {
				log.Printf("[Coordinator] Error processing heartbeat from %s: %v", hb.NodeID, err)
			}
		case err, ok := <-sub.Errors():
			if !ok {
				return
			}
			log.Printf("[Coordinator] Heartbeat subscription error: %v", err)
		}
	}
}

// dispatchLoop drains the task queue, executing each task in its own
// goroutine. An empty queue is polled, not subscribed: the poll interval
// bounds dispatch latency and keeps the loop resilient to missed events.
func (c *Coordinator) dispatchLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				task, err := c.queue.Pop(ctx)
				if err != nil {
					if !mesh.IsNotFound(err) && ctx.Err() == nil {
						log.Printf("[Coordinator] Error popping task: %v", err)
					}
					break
				}

				c.wg.Add(1)
				go func(task *mesh.Task) {
					defer c.wg.Done()
					c.executeTask(ctx, task)
				}(task)
			}
		}
	}
}

// faultLoop periodically sweeps for dead nodes and expired terminal tasks.
func (c *Coordinator) faultLoop(ctx context.Context) {
	defer c.wg.Done()

	interval := time.Duration(c.GetConfig().FaultCheckIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settings := c.GetConfig()
			if err := c.faults.Sweep(ctx, settings); err != nil && ctx.Err() == nil {
				log.Printf("[Coordinator] Fault sweep error: %v", err)
			}
			if _, err := c.queue.CleanupTerminal(ctx, settings.RetentionWindowMs); err != nil && ctx.Err() == nil {
				log.Printf("[Coordinator] Retention cleanup error: %v", err)
			}
		}
	}
}

// SubmitTask enqueues a task and blocks until it reaches a terminal state
// or the caller's context expires. Returns the aggregated result for
// completed tasks and a CoordinationError otherwise.
func (c *Coordinator) SubmitTask(ctx context.Context, req *SubmitRequest) (*mesh.DistributedResult, error) {
	task, err := c.SubmitTaskAsync(ctx, req)
	if err != nil {
		return nil, err
	}

	outcome := c.registerWaiter(task.ID)
	defer c.dropWaiter(task.ID)

	// The task may have reached a terminal state before the waiter was
	// registered; check once so the caller never blocks on a finished task.
	if status, err := c.GetTaskStatus(ctx, task.ID); err == nil && status.Terminal() {
		if status == mesh.TaskStatusCompleted {
			return c.GetTaskResult(ctx, task.ID)
		}
		return nil, fmt.Errorf("task %s finished as %s", task.ID, status)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-outcome:
		return out.result, out.err
	}
}

// SubmitTaskAsync enqueues a task and returns immediately. Use
// GetTaskStatus and GetTaskResult to follow it.
func (c *Coordinator) SubmitTaskAsync(ctx context.Context, req *SubmitRequest) (*mesh.Task, error) {
	task, err := c.queue.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	c.logEvent("task_submitted", map[string]interface{}{
		"task_id":  task.ID,
		"priority": string(task.Priority),
		"type":     string(task.Query.Type),
	})
	return task, nil
}

// CancelTask cancels a task in any non-terminal state. In-process waiters
// are released with a cancellation error.
func (c *Coordinator) CancelTask(ctx context.Context, taskID string) error {
	task, err := c.queue.Cancel(ctx, taskID)
	if err != nil {
		return err
	}

	c.notifyWaiter(taskID, taskOutcome{err: fmt.Errorf("task %s cancelled", taskID)})
	c.logEvent("task_cancelled", map[string]interface{}{
		"task_id": task.ID,
	})
	return nil
}

// GetTaskStatus returns a task's current lifecycle status.
func (c *Coordinator) GetTaskStatus(ctx context.Context, taskID string) (mesh.TaskStatus, error) {
	task, err := c.queue.Get(ctx, taskID)
	if err != nil {
		return "", err
	}
	return task.Status, nil
}

// GetTaskResult returns the stored final result of a completed task.
func (c *Coordinator) GetTaskResult(ctx context.Context, taskID string) (*mesh.DistributedResult, error) {
	return c.client.GetResult(ctx, taskID)
}

// SystemStats is a point-in-time summary of mesh state.
type SystemStats struct {
	NodesByStatus map[mesh.NodeStatus]int `json:"nodes_by_status"`
	TasksByStatus map[mesh.TaskStatus]int `json:"tasks_by_status"`
	QueueDepth    int64                   `json:"queue_depth"`
	ActiveNodes   int                     `json:"active_nodes"`
}

// GetSystemStats summarizes nodes and tasks by status.
func (c *Coordinator) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	nodes, err := c.registry.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := c.queue.List(ctx)
	if err != nil {
		return nil, err
	}
	depth, err := c.queue.Depth(ctx)
	if err != nil {
		return nil, err
	}
	active, err := c.registry.GetActiveNodes(ctx)
	if err != nil {
		return nil, err
	}

	stats := &SystemStats{
		NodesByStatus: make(map[mesh.NodeStatus]int),
		TasksByStatus: make(map[mesh.TaskStatus]int),
		QueueDepth:    depth,
		ActiveNodes:   len(active),
	}
	for _, n := range nodes {
		stats.NodesByStatus[n.Status]++
	}
	for _, t := range tasks {
		stats.TasksByStatus[t.Status]++
	}
	return stats, nil
}

// executeTask runs one task end to end: node selection, dispatch, result
// collection, aggregation, and finalization.
func (c *Coordinator) executeTask(ctx context.Context, task *mesh.Task) {
	started := time.Now()

	c.mu.RLock()
	settings := c.settings
	balancer := c.balancer
	aggregator := c.aggregator
	c.mu.RUnlock()

	candidates, err := c.registry.GetActiveNodes(ctx)
	if err != nil {
		c.failTask(ctx, task, fmt.Errorf("failed to list nodes: %w", err))
		return
	}

	selected, err := SelectNodes(balancer, task, candidates, settings.DefaultMaxNodes)
	if err != nil {
		c.failTask(ctx, task, err)
		return
	}

	// Subscribe before dispatching so no result can slip through the gap.
	results, err := c.client.SubscribeTaskResults(ctx, task.ID)
	if err != nil {
		c.failTask(ctx, task, fmt.Errorf("failed to subscribe to task results: %w", err))
		return
	}
	defer results.Close()

	nodeIDs := make([]string, len(selected))
	for i, n := range selected {
		nodeIDs[i] = n.ID
	}
	if _, err := c.queue.Assign(ctx, task.ID, nodeIDs); err != nil {
		c.failTask(ctx, task, err)
		return
	}

	timeoutMs := task.Constraints.MaxExecutionTimeMs
	if timeoutMs <= 0 {
		timeoutMs = settings.DefaultTimeoutMs
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)

	dispatched := make(map[string]bool, len(selected))
	for _, node := range selected {
		msg := &mesh.DispatchMessage{
			TaskID:     task.ID,
			NodeID:     node.ID,
			Query:      task.Query,
			DeadlineMs: deadline.UnixMilli(),
		}
		if err := c.client.PublishDispatch(ctx, msg); err != nil {
			log.Printf("[Coordinator] Failed to dispatch task %s to node %s: %v", task.ID, node.ID, err)
			continue
		}
		dispatched[node.ID] = true
	}

	c.logEvent("task_dispatched", map[string]interface{}{
		"task_id":  task.ID,
		"nodes":    len(dispatched),
		"strategy": balancer.Name(),
	})

	inf := newInflightTask(dispatched, deadline.UnixMilli())
	c.registerInflight(task.ID, inf)
	defer c.dropInflight(task.ID, inf)

	collected, timedOut := c.collectResults(ctx, task, results, inf, deadline)

	// Reliability weights and suspicion flags come from the registry's own
	// records, not the node's self-report.
	suspicious := make(map[string]bool)
	for i := range collected {
		if node, err := c.registry.GetNode(ctx, collected[i].NodeID); err == nil {
			collected[i].Reliability = node.Performance.Reliability
			if node.Performance.SuspicionCount > 0 {
				suspicious[collected[i].NodeID] = true
			}
		}
	}

	// Nodes that never answered count as execution failures.
	for _, nodeID := range inf.unanswered() {
		collected = append(collected, mesh.NodeResult{
			NodeID: nodeID,
			Error:  "no response before deadline",
		})
	}

	// The task may have been cancelled or requeued while we collected. The
	// waiter stays registered: a cancel already notified it, and a requeued
	// task's next execution will. That next execution owns the task record
	// once it registers its own collection handle.
	if c.getInflight(task.ID) != inf {
		return
	}
	current, err := c.queue.Get(ctx, task.ID)
	if err != nil || (current.Status != mesh.TaskStatusAssigned && current.Status != mesh.TaskStatusRunning) {
		return
	}

	execMs := time.Since(started).Milliseconds()

	if timedOut && len(usableResults(collected)) == 0 {
		c.finalizeFailure(ctx, task, mesh.TaskStatusTimeout, &mesh.CoordinationError{
			Kind:   mesh.ErrTaskTimeout,
			TaskID: task.ID,
			Detail: fmt.Sprintf("no results within %dms", timeoutMs),
		})
		c.recordOutcomes(ctx, collected)
		return
	}

	final, screened, err := aggregator.Aggregate(task, collected, suspicious)
	if err != nil {
		status := mesh.TaskStatusFailed
		if timedOut {
			status = mesh.TaskStatusTimeout
		}
		c.finalizeFailure(ctx, task, status, err)
		c.recordOutcomes(ctx, collected)
		return
	}

	final.ExecutionTimeMs = execMs
	if timedOut {
		if final.Metadata == nil {
			final.Metadata = make(map[string]string)
		}
		final.Metadata["partial"] = "true"
	}

	if err := c.client.PutResult(ctx, final); err != nil {
		c.finalizeFailure(ctx, task, mesh.TaskStatusFailed, fmt.Errorf("failed to store result: %w", err))
		return
	}
	if _, err := c.queue.Transition(ctx, task.ID, mesh.TaskStatusCompleted, ""); err != nil {
		log.Printf("[Coordinator] Failed to complete task %s: %v", task.ID, err)
	}
	_ = c.client.PublishFinalResult(ctx, final)

	c.recordOutcomes(ctx, collected)
	for _, nodeID := range screened {
		quarantined, err := c.registry.MarkSuspicious(ctx, nodeID, settings.SuspicionThreshold)
		if err != nil {
			log.Printf("[Coordinator] Failed to mark node %s suspicious: %v", nodeID, err)
			continue
		}
		if quarantined {
			c.logEvent("node_quarantined", map[string]interface{}{
				"node_id": nodeID,
				"task_id": task.ID,
			})
		}
	}

	c.notifyWaiter(task.ID, taskOutcome{result: final})
	c.logEvent("task_completed", map[string]interface{}{
		"task_id":         task.ID,
		"nodes_used":      final.NodesUsed,
		"consensus_level": final.ConsensusLevel,
		"latency_ms":      execMs,
	})
}

// collectResults gathers node results until every expected node has
// answered or the deadline passes. The expected set can change while we
// wait: a redistribution swaps lost nodes for replacements on the same
// subscription. The first ack moves the task to running.
func (c *Coordinator) collectResults(ctx context.Context, task *mesh.Task, sub *mesh.ResultSubscription, inf *inflightTask, deadline time.Time) ([]mesh.NodeResult, bool) {
	var collected []mesh.NodeResult
	running := false

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for inf.pending() > 0 {
		select {
		case <-ctx.Done():
			return collected, true
		case <-timer.C:
			return collected, true
		case <-inf.changed:
			continue
		case msg, ok := <-sub.Events():
			if !ok {
				return collected, true
			}
			if !inf.expects(msg.NodeID) {
				continue
			}

			switch msg.Kind {
			case mesh.ResultKindAck:
				if !running {
					running = true
					if _, err := c.queue.Transition(ctx, task.ID, mesh.TaskStatusRunning, ""); err != nil {
						log.Printf("[Coordinator] Failed to mark task %s running: %v", task.ID, err)
					}
				}
			case mesh.ResultKindResult:
				if !inf.markAnswered(msg.NodeID) {
					continue
				}
				collected = append(collected, *msg.NodeResult)
			}
		case err, ok := <-sub.Errors():
			if !ok {
				return collected, true
			}
			log.Printf("[Coordinator] Result subscription error for task %s: %v", task.ID, err)
		}
	}
	return collected, false
}

func usableResults(results []mesh.NodeResult) []mesh.NodeResult {
	usable := make([]mesh.NodeResult, 0, len(results))
	for _, r := range results {
		if r.Error == "" {
			usable = append(usable, r)
		}
	}
	return usable
}

// recordOutcomes folds collected results into node performance records.
func (c *Coordinator) recordOutcomes(ctx context.Context, results []mesh.NodeResult) {
	for _, r := range results {
		if err := c.registry.RecordOutcome(ctx, r.NodeID, r.Error == "", r.ExecutionTimeMs); err != nil {
			log.Printf("[Coordinator] Failed to record outcome for node %s: %v", r.NodeID, err)
		}
	}
}

// failTask marks a task failed before any node ran it.
func (c *Coordinator) failTask(ctx context.Context, task *mesh.Task, cause error) {
	c.finalizeFailure(ctx, task, mesh.TaskStatusFailed, cause)
}

func (c *Coordinator) finalizeFailure(ctx context.Context, task *mesh.Task, status mesh.TaskStatus, cause error) {
	if _, err := c.queue.Transition(ctx, task.ID, status, cause.Error()); err != nil {
		log.Printf("[Coordinator] Failed to transition task %s to %s: %v", task.ID, status, err)
	}
	c.notifyWaiter(task.ID, taskOutcome{err: cause})
	c.logEvent("task_failed", map[string]interface{}{
		"task_id": task.ID,
		"status":  string(status),
		"error":   cause.Error(),
	})
}

// RedistributeTasks repairs assigned or running tasks whose nodes were
// lost. Tasks with a live collection keep their surviving assignments
// and get replacement nodes for only the lost share; tasks without one
// (the coordinator restarted since dispatch) are requeued from scratch.
// Called by the fault manager; does nothing when fault tolerance is
// disabled.
func (c *Coordinator) RedistributeTasks(ctx context.Context, lostNodes []string, settings Settings) error {
	if settings.FaultToleranceLevel == "none" || len(lostNodes) == 0 {
		return nil
	}

	lost := make(map[string]bool, len(lostNodes))
	for _, id := range lostNodes {
		lost[id] = true
	}

	tasks, err := c.queue.List(ctx)
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if task.Status != mesh.TaskStatusAssigned && task.Status != mesh.TaskStatusRunning {
			continue
		}

		affected := false
		for _, nodeID := range task.AssignedNodes {
			if lost[nodeID] {
				affected = true
				break
			}
		}
		if !affected {
			continue
		}

		if inf := c.getInflight(task.ID); inf != nil {
			c.topUpTask(ctx, task, inf, lost)
			continue
		}

		if err := c.queue.Requeue(ctx, task); err != nil {
			log.Printf("[Coordinator] Failed to requeue task %s: %v", task.ID, err)
			continue
		}
		c.logEvent("task_requeued", map[string]interface{}{
			"task_id":    task.ID,
			"lost_nodes": lostNodes,
		})
	}
	return nil
}

// topUpTask replaces the lost responders of an in-flight task. Surviving
// assignments and any results already collected are kept; only the lost
// share is redispatched, under the task's original deadline. When no
// replacement is available the task simply finishes with its survivors.
func (c *Coordinator) topUpTask(ctx context.Context, task *mesh.Task, inf *inflightTask, lost map[string]bool) {
	removed := inf.unansweredLost(lost)
	if len(removed) == 0 {
		return
	}

	surviving := make([]string, 0, len(task.AssignedNodes))
	for _, id := range task.AssignedNodes {
		if !lost[id] {
			surviving = append(surviving, id)
		}
	}

	c.mu.RLock()
	balancer := c.balancer
	c.mu.RUnlock()

	var replacements []*mesh.Node
	if candidates, err := c.registry.GetActiveNodes(ctx); err == nil {
		// Rank against a copy whose constraints exclude every node already
		// involved and cap selection at the lost share.
		spare := *task
		spare.Constraints.ExcludedNodes = append(append([]string{}, task.Constraints.ExcludedNodes...), task.AssignedNodes...)
		spare.Constraints.MaxNodes = len(removed)
		spare.Constraints.MaxNodesSet = true
		spare.Constraints.RequireAllNodes = false
		spare.Constraints.PreferredNodes = nil
		replacements, _ = SelectNodes(balancer, &spare, candidates, len(removed))
	}

	// Replacements join the expected set before their dispatch goes out so
	// a fast answer is never discarded; the lost responders are retired
	// last so the collection cannot finish under us meanwhile.
	assigned := surviving
	for _, node := range replacements {
		inf.add(node.ID)
		msg := &mesh.DispatchMessage{
			TaskID:     task.ID,
			NodeID:     node.ID,
			Query:      task.Query,
			DeadlineMs: inf.deadlineMs,
		}
		if err := c.client.PublishDispatch(ctx, msg); err != nil {
			log.Printf("[Coordinator] Failed to redispatch task %s to node %s: %v", task.ID, node.ID, err)
			inf.swap(map[string]bool{node.ID: true})
			continue
		}
		assigned = append(assigned, node.ID)
	}

	if _, err := c.queue.SetAssignedNodes(ctx, task.ID, assigned); err != nil {
		log.Printf("[Coordinator] Failed to update assignments for task %s: %v", task.ID, err)
	}
	inf.swap(lost)

	c.logEvent("task_redistributed", map[string]interface{}{
		"task_id":      task.ID,
		"lost_nodes":   removed,
		"replacements": len(assigned) - len(surviving),
	})
}

func (c *Coordinator) registerInflight(taskID string, inf *inflightTask) {
	c.inflightMu.Lock()
	c.inflight[taskID] = inf
	c.inflightMu.Unlock()
}

// dropInflight removes a collection handle, but only the one given: a
// requeued task's next execution must not lose its own handle to the
// first execution's cleanup.
func (c *Coordinator) dropInflight(taskID string, inf *inflightTask) {
	c.inflightMu.Lock()
	if c.inflight[taskID] == inf {
		delete(c.inflight, taskID)
	}
	c.inflightMu.Unlock()
}

func (c *Coordinator) getInflight(taskID string) *inflightTask {
	c.inflightMu.Lock()
	defer c.inflightMu.Unlock()
	return c.inflight[taskID]
}

func (c *Coordinator) registerWaiter(taskID string) chan taskOutcome {
	ch := make(chan taskOutcome, 1)
	c.waitersMu.Lock()
	c.waiters[taskID] = ch
	c.waitersMu.Unlock()
	return ch
}

func (c *Coordinator) dropWaiter(taskID string) {
	c.waitersMu.Lock()
	delete(c.waiters, taskID)
	c.waitersMu.Unlock()
}

func (c *Coordinator) notifyWaiter(taskID string, outcome taskOutcome) {
	c.waitersMu.Lock()
	ch, ok := c.waiters[taskID]
	if ok {
		delete(c.waiters, taskID)
	}
	c.waitersMu.Unlock()
	if ok {
		ch <- outcome
	}
}

// logEvent logs a structured event in JSON format.
func (c *Coordinator) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "coordinator"
	data["event_type"] = eventType
	data["instance"] = c.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Coordinator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}

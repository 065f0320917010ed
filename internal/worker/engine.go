package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/noesislabs/noesis/pkg/atomspace"
	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/noesislabs/noesis/pkg/reasoning"
)

// Engine represents the core execution logic of a reasoning worker.
// It manages three concurrent goroutines:
//   - Heartbeat loop: Publishes liveness, status, and workload
//   - Dispatch watcher: Receives task dispatches on the node's channel
//   - Task executor: Runs queries through the local reasoning engines
//
// The engine coordinates these goroutines via a work queue channel and
// handles graceful shutdown through context cancellation.
type Engine struct {
	config  *Config
	client  *mesh.Client
	store   *atomspace.Store
	engines *reasoning.EngineSet

	nodeID   string
	inflight atomic.Int64
	wg       sync.WaitGroup
}

// New creates a worker engine with its own knowledge store and the full
// set of local reasoning engines over it.
func New(config *Config, client *mesh.Client) *Engine {
	store := atomspace.NewStore()
	return &Engine{
		config:  config,
		client:  client,
		store:   store,
		engines: reasoning.NewEngineSet(store),
	}
}

// Store exposes the worker's knowledge store so callers can seed it
// before Start.
func (e *Engine) Store() *atomspace.Store { return e.store }

// NodeID returns the worker's node ID after registration.
func (e *Engine) NodeID() string { return e.nodeID }

// Capabilities returns the reasoning capabilities this worker advertises.
func (e *Engine) Capabilities() []reasoning.Capability { return e.config.Capabilities }

// Status reports the node status and workload the next heartbeat would
// carry.
func (e *Engine) Status() (mesh.NodeStatus, float64) {
	inflight := e.inflight.Load()
	workload := float64(inflight) / float64(e.config.MaxConcurrent)
	if workload > 1 {
		workload = 1
	}
	if inflight >= int64(e.config.MaxConcurrent) {
		return mesh.NodeStatusBusy, workload
	}
	return mesh.NodeStatusOnline, workload
}

// Start registers the node, launches the worker goroutines, and blocks
// until the context is cancelled. On shutdown the node deregisters and
// announces itself offline so the coordinator stops routing to it
// immediately instead of waiting out the liveness window.
func (e *Engine) Start(ctx context.Context) error {
	log.Printf("[INFO] Worker starting for node='%s' instance='%s'", e.config.NodeName, e.config.InstanceName)

	if e.config.SeedFile != "" {
		n, err := SeedStore(e.store, e.config.SeedFile)
		if err != nil {
			return fmt.Errorf("failed to seed knowledge store: %w", err)
		}
		log.Printf("[INFO] Seeded knowledge store with %d atoms from %s", n, e.config.SeedFile)
	}

	if err := e.register(ctx); err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	log.Printf("[INFO] Registered as node %s with capabilities %v", e.nodeID, e.config.Capabilities)

	dispatches, err := e.client.SubscribeDispatches(ctx, e.nodeID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to dispatches: %w", err)
	}
	defer dispatches.Close()

	// Buffer absorbs a dispatch burst without blocking the watcher.
	workQueue := make(chan *mesh.DispatchMessage, e.config.MaxConcurrent)

	e.wg.Add(2)
	go e.heartbeatLoop(ctx)
	go e.dispatchWatcher(ctx, dispatches, workQueue)

	for i := 0; i < e.config.MaxConcurrent; i++ {
		e.wg.Add(1)
		go e.taskExecutor(ctx, workQueue)
	}

	<-ctx.Done()
	log.Printf("[INFO] Shutdown signal received, initiating graceful shutdown")

	close(workQueue)
	e.wg.Wait()

	e.shutdown()
	log.Printf("[INFO] All goroutines exited, shutdown complete")
	return nil
}

// register self-assigns a node ID and writes the node record. Workers
// register directly over Redis; the coordinator learns about the node
// from the record and its heartbeats.
func (e *Engine) register(ctx context.Context) error {
	now := time.Now().UnixMilli()
	node := &mesh.Node{
		ID:              uuid.New().String(),
		Endpoint:        e.config.Endpoint,
		Capabilities:    e.config.Capabilities,
		Status:          mesh.NodeStatusOnline,
		LastHeartbeatMs: now,
		Workload:        0,
		Performance:     mesh.Performance{Reliability: 1.0},
		RegisteredAtMs:  now,
	}
	if err := e.client.PutNode(ctx, node); err != nil {
		return err
	}
	e.nodeID = node.ID
	return nil
}

// shutdown announces the node offline and removes its record. Uses a
// fresh context: the run context is already cancelled.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hb := &mesh.Heartbeat{
		NodeID:      e.nodeID,
		Status:      mesh.NodeStatusOffline,
		Workload:    0,
		TimestampMs: time.Now().UnixMilli(),
	}
	if err := e.client.PublishHeartbeat(ctx, hb); err != nil {
		log.Printf("[DEBUG] Failed to publish offline heartbeat: %v", err)
	}
	if _, err := e.client.RemoveNode(ctx, e.nodeID); err != nil {
		log.Printf("[DEBUG] Failed to deregister node: %v", err)
	}
}

// heartbeatLoop publishes liveness on the configured interval. Workload is
// the fraction of executor slots in use.
func (e *Engine) heartbeatLoop(ctx context.Context) {
	defer e.wg.Done()
	defer log.Printf("[DEBUG] Heartbeat loop exited cleanly")

	interval := time.Duration(e.config.HeartbeatIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.publishHeartbeat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.publishHeartbeat(ctx)
		}
	}
}

func (e *Engine) publishHeartbeat(ctx context.Context) {
	status, workload := e.Status()

	hb := &mesh.Heartbeat{
		NodeID:      e.nodeID,
		Status:      status,
		Workload:    workload,
		TimestampMs: time.Now().UnixMilli(),
	}
	if err := e.client.PublishHeartbeat(ctx, hb); err != nil && ctx.Err() == nil {
		log.Printf("[DEBUG] Failed to publish heartbeat: %v", err)
	}

	// Keep the stored record fresh too: the registry's liveness sweep
	// reads the record, not the channel.
	if node, err := e.client.GetNode(ctx, e.nodeID); err == nil {
		node.Status = status
		node.Workload = workload
		node.LastHeartbeatMs = hb.TimestampMs
		if err := e.client.PutNode(ctx, node); err != nil && ctx.Err() == nil {
			log.Printf("[DEBUG] Failed to refresh node record: %v", err)
		}
	}
}

// dispatchWatcher feeds incoming dispatches to the executor pool.
func (e *Engine) dispatchWatcher(ctx context.Context, sub *mesh.DispatchSubscription, workQueue chan<- *mesh.DispatchMessage) {
	defer e.wg.Done()
	defer log.Printf("[DEBUG] Dispatch watcher exited cleanly")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Events():
			if !ok {
				return
			}
			select {
			case workQueue <- msg:
			case <-ctx.Done():
				return
			}
		case err, ok := <-sub.Errors():
			if !ok {
				return
			}
			log.Printf("[DEBUG] Dispatch subscription error: %v", err)
		}
	}
}

// taskExecutor drains the work queue, running each query through the
// local engines and publishing the result on the task's results channel.
func (e *Engine) taskExecutor(ctx context.Context, workQueue <-chan *mesh.DispatchMessage) {
	defer e.wg.Done()

	for msg := range workQueue {
		if ctx.Err() != nil {
			return
		}
		e.executeTask(ctx, msg)
	}
}

func (e *Engine) executeTask(ctx context.Context, msg *mesh.DispatchMessage) {
	e.inflight.Add(1)
	defer e.inflight.Add(-1)

	// Acknowledge before reasoning so the coordinator sees the task
	// running even when the query is slow.
	ack := &mesh.ResultMessage{
		Kind:   mesh.ResultKindAck,
		TaskID: msg.TaskID,
		NodeID: e.nodeID,
	}
	if err := e.client.PublishResult(ctx, ack); err != nil && ctx.Err() == nil {
		log.Printf("[INFO] Failed to ack task %s: %v", msg.TaskID, err)
	}

	execCtx := ctx
	if msg.DeadlineMs > 0 {
		deadline := time.UnixMilli(msg.DeadlineMs)
		var cancel context.CancelFunc
		execCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	started := time.Now()
	result := e.engines.Dispatch(execCtx, msg.Query)
	execMs := time.Since(started).Milliseconds()

	out := &mesh.ResultMessage{
		Kind:   mesh.ResultKindResult,
		TaskID: msg.TaskID,
		NodeID: e.nodeID,
		NodeResult: &mesh.NodeResult{
			NodeID:          e.nodeID,
			Result:          result,
			ExecutionTimeMs: execMs,
			Reliability:     1.0,
		},
	}
	if err := e.client.PublishResult(ctx, out); err != nil && ctx.Err() == nil {
		log.Printf("[INFO] Failed to publish result for task %s: %v", msg.TaskID, err)
		return
	}

	log.Printf("[INFO] Completed task %s: confidence=%.2f latency=%dms", msg.TaskID, result.Confidence, execMs)
}

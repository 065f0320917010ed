package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the coordination
// mesh. All keys and channels are automatically namespaced with the
// instance name. The client is thread-safe and can be used concurrently
// from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a new mesh client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: noesis instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// InstanceName returns the instance this client is namespaced to.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Close closes the Redis connection. Implements io.Closer.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// IsNotFound returns true if the error is a Redis "key not found" error
// (redis.Nil). Use this to check if GetNode, GetTask, or GetResult
// returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}

// --- Node operations ---

// PutNode writes a node record to Redis and adds it to the node index.
// Validates the node before writing. Used for both registration and
// heartbeat-driven updates; writing the same node twice is safe.
func (c *Client) PutNode(ctx context.Context, n *Node) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("invalid node: %w", err)
	}

	hash, err := NodeToHash(n)
	if err != nil {
		return fmt.Errorf("failed to serialize node: %w", err)
	}

	key := NodeKey(c.instanceName, n.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write node to Redis: %w", err)
	}
	if err := c.rdb.SAdd(ctx, NodesIndexKey(c.instanceName), n.ID).Err(); err != nil {
		return fmt.Errorf("failed to index node: %w", err)
	}

	return nil
}

// GetNode retrieves a node by ID. Returns (nil, redis.Nil) if the node
// doesn't exist; use IsNotFound() to check.
func (c *Client) GetNode(ctx context.Context, nodeID string) (*Node, error) {
	key := NodeKey(c.instanceName, nodeID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read node from Redis: %w", err)
	}
	// HGetAll returns an empty map for non-existent keys.
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	node, err := HashToNode(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize node: %w", err)
	}
	return node, nil
}

// ListNodes retrieves every registered node. Index entries whose hash has
// vanished are silently skipped.
func (c *Client) ListNodes(ctx context.Context) ([]*Node, error) {
	ids, err := c.rdb.SMembers(ctx, NodesIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read node index: %w", err)
	}

	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		node, err := c.GetNode(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// RemoveNode deletes a node record and its index entry. Returns false if
// the node was not registered.
func (c *Client) RemoveNode(ctx context.Context, nodeID string) (bool, error) {
	removed, err := c.rdb.SRem(ctx, NodesIndexKey(c.instanceName), nodeID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove node from index: %w", err)
	}
	if err := c.rdb.Del(ctx, NodeKey(c.instanceName, nodeID)).Err(); err != nil {
		return false, fmt.Errorf("failed to delete node: %w", err)
	}
	return removed > 0, nil
}

// --- Task operations ---

// CreateTask writes a task record to Redis and adds it to the task index.
// Validates the task before writing.
func (c *Client) CreateTask(ctx context.Context, t *Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	hash, err := TaskToHash(t)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	key := TaskKey(c.instanceName, t.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write task to Redis: %w", err)
	}
	if err := c.rdb.SAdd(ctx, TasksIndexKey(c.instanceName), t.ID).Err(); err != nil {
		return fmt.Errorf("failed to index task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by ID. Returns (nil, redis.Nil) if the task
// doesn't exist.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	key := TaskKey(c.instanceName, taskID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	task, err := HashToTask(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize task: %w", err)
	}
	return task, nil
}

// UpdateTask replaces an existing task with new data (full replacement).
// Used by the queue and coordinator to advance status and assigned nodes.
func (c *Client) UpdateTask(ctx context.Context, t *Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	hash, err := TaskToHash(t)
	if err != nil {
		return fmt.Errorf("failed to serialize task: %w", err)
	}

	key := TaskKey(c.instanceName, t.ID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to update task in Redis: %w", err)
	}
	return nil
}

// ListTasks retrieves every known task, queued or terminal.
func (c *Client) ListTasks(ctx context.Context) ([]*Task, error) {
	ids, err := c.rdb.SMembers(ctx, TasksIndexKey(c.instanceName)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read task index: %w", err)
	}

	tasks := make([]*Task, 0, len(ids))
	for _, id := range ids {
		task, err := c.GetTask(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// DeleteTask removes a task record, its index entry, and any stored
// result.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	if err := c.rdb.SRem(ctx, TasksIndexKey(c.instanceName), taskID).Err(); err != nil {
		return fmt.Errorf("failed to remove task from index: %w", err)
	}
	if err := c.rdb.Del(ctx, TaskKey(c.instanceName, taskID), ResultKey(c.instanceName, taskID)).Err(); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// EnqueueTask adds a task ID to the priority queue ZSET. The score orders
// by priority class first, submission time second.
func (c *Client) EnqueueTask(ctx context.Context, t *Task) error {
	z := redis.Z{
		Score:  QueueScore(t.Priority, t.CreatedAtMs),
		Member: t.ID,
	}
	if err := c.rdb.ZAdd(ctx, TaskQueueKey(c.instanceName), z).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// DequeueTask pops the highest-priority, earliest-submitted task ID from
// the queue. Returns ("", redis.Nil) when the queue is empty.
func (c *Client) DequeueTask(ctx context.Context) (string, error) {
	results, err := c.rdb.ZPopMin(ctx, TaskQueueKey(c.instanceName), 1).Result()
	if err != nil {
		return "", fmt.Errorf("failed to dequeue task: %w", err)
	}
	if len(results) == 0 {
		return "", redis.Nil
	}
	return results[0].Member.(string), nil
}

// RemoveQueuedTask removes a task ID from the queue without dequeuing in
// order (used by cancellation). Returns false if the task was not queued.
func (c *Client) RemoveQueuedTask(ctx context.Context, taskID string) (bool, error) {
	removed, err := c.rdb.ZRem(ctx, TaskQueueKey(c.instanceName), taskID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove queued task: %w", err)
	}
	return removed > 0, nil
}

// QueueDepth returns the number of tasks currently queued.
func (c *Client) QueueDepth(ctx context.Context) (int64, error) {
	depth, err := c.rdb.ZCard(ctx, TaskQueueKey(c.instanceName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return depth, nil
}

// --- Result operations ---

// PutResult persists a task's final DistributedResult.
func (c *Client) PutResult(ctx context.Context, r *DistributedResult) error {
	hash, err := ResultToHash(r)
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}

	key := ResultKey(c.instanceName, r.TaskID)
	if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
		return fmt.Errorf("failed to write result to Redis: %w", err)
	}
	return nil
}

// GetResult retrieves a task's final result. Returns (nil, redis.Nil) if
// no result has been stored.
func (c *Client) GetResult(ctx context.Context, taskID string) (*DistributedResult, error) {
	key := ResultKey(c.instanceName, taskID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read result from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	result, err := HashToResult(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize result: %w", err)
	}
	return result, nil
}

// --- Publishers ---

func (c *Client) publishJSON(ctx context.Context, channel string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	if err := c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// PublishHeartbeat publishes a node heartbeat. Fire-and-forget: the
// sender gets no acknowledgement.
func (c *Client) PublishHeartbeat(ctx context.Context, hb *Heartbeat) error {
	if err := hb.Validate(); err != nil {
		return fmt.Errorf("invalid heartbeat: %w", err)
	}
	return c.publishJSON(ctx, HeartbeatChannel(c.instanceName), hb)
}

// PublishDispatch publishes a task dispatch to a specific node's channel.
func (c *Client) PublishDispatch(ctx context.Context, msg *DispatchMessage) error {
	return c.publishJSON(ctx, DispatchChannel(c.instanceName, msg.NodeID), msg)
}

// PublishResult publishes a worker's ack or result on the task's results
// channel.
func (c *Client) PublishResult(ctx context.Context, msg *ResultMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid result message: %w", err)
	}
	return c.publishJSON(ctx, TaskResultsChannel(c.instanceName, msg.TaskID), msg)
}

// PublishTaskEvent publishes a task lifecycle event for observers.
func (c *Client) PublishTaskEvent(ctx context.Context, ev *TaskEvent) error {
	return c.publishJSON(ctx, TaskEventsChannel(c.instanceName), ev)
}

// PublishFinalResult publishes a completed DistributedResult on the
// result events channel for out-of-process submitters.
func (c *Client) PublishFinalResult(ctx context.Context, r *DistributedResult) error {
	return c.publishJSON(ctx, ResultEventsChannel(c.instanceName), r)
}

// --- Subscriptions ---

// subscription is the shared machinery behind the typed subscription
// wrappers: a decode goroutine feeding buffered channels, cancelled
// either by Close() or by the parent context.
func subscribeJSON[T any](ctx context.Context, rdb *redis.Client, channel string) (<-chan *T, <-chan error, func()) {
	pubsub := rdb.Subscribe(ctx, channel)

	eventsChan := make(chan *T, 16)
	errorsChan := make(chan error, 16)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				event := new(T)
				if err := json.Unmarshal([]byte(msg.Payload), event); err != nil {
					// Non-fatal: report and skip the message.
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal event on %s: %w", channel, err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return eventsChan, errorsChan, cancelFunc
}

// HeartbeatSubscription delivers node heartbeats. Caller must call
// Close() when done.
type HeartbeatSubscription struct {
	events <-chan *Heartbeat
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of heartbeats.
func (s *HeartbeatSubscription) Events() <-chan *Heartbeat { return s.events }

// Errors returns the channel of subscription errors. The subscription
// continues after errors; malformed messages are skipped.
func (s *HeartbeatSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Safe to call multiple times.
func (s *HeartbeatSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeHeartbeats subscribes to node heartbeats for this instance.
func (c *Client) SubscribeHeartbeats(ctx context.Context) (*HeartbeatSubscription, error) {
	events, errs, cancel := subscribeJSON[Heartbeat](ctx, c.rdb, HeartbeatChannel(c.instanceName))
	return &HeartbeatSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// DispatchSubscription delivers task dispatches for a single node.
type DispatchSubscription struct {
	events <-chan *DispatchMessage
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of dispatch messages.
func (s *DispatchSubscription) Events() <-chan *DispatchMessage { return s.events }

// Errors returns the channel of subscription errors.
func (s *DispatchSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Safe to call multiple times.
func (s *DispatchSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeDispatches subscribes to the dispatch channel of one node.
// Only that node's worker should subscribe.
func (c *Client) SubscribeDispatches(ctx context.Context, nodeID string) (*DispatchSubscription, error) {
	events, errs, cancel := subscribeJSON[DispatchMessage](ctx, c.rdb, DispatchChannel(c.instanceName, nodeID))
	return &DispatchSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// ResultSubscription delivers acks and node results for a single task.
type ResultSubscription struct {
	events <-chan *ResultMessage
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of result messages.
func (s *ResultSubscription) Events() <-chan *ResultMessage { return s.events }

// Errors returns the channel of subscription errors.
func (s *ResultSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Safe to call multiple times.
func (s *ResultSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeTaskResults subscribes to the results channel of one task.
// The coordinator subscribes before dispatching so no result can be lost
// in the gap.
func (c *Client) SubscribeTaskResults(ctx context.Context, taskID string) (*ResultSubscription, error) {
	events, errs, cancel := subscribeJSON[ResultMessage](ctx, c.rdb, TaskResultsChannel(c.instanceName, taskID))
	return &ResultSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// TaskEventSubscription delivers task lifecycle events.
type TaskEventSubscription struct {
	events <-chan *TaskEvent
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of task events.
func (s *TaskEventSubscription) Events() <-chan *TaskEvent { return s.events }

// Errors returns the channel of subscription errors.
func (s *TaskEventSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Safe to call multiple times.
func (s *TaskEventSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeTaskEvents subscribes to task lifecycle events for this
// instance.
func (c *Client) SubscribeTaskEvents(ctx context.Context) (*TaskEventSubscription, error) {
	events, errs, cancel := subscribeJSON[TaskEvent](ctx, c.rdb, TaskEventsChannel(c.instanceName))
	return &TaskEventSubscription{events: events, errors: errs, cancel: cancel}, nil
}

// FinalResultSubscription delivers completed DistributedResults.
type FinalResultSubscription struct {
	events <-chan *DistributedResult
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of final results.
func (s *FinalResultSubscription) Events() <-chan *DistributedResult { return s.events }

// Errors returns the channel of subscription errors.
func (s *FinalResultSubscription) Errors() <-chan error { return s.errors }

// Close stops the subscription. Safe to call multiple times.
func (s *FinalResultSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeFinalResults subscribes to final results for this instance,
// used by out-of-process submitters (the CLI) to wait for completion.
func (c *Client) SubscribeFinalResults(ctx context.Context) (*FinalResultSubscription, error) {
	events, errs, cancel := subscribeJSON[DistributedResult](ctx, c.rdb, ResultEventsChannel(c.instanceName))
	return &FinalResultSubscription{events: events, errors: errs, cancel: cancel}, nil
}

package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/noesislabs/noesis/pkg/reasoning"
)

// Queue manages the task lifecycle: submission, priority ordering, status
// transitions, cancellation, and retention of terminal tasks. Queue state
// lives in Redis; the struct is stateless and safe for concurrent use.
type Queue struct {
	client *mesh.Client
}

// NewQueue creates a queue over the given mesh client.
func NewQueue(client *mesh.Client) *Queue {
	return &Queue{client: client}
}

// SubmitRequest carries the caller-supplied parts of a task.
type SubmitRequest struct {
	Query                reasoning.Query
	Priority             mesh.TaskPriority
	RequiredCapabilities []reasoning.Capability
	Constraints          mesh.Constraints
}

// Submit validates the request, assigns a task ID, and enqueues the task
// as pending. Returns the stored task.
func (q *Queue) Submit(ctx context.Context, req *SubmitRequest) (*mesh.Task, error) {
	if err := req.Query.Validate(); err != nil {
		return nil, &mesh.CoordinationError{
			Kind:   mesh.ErrInvalidQuery,
			Detail: err.Error(),
		}
	}

	priority := req.Priority
	if priority == "" {
		priority = mesh.TaskPriorityMedium
	}
	if err := priority.Validate(); err != nil {
		return nil, &mesh.CoordinationError{
			Kind:   mesh.ErrInvalidQuery,
			Detail: err.Error(),
		}
	}

	task := &mesh.Task{
		ID:                   uuid.New().String(),
		Query:                req.Query,
		Priority:             priority,
		RequiredCapabilities: req.RequiredCapabilities,
		Constraints:          req.Constraints,
		Status:               mesh.TaskStatusPending,
		AssignedNodes:        []string{},
		CreatedAtMs:          time.Now().UnixMilli(),
	}

	if err := q.client.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	if err := q.client.EnqueueTask(ctx, task); err != nil {
		return nil, err
	}

	q.publishEvent(ctx, task, "task_submitted", "")
	return task, nil
}

// Pop dequeues the next task in priority order and loads its record.
// Returns (nil, redis.Nil) when the queue is empty. Tasks cancelled while
// queued are skipped.
func (q *Queue) Pop(ctx context.Context) (*mesh.Task, error) {
	for {
		taskID, err := q.client.DequeueTask(ctx)
		if err != nil {
			return nil, err
		}

		task, err := q.client.GetTask(ctx, taskID)
		if err != nil {
			if mesh.IsNotFound(err) {
				// Record deleted by retention while queued; skip.
				continue
			}
			return nil, err
		}
		if task.Status != mesh.TaskStatusPending {
			continue
		}
		return task, nil
	}
}

// Get loads a task record.
func (q *Queue) Get(ctx context.Context, taskID string) (*mesh.Task, error) {
	return q.client.GetTask(ctx, taskID)
}

// List returns every known task.
func (q *Queue) List(ctx context.Context) ([]*mesh.Task, error) {
	return q.client.ListTasks(ctx)
}

// Depth returns the number of queued tasks.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.QueueDepth(ctx)
}

// Transition moves a task to a new status, enforcing the lifecycle state
// machine, and broadcasts the change. Returns the updated task.
func (q *Queue) Transition(ctx context.Context, taskID string, to mesh.TaskStatus, detail string) (*mesh.Task, error) {
	task, err := q.client.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !mesh.CanTransition(task.Status, to) {
		return nil, fmt.Errorf("invalid task transition %s -> %s for task %s", task.Status, to, taskID)
	}

	task.Status = to
	if err := q.client.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	q.publishEvent(ctx, task, "status_changed", detail)
	return task, nil
}

// Assign records the selected nodes and moves the task to assigned.
func (q *Queue) Assign(ctx context.Context, taskID string, nodeIDs []string) (*mesh.Task, error) {
	task, err := q.client.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !mesh.CanTransition(task.Status, mesh.TaskStatusAssigned) {
		return nil, fmt.Errorf("invalid task transition %s -> %s for task %s", task.Status, mesh.TaskStatusAssigned, taskID)
	}

	task.Status = mesh.TaskStatusAssigned
	task.AssignedNodes = nodeIDs
	if err := q.client.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	q.publishEvent(ctx, task, "status_changed", fmt.Sprintf("assigned to %d nodes", len(nodeIDs)))
	return task, nil
}

// SetAssignedNodes rewrites the assignment set of an in-flight task
// after a redistribution swapped lost nodes for replacements. The task
// must still be assigned or running.
func (q *Queue) SetAssignedNodes(ctx context.Context, taskID string, nodeIDs []string) (*mesh.Task, error) {
	task, err := q.client.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status != mesh.TaskStatusAssigned && task.Status != mesh.TaskStatusRunning {
		return nil, fmt.Errorf("task %s is %s, not in flight", taskID, task.Status)
	}

	task.AssignedNodes = nodeIDs
	if err := q.client.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	q.publishEvent(ctx, task, "task_redistributed", fmt.Sprintf("reassigned to %d nodes", len(nodeIDs)))
	return task, nil
}

// Cancel moves a task to cancelled from any non-terminal state and, if it
// was still queued, withdraws it from the queue. Cancelling a terminal
// task fails.
func (q *Queue) Cancel(ctx context.Context, taskID string) (*mesh.Task, error) {
	task, err := q.client.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status.Terminal() {
		return nil, fmt.Errorf("task %s is already %s", taskID, task.Status)
	}

	if task.Status == mesh.TaskStatusPending {
		if _, err := q.client.RemoveQueuedTask(ctx, taskID); err != nil {
			return nil, err
		}
	}

	task.Status = mesh.TaskStatusCancelled
	if err := q.client.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	q.publishEvent(ctx, task, "status_changed", "cancelled by caller")
	return task, nil
}

// Requeue puts an assigned or running task back into pending so the
// dispatcher picks it up from scratch. This is the recovery path for
// tasks whose collection is no longer in process, such as after a
// coordinator restart. The original submission time is kept so the task
// does not lose its queue position.
func (q *Queue) Requeue(ctx context.Context, task *mesh.Task) error {
	task.Status = mesh.TaskStatusPending
	task.AssignedNodes = []string{}
	if err := q.client.UpdateTask(ctx, task); err != nil {
		return err
	}
	if err := q.client.EnqueueTask(ctx, task); err != nil {
		return err
	}

	q.publishEvent(ctx, task, "task_requeued", "assigned nodes lost")
	return nil
}

// CleanupTerminal deletes terminal tasks older than the retention window.
// Returns the number of tasks deleted.
func (q *Queue) CleanupTerminal(ctx context.Context, retentionMs int64) (int, error) {
	tasks, err := q.client.ListTasks(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UnixMilli() - retentionMs
	deleted := 0
	for _, task := range tasks {
		if !task.Status.Terminal() {
			continue
		}
		if task.CreatedAtMs >= cutoff {
			continue
		}
		if err := q.client.DeleteTask(ctx, task.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// publishEvent broadcasts a task lifecycle event. Publish failures are
// swallowed: events are advisory, the hash record is the source of truth.
func (q *Queue) publishEvent(ctx context.Context, task *mesh.Task, eventType, detail string) {
	_ = q.client.PublishTaskEvent(ctx, &mesh.TaskEvent{
		Type:        eventType,
		TaskID:      task.ID,
		Status:      task.Status,
		TimestampMs: time.Now().UnixMilli(),
		Detail:      detail,
	})
}

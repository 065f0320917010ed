package mesh

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple noesis meshes to safely coexist on a single Redis server.
//
// Key pattern: noesis:{instance_name}:{entity}:{uuid}
// Channel pattern: noesis:{instance_name}:{event_type}_events

// NodeKey returns the Redis key for a node hash.
// Pattern: noesis:{instance_name}:node:{node_id}
func NodeKey(instanceName, nodeID string) string {
	return fmt.Sprintf("noesis:%s:node:%s", instanceName, nodeID)
}

// NodesIndexKey returns the Redis key for the set of registered node IDs.
// Pattern: noesis:{instance_name}:nodes
func NodesIndexKey(instanceName string) string {
	return fmt.Sprintf("noesis:%s:nodes", instanceName)
}

// TaskKey returns the Redis key for a task hash.
// Pattern: noesis:{instance_name}:task:{task_id}
func TaskKey(instanceName, taskID string) string {
	return fmt.Sprintf("noesis:%s:task:%s", instanceName, taskID)
}

// TasksIndexKey returns the Redis key for the set of known task IDs.
// Pattern: noesis:{instance_name}:tasks
func TasksIndexKey(instanceName string) string {
	return fmt.Sprintf("noesis:%s:tasks", instanceName)
}

// TaskQueueKey returns the Redis key for the pending-task priority ZSET.
// Pattern: noesis:{instance_name}:task_queue
func TaskQueueKey(instanceName string) string {
	return fmt.Sprintf("noesis:%s:task_queue", instanceName)
}

// ResultKey returns the Redis key for a task's final result hash.
// Pattern: noesis:{instance_name}:task_result:{task_id}
func ResultKey(instanceName, taskID string) string {
	return fmt.Sprintf("noesis:%s:task_result:%s", instanceName, taskID)
}

// HeartbeatChannel returns the Pub/Sub channel for node heartbeats.
// Pattern: noesis:{instance_name}:heartbeat_events
func HeartbeatChannel(instanceName string) string {
	return fmt.Sprintf("noesis:%s:heartbeat_events", instanceName)
}

// DispatchChannel returns the node-specific dispatch channel. The
// coordinator publishes DispatchMessages here; only that node subscribes.
// Pattern: noesis:{instance_name}:node:{node_id}:dispatch
func DispatchChannel(instanceName, nodeID string) string {
	return fmt.Sprintf("noesis:%s:node:%s:dispatch", instanceName, nodeID)
}

// TaskResultsChannel returns the task-specific results channel. Workers
// publish acks and NodeResults here; the coordinator collecting the task
// subscribes.
// Pattern: noesis:{instance_name}:task:{task_id}:results
func TaskResultsChannel(instanceName, taskID string) string {
	return fmt.Sprintf("noesis:%s:task:%s:results", instanceName, taskID)
}

// TaskEventsChannel returns the Pub/Sub channel for task lifecycle events.
// Pattern: noesis:{instance_name}:task_events
func TaskEventsChannel(instanceName string) string {
	return fmt.Sprintf("noesis:%s:task_events", instanceName)
}

// ResultEventsChannel returns the Pub/Sub channel carrying final
// DistributedResults, consumed by submitters waiting out-of-process.
// Pattern: noesis:{instance_name}:result_events
func ResultEventsChannel(instanceName string) string {
	return fmt.Sprintf("noesis:%s:result_events", instanceName)
}

// queueScoreSpan separates priority classes in the task queue ZSET score.
// It must exceed any realistic millisecond timestamp so priority always
// dominates submission time.
const queueScoreSpan = 1e13

// QueueScore converts a task's priority and creation time to a ZSET score.
// Lower scores dequeue first: priority rank dominates, creation time
// breaks ties FIFO within a class.
func QueueScore(priority TaskPriority, createdAtMs int64) float64 {
	return float64(priority.Rank())*queueScoreSpan + float64(createdAtMs)
}

package mesh

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/noesislabs/noesis/pkg/reasoning"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like
// capability lists and queries are JSON-encoded into single hash fields.
// This keeps scalar fields individually readable while allowing structured
// payloads.

// NodeToHash converts a Node struct to a Redis hash format.
func NodeToHash(n *Node) (map[string]interface{}, error) {
	capsJSON, err := json.Marshal(n.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	perfJSON, err := json.Marshal(n.Performance)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal performance: %w", err)
	}

	return map[string]interface{}{
		"id":                n.ID,
		"endpoint":          n.Endpoint,
		"capabilities":      string(capsJSON),
		"status":            string(n.Status),
		"last_heartbeat_ms": n.LastHeartbeatMs,
		"workload":          strconv.FormatFloat(n.Workload, 'g', -1, 64),
		"performance":       string(perfJSON),
		"registered_at_ms":  n.RegisteredAtMs,
	}, nil
}

// HashToNode converts a Redis hash to a Node struct.
func HashToNode(hash map[string]string) (*Node, error) {
	var caps []reasoning.Capability
	if capsJSON := hash["capabilities"]; capsJSON != "" {
		if err := json.Unmarshal([]byte(capsJSON), &caps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
		}
	}

	var perf Performance
	if perfJSON := hash["performance"]; perfJSON != "" {
		if err := json.Unmarshal([]byte(perfJSON), &perf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal performance: %w", err)
		}
	}

	lastHeartbeat, _ := strconv.ParseInt(hash["last_heartbeat_ms"], 10, 64)
	registeredAt, _ := strconv.ParseInt(hash["registered_at_ms"], 10, 64)
	workload, err := strconv.ParseFloat(hash["workload"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid workload field: %w", err)
	}

	return &Node{
		ID:              hash["id"],
		Endpoint:        hash["endpoint"],
		Capabilities:    caps,
		Status:          NodeStatus(hash["status"]),
		LastHeartbeatMs: lastHeartbeat,
		Workload:        workload,
		Performance:     perf,
		RegisteredAtMs:  registeredAt,
	}, nil
}

// TaskToHash converts a Task struct to a Redis hash format.
func TaskToHash(t *Task) (map[string]interface{}, error) {
	queryJSON, err := json.Marshal(t.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}
	capsJSON, err := json.Marshal(t.RequiredCapabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal required capabilities: %w", err)
	}
	constraintsJSON, err := json.Marshal(t.Constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal constraints: %w", err)
	}
	assignedJSON, err := json.Marshal(t.AssignedNodes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assigned nodes: %w", err)
	}

	return map[string]interface{}{
		"id":                    t.ID,
		"query":                 string(queryJSON),
		"priority":              string(t.Priority),
		"required_capabilities": string(capsJSON),
		"constraints":           string(constraintsJSON),
		"status":                string(t.Status),
		"assigned_nodes":        string(assignedJSON),
		"created_at_ms":         t.CreatedAtMs,
	}, nil
}

// HashToTask converts a Redis hash to a Task struct.
func HashToTask(hash map[string]string) (*Task, error) {
	var query reasoning.Query
	if queryJSON := hash["query"]; queryJSON != "" {
		if err := json.Unmarshal([]byte(queryJSON), &query); err != nil {
			return nil, fmt.Errorf("failed to unmarshal query: %w", err)
		}
	}

	var caps []reasoning.Capability
	if capsJSON := hash["required_capabilities"]; capsJSON != "" {
		if err := json.Unmarshal([]byte(capsJSON), &caps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal required capabilities: %w", err)
		}
	}

	var constraints Constraints
	if constraintsJSON := hash["constraints"]; constraintsJSON != "" {
		if err := json.Unmarshal([]byte(constraintsJSON), &constraints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal constraints: %w", err)
		}
	}

	var assigned []string
	if assignedJSON := hash["assigned_nodes"]; assignedJSON != "" {
		if err := json.Unmarshal([]byte(assignedJSON), &assigned); err != nil {
			return nil, fmt.Errorf("failed to unmarshal assigned nodes: %w", err)
		}
	}
	if assigned == nil {
		assigned = []string{}
	}

	createdAt, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	return &Task{
		ID:                   hash["id"],
		Query:                query,
		Priority:             TaskPriority(hash["priority"]),
		RequiredCapabilities: caps,
		Constraints:          constraints,
		Status:               TaskStatus(hash["status"]),
		AssignedNodes:        assigned,
		CreatedAtMs:          createdAt,
	}, nil
}

// ResultToHash converts a DistributedResult to a Redis hash format.
func ResultToHash(r *DistributedResult) (map[string]interface{}, error) {
	nodeResultsJSON, err := json.Marshal(r.NodeResults)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node results: %w", err)
	}
	aggregatedJSON, err := json.Marshal(r.Aggregated)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal aggregated result: %w", err)
	}
	metadataJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return map[string]interface{}{
		"task_id":           r.TaskID,
		"node_results":      string(nodeResultsJSON),
		"aggregated":        string(aggregatedJSON),
		"consensus_level":   strconv.FormatFloat(r.ConsensusLevel, 'g', -1, 64),
		"execution_time_ms": r.ExecutionTimeMs,
		"nodes_used":        r.NodesUsed,
		"metadata":          string(metadataJSON),
	}, nil
}

// HashToResult converts a Redis hash to a DistributedResult struct.
func HashToResult(hash map[string]string) (*DistributedResult, error) {
	var nodeResults []NodeResult
	if nodeResultsJSON := hash["node_results"]; nodeResultsJSON != "" {
		if err := json.Unmarshal([]byte(nodeResultsJSON), &nodeResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node results: %w", err)
		}
	}

	var aggregated reasoning.Result
	if aggregatedJSON := hash["aggregated"]; aggregatedJSON != "" {
		if err := json.Unmarshal([]byte(aggregatedJSON), &aggregated); err != nil {
			return nil, fmt.Errorf("failed to unmarshal aggregated result: %w", err)
		}
	}

	var metadata map[string]string
	if metadataJSON := hash["metadata"]; metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	consensus, _ := strconv.ParseFloat(hash["consensus_level"], 64)
	execTime, _ := strconv.ParseInt(hash["execution_time_ms"], 10, 64)
	nodesUsed, _ := strconv.Atoi(hash["nodes_used"])

	return &DistributedResult{
		TaskID:          hash["task_id"],
		NodeResults:     nodeResults,
		Aggregated:      aggregated,
		ConsensusLevel:  consensus,
		ExecutionTimeMs: execTime,
		NodesUsed:       nodesUsed,
		Metadata:        metadata,
	}, nil
}

// Package mesh provides type-safe Go definitions and Redis schema patterns
// for the noesis coordination mesh.
//
// # Overview
//
// The mesh is the shared state system where all noesis components
// (coordinator, workers, CLI) interact via well-defined data structures
// stored in Redis. Reasoning nodes advertise themselves and heartbeat
// through it; the coordinator queues, dispatches, and resolves distributed
// reasoning tasks through it.
//
// # Core Concepts
//
// Nodes are remote reasoning workers: identity, endpoint, advertised
// capabilities, liveness, workload, and rolling performance statistics.
//
// Tasks are distributed reasoning requests with priority ordering and an
// explicit lifecycle state machine:
//
//	pending → assigned → running → {completed | failed | timeout | cancelled}
//
// NodeResults are one node's contribution to a task; DistributedResults
// are the aggregated final artifact handed back to the caller, including
// the consensus level over participating nodes.
//
// # Multi-Instance Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name so
// multiple noesis meshes can safely coexist on a single Redis server. Each
// instance has complete isolation of its data and events.
//
// # Usage Example
//
//	client, err := mesh.NewClient(&redis.Options{Addr: "localhost:6379"}, "prod")
//	if err != nil { ... }
//	defer client.Close()
//
//	sub, err := client.SubscribeHeartbeats(ctx)
//	if err != nil { ... }
//	defer sub.Close()
//	for hb := range sub.Events() {
//		// update node liveness
//	}
package mesh

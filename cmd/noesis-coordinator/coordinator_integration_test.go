//go:build integration

package main

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/noesislabs/noesis/internal/coordinator"
	"github.com/noesislabs/noesis/internal/worker"
	"github.com/noesislabs/noesis/pkg/atomspace"
	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/noesislabs/noesis/pkg/reasoning"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisURL := fmt.Sprintf("redis://%s:%s", host, port.Port())

	cleanup := func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}

	return redisURL, cleanup
}

func newMeshClient(t *testing.T, redisURL string) *mesh.Client {
	t.Helper()

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}

	client, err := mesh.NewClient(opts, "test-instance")
	if err != nil {
		t.Fatalf("Failed to create mesh client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

func integrationSettings() coordinator.Settings {
	return coordinator.Settings{
		DefaultTimeoutMs:       5000,
		NodeTimeoutThresholdMs: 15000,
		FaultCheckIntervalMs:   1000,
		RetentionWindowMs:      3600000,
		DefaultMaxNodes:        3,
		BalancerStrategy:       "round-robin",
		AggregationStrategy:    "majority-vote",
		MinConsensusLevel:      0.5,
		SimilarityThreshold:    0.8,
		FaultToleranceLevel:    "basic",
		SuspicionThreshold:     3,
	}
}

func startWorker(t *testing.T, redisURL, nodeName string) {
	t.Helper()

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}
	client, err := mesh.NewClient(opts, "test-instance")
	if err != nil {
		t.Fatalf("Failed to create worker mesh client: %v", err)
	}

	cfg := &worker.Config{
		InstanceName:        "test-instance",
		NodeName:            nodeName,
		RedisURL:            redisURL,
		Endpoint:            "tcp://" + nodeName + ":8080",
		Capabilities:        []reasoning.Capability{reasoning.CapabilityDeductive, reasoning.CapabilityHybrid},
		HeartbeatIntervalMs: 500,
		MaxConcurrent:       2,
	}

	engine := worker.New(cfg, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- engine.Start(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Log("worker did not shut down within timeout")
		}
		client.Close()
	})
}

// TestCoordinator_EndToEndTask covers the full pipeline: a worker registers,
// a task is submitted, the coordinator dispatches it, and the aggregated
// result comes back over the final-result channel.
func TestCoordinator_EndToEndTask(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := newMeshClient(t, redisURL)

	// Start coordinator
	engine, err := coordinator.New(client, integrationSettings())
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	runCtx, stopCoordinator := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(runCtx)
	}()

	// Start one worker and wait for its registration to land
	startWorker(t, redisURL, "deductive-1")

	deadline := time.Now().Add(10 * time.Second)
	for {
		nodes, err := client.ListNodes(ctx)
		if err != nil {
			t.Fatalf("Failed to list nodes: %v", err)
		}
		if len(nodes) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Worker did not register within timeout")
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Health endpoint should be serving while the coordinator runs
	resp, err := http.Get("http://localhost:8080/healthz")
	if err != nil {
		t.Fatalf("Health endpoint not reachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected health status 200, got %d", resp.StatusCode)
	}

	// Subscribe for the final result before submitting
	sub, err := client.SubscribeFinalResults(ctx)
	if err != nil {
		t.Fatalf("Failed to subscribe for final results: %v", err)
	}
	defer sub.Close()
	time.Sleep(200 * time.Millisecond)

	queue := coordinator.NewQueue(client)
	task, err := queue.Submit(ctx, &coordinator.SubmitRequest{
		Query: reasoning.Query{
			Type:    reasoning.CapabilityDeductive,
			Context: "is socrates mortal",
			Atoms: []atomspace.Atom{
				{Type: "ConceptNode", Name: "socrates", Truth: &atomspace.TruthValue{Strength: 1.0, Confidence: 0.95}},
			},
		},
		Priority:             mesh.TaskPriorityHigh,
		RequiredCapabilities: []reasoning.Capability{reasoning.CapabilityDeductive},
	})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}

	// Wait for the aggregated result
	var result *mesh.DistributedResult
	for result == nil {
		select {
		case r := <-sub.Events():
			if r.TaskID == task.ID {
				result = r
			}
		case subErr := <-sub.Errors():
			t.Logf("subscription error: %v", subErr)
		case <-ctx.Done():
			t.Fatal("Timed out waiting for final result")
		}
	}

	if result.NodesUsed != 1 {
		t.Errorf("Expected 1 node used, got %d", result.NodesUsed)
	}
	if result.ConsensusLevel != 1.0 {
		t.Errorf("Expected full consensus from a single node, got %f", result.ConsensusLevel)
	}

	// The task record must be terminal and the result retrievable
	stored, err := client.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("Failed to load task: %v", err)
	}
	if stored.Status != mesh.TaskStatusCompleted {
		t.Errorf("Expected task completed, got %s", stored.Status)
	}

	if _, err := client.GetResult(ctx, task.ID); err != nil {
		t.Errorf("Expected stored result, got error: %v", err)
	}

	// Stop coordinator
	stopCoordinator()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Coordinator returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Coordinator did not shut down within timeout")
	}
}

// TestCoordinator_FailsTaskWithoutNodes verifies a task fails when no
// capable node is registered.
func TestCoordinator_FailsTaskWithoutNodes(t *testing.T) {
	redisURL, cleanup := setupRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	client := newMeshClient(t, redisURL)

	engine, err := coordinator.New(client, integrationSettings())
	if err != nil {
		t.Fatalf("Failed to create coordinator: %v", err)
	}

	runCtx, stopCoordinator := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(runCtx)
	}()
	time.Sleep(500 * time.Millisecond)

	queue := coordinator.NewQueue(client)
	task, err := queue.Submit(ctx, &coordinator.SubmitRequest{
		Query:                reasoning.Query{Type: reasoning.CapabilityAbductive, Context: "explain outage"},
		Priority:             mesh.TaskPriorityMedium,
		RequiredCapabilities: []reasoning.Capability{reasoning.CapabilityAbductive},
	})
	if err != nil {
		t.Fatalf("Failed to submit task: %v", err)
	}

	// Wait for the dispatcher to pick it up and fail it
	deadline := time.Now().Add(10 * time.Second)
	for {
		stored, err := client.GetTask(ctx, task.ID)
		if err != nil {
			t.Fatalf("Failed to load task: %v", err)
		}
		if stored.Status == mesh.TaskStatusFailed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Task did not fail within timeout, status %s", stored.Status)
		}
		time.Sleep(100 * time.Millisecond)
	}

	stopCoordinator()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Coordinator returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Coordinator did not shut down within timeout")
	}
}

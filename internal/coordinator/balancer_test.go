package coordinator

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/noesislabs/noesis/pkg/reasoning"
)

func makeNode(caps []reasoning.Capability, workload float64) *mesh.Node {
	return &mesh.Node{
		ID:           uuid.New().String(),
		Endpoint:     "inproc://worker",
		Capabilities: caps,
		Status:       mesh.NodeStatusOnline,
		Workload:     workload,
		Performance:  mesh.Performance{Reliability: 1.0},
	}
}

func balancerTask() *mesh.Task {
	return &mesh.Task{
		ID:       uuid.New().String(),
		Query:    reasoning.Query{Type: reasoning.CapabilityDeductive},
		Priority: mesh.TaskPriorityMedium,
		Status:   mesh.TaskStatusPending,
	}
}

func TestNewBalancer(t *testing.T) {
	for _, name := range []string{"round-robin", "least-loaded", "performance-based", "capability-optimized", "random"} {
		t.Run(name, func(t *testing.T) {
			b, err := NewBalancer(name)
			require.NoError(t, err)
			assert.Equal(t, name, b.Name())
		})
	}

	t.Run("rejects unknown strategy", func(t *testing.T) {
		_, err := NewBalancer("fastest")
		assert.Error(t, err)
	})
}

func TestSelectNodesConstraints(t *testing.T) {
	b, err := NewBalancer("least-loaded")
	require.NoError(t, err)

	deductive := []reasoning.Capability{reasoning.CapabilityDeductive}
	nodes := []*mesh.Node{
		makeNode(deductive, 0.1),
		makeNode(deductive, 0.2),
		makeNode(deductive, 0.3),
	}

	t.Run("caps selection at maxNodes", func(t *testing.T) {
		task := balancerTask()
		task.Constraints.MaxNodes = 2

		selected, err := SelectNodes(b, task, nodes, 3)
		require.NoError(t, err)
		assert.Len(t, selected, 2)
	})

	t.Run("uses default when unset", func(t *testing.T) {
		selected, err := SelectNodes(b, balancerTask(), nodes, 3)
		require.NoError(t, err)
		assert.Len(t, selected, 3)
	})

	t.Run("explicit zero maxNodes rejects the task", func(t *testing.T) {
		task := balancerTask()
		task.Constraints.MaxNodesSet = true

		_, err := SelectNodes(b, task, nodes, 3)
		require.Error(t, err)
		assert.True(t, mesh.IsKind(err, mesh.ErrNodeUnavailable))
	})

	t.Run("no capable node rejects the task", func(t *testing.T) {
		task := balancerTask()
		task.RequiredCapabilities = []reasoning.Capability{reasoning.CapabilityAbductive}

		_, err := SelectNodes(b, task, nodes, 3)
		require.Error(t, err)
		assert.True(t, mesh.IsKind(err, mesh.ErrNodeUnavailable))
	})

	t.Run("require_all_nodes shortfall rejects the task", func(t *testing.T) {
		task := balancerTask()
		task.Constraints.MaxNodes = 5
		task.Constraints.RequireAllNodes = true

		_, err := SelectNodes(b, task, nodes, 3)
		require.Error(t, err)
		assert.True(t, mesh.IsKind(err, mesh.ErrNodeUnavailable))
	})

	t.Run("excluded nodes never selected", func(t *testing.T) {
		task := balancerTask()
		task.Constraints.ExcludedNodes = []string{nodes[0].ID}

		selected, err := SelectNodes(b, task, nodes, 3)
		require.NoError(t, err)
		for _, n := range selected {
			assert.NotEqual(t, nodes[0].ID, n.ID)
		}
	})

	t.Run("preferred nodes outrank the strategy", func(t *testing.T) {
		task := balancerTask()
		task.Constraints.MaxNodes = 1
		task.Constraints.PreferredNodes = []string{nodes[2].ID}

		selected, err := SelectNodes(b, task, nodes, 3)
		require.NoError(t, err)
		require.Len(t, selected, 1)
		assert.Equal(t, nodes[2].ID, selected[0].ID)
	})
}

func TestLeastLoadedRanking(t *testing.T) {
	b, err := NewBalancer("least-loaded")
	require.NoError(t, err)

	deductive := []reasoning.Capability{reasoning.CapabilityDeductive}
	light := makeNode(deductive, 0.1)
	heavy := makeNode(deductive, 0.9)

	selected, err := SelectNodes(b, balancerTask(), []*mesh.Node{heavy, light}, 1)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, light.ID, selected[0].ID)
}

func TestPerformanceRanking(t *testing.T) {
	b, err := NewBalancer("performance-based")
	require.NoError(t, err)

	deductive := []reasoning.Capability{reasoning.CapabilityDeductive}
	reliable := makeNode(deductive, 0)
	reliable.Performance = mesh.Performance{Reliability: 0.95, AvgResponseTimeMs: 50}
	flaky := makeNode(deductive, 0)
	flaky.Performance = mesh.Performance{Reliability: 0.4, AvgResponseTimeMs: 50}

	selected, err := SelectNodes(b, balancerTask(), []*mesh.Node{flaky, reliable}, 1)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, reliable.ID, selected[0].ID)
}

func TestPerformanceReliabilityDominatesLatency(t *testing.T) {
	b, err := NewBalancer("performance-based")
	require.NoError(t, err)

	deductive := []reasoning.Capability{reasoning.CapabilityDeductive}
	slowSteady := makeNode(deductive, 0)
	slowSteady.Performance = mesh.Performance{Reliability: 1.0, AvgResponseTimeMs: 3000}
	fastFlaky := makeNode(deductive, 0)
	fastFlaky.Performance = mesh.Performance{Reliability: 0.5, AvgResponseTimeMs: 100}

	selected, err := SelectNodes(b, balancerTask(), []*mesh.Node{fastFlaky, slowSteady}, 1)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, slowSteady.ID, selected[0].ID, "reliability outranks latency")

	// Latency only breaks ties between equally reliable nodes.
	fastSteady := makeNode(deductive, 0)
	fastSteady.Performance = mesh.Performance{Reliability: 1.0, AvgResponseTimeMs: 200}

	selected, err = SelectNodes(b, balancerTask(), []*mesh.Node{slowSteady, fastSteady}, 1)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, fastSteady.ID, selected[0].ID)
}

func TestCapabilityOptimizedRanking(t *testing.T) {
	b, err := NewBalancer("capability-optimized")
	require.NoError(t, err)

	specialist := makeNode([]reasoning.Capability{reasoning.CapabilityDeductive}, 0)
	generalist := makeNode([]reasoning.Capability{
		reasoning.CapabilityDeductive,
		reasoning.CapabilityInductive,
		reasoning.CapabilityHybrid,
	}, 0)

	task := balancerTask()
	task.RequiredCapabilities = []reasoning.Capability{reasoning.CapabilityDeductive}

	selected, err := SelectNodes(b, task, []*mesh.Node{generalist, specialist}, 1)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, specialist.ID, selected[0].ID, "specialist wins over generalist")
}

func TestRoundRobinRotates(t *testing.T) {
	b, err := NewBalancer("round-robin")
	require.NoError(t, err)

	deductive := []reasoning.Capability{reasoning.CapabilityDeductive}
	nodes := []*mesh.Node{makeNode(deductive, 0), makeNode(deductive, 0), makeNode(deductive, 0)}

	seen := make(map[string]int)
	for i := 0; i < 6; i++ {
		task := balancerTask()
		task.Constraints.MaxNodes = 1
		selected, err := SelectNodes(b, task, nodes, 3)
		require.NoError(t, err)
		require.Len(t, selected, 1)
		seen[selected[0].ID]++
	}

	// Six single-node selections over three nodes land twice on each.
	for id, count := range seen {
		assert.Equal(t, 2, count, fmt.Sprintf("node %s", id))
	}
}

func TestRandomSelectsEligibleOnly(t *testing.T) {
	b, err := NewBalancer("random")
	require.NoError(t, err)

	deductive := []reasoning.Capability{reasoning.CapabilityDeductive}
	inductive := []reasoning.Capability{reasoning.CapabilityInductive}
	eligible := makeNode(deductive, 0)
	ineligible := makeNode(inductive, 0)

	task := balancerTask()
	task.RequiredCapabilities = []reasoning.Capability{reasoning.CapabilityDeductive}

	for i := 0; i < 20; i++ {
		selected, err := SelectNodes(b, task, []*mesh.Node{eligible, ineligible}, 1)
		require.NoError(t, err)
		require.Len(t, selected, 1)
		assert.Equal(t, eligible.ID, selected[0].ID)
	}
}

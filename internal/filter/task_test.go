package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/noesislabs/noesis/pkg/reasoning"
)

func makeTask(status mesh.TaskStatus, queryType reasoning.Capability, createdAtMs int64) *mesh.Task {
	return &mesh.Task{
		ID:          "11111111-0000-4000-8000-000000000001",
		Query:       reasoning.Query{Type: queryType, Context: "test"},
		Priority:    mesh.TaskPriorityMedium,
		Status:      status,
		CreatedAtMs: createdAtMs,
	}
}

func TestCriteria_Empty(t *testing.T) {
	c := &Criteria{}

	assert.False(t, c.HasFilters())
	assert.True(t, c.Matches(makeTask(mesh.TaskStatusPending, reasoning.CapabilityDeductive, 1000)))
}

func TestCriteria_TimeRange(t *testing.T) {
	c := &Criteria{SinceTimestampMs: 1000, UntilTimestampMs: 2000}

	assert.True(t, c.HasFilters())
	assert.False(t, c.Matches(makeTask(mesh.TaskStatusPending, reasoning.CapabilityDeductive, 500)))
	assert.True(t, c.Matches(makeTask(mesh.TaskStatusPending, reasoning.CapabilityDeductive, 1500)))
	assert.False(t, c.Matches(makeTask(mesh.TaskStatusPending, reasoning.CapabilityDeductive, 2500)))
}

func TestCriteria_Status(t *testing.T) {
	c := &Criteria{Status: "completed"}

	assert.True(t, c.Matches(makeTask(mesh.TaskStatusCompleted, reasoning.CapabilityDeductive, 1000)))
	assert.False(t, c.Matches(makeTask(mesh.TaskStatusPending, reasoning.CapabilityDeductive, 1000)))
}

func TestCriteria_QueryTypeGlob(t *testing.T) {
	c := &Criteria{QueryTypeGlob: "*ductive"}

	assert.True(t, c.Matches(makeTask(mesh.TaskStatusPending, reasoning.CapabilityDeductive, 1000)))
	assert.True(t, c.Matches(makeTask(mesh.TaskStatusPending, reasoning.CapabilityInductive, 1000)))
	assert.False(t, c.Matches(makeTask(mesh.TaskStatusPending, reasoning.CapabilityHybrid, 1000)))
}

func TestCriteria_Apply(t *testing.T) {
	tasks := []*mesh.Task{
		makeTask(mesh.TaskStatusCompleted, reasoning.CapabilityDeductive, 1000),
		makeTask(mesh.TaskStatusPending, reasoning.CapabilityDeductive, 2000),
		makeTask(mesh.TaskStatusCompleted, reasoning.CapabilityHybrid, 3000),
	}

	c := &Criteria{Status: "completed"}
	filtered := c.Apply(tasks)
	assert.Len(t, filtered, 2)

	// No filters returns the input unchanged
	assert.Len(t, (&Criteria{}).Apply(tasks), 3)
}

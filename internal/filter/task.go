// Package filter narrows task listings for CLI consumers.
package filter

import (
	"path/filepath"

	"github.com/noesislabs/noesis/pkg/mesh"
)

// Criteria defines filtering criteria for tasks.
// All filters are ANDed together - a task must match ALL criteria to pass.
type Criteria struct {
	SinceTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	UntilTimestampMs int64  // Unix timestamp in milliseconds, 0 = no filter
	Status           string // Exact match for task status, empty = no filter
	QueryTypeGlob    string // Glob pattern for query type, empty = no filter
}

// Matches returns true if the task matches all filter criteria.
// Empty/zero criteria values are treated as "match all" for that criterion.
func (c *Criteria) Matches(task *mesh.Task) bool {
	if c.SinceTimestampMs > 0 && task.CreatedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && task.CreatedAtMs > c.UntilTimestampMs {
		return false
	}

	if c.Status != "" && string(task.Status) != c.Status {
		return false
	}

	if c.QueryTypeGlob != "" {
		matched, err := filepath.Match(c.QueryTypeGlob, string(task.Query.Type))
		if err != nil || !matched {
			return false
		}
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c.SinceTimestampMs > 0 ||
		c.UntilTimestampMs > 0 ||
		c.Status != "" ||
		c.QueryTypeGlob != ""
}

// Apply returns the subset of tasks matching the criteria, preserving order.
func (c *Criteria) Apply(tasks []*mesh.Task) []*mesh.Task {
	if !c.HasFilters() {
		return tasks
	}

	matched := make([]*mesh.Task, 0, len(tasks))
	for _, task := range tasks {
		if c.Matches(task) {
			matched = append(matched, task)
		}
	}
	return matched
}

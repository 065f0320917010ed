package coordinator

import (
	"context"
	"log"
)

// Redistributor reassigns in-flight tasks when their nodes are lost. The
// coordinator implements it; the indirection keeps the fault manager
// testable on its own.
type Redistributor interface {
	RedistributeTasks(ctx context.Context, lostNodes []string, settings Settings) error
}

// FaultManager detects dead nodes and hands their in-flight work back to
// the queue. It owns no goroutines; the coordinator drives Sweep on its
// fault check interval.
type FaultManager struct {
	registry      *Registry
	queue         *Queue
	redistributor Redistributor
}

// NewFaultManager creates a fault manager.
func NewFaultManager(registry *Registry, queue *Queue, redistributor Redistributor) *FaultManager {
	return &FaultManager{
		registry:      registry,
		queue:         queue,
		redistributor: redistributor,
	}
}

// Sweep performs one failure detection pass: nodes silent past the
// liveness window are marked offline and their assigned tasks requeued,
// subject to the configured fault tolerance level.
func (f *FaultManager) Sweep(ctx context.Context, settings Settings) error {
	newlyOffline, err := f.registry.CleanupInactiveNodes(ctx)
	if err != nil {
		return err
	}
	if len(newlyOffline) == 0 {
		return nil
	}

	log.Printf("[FaultManager] Detected %d failed nodes: %v", len(newlyOffline), newlyOffline)
	return f.redistributor.RedistributeTasks(ctx, newlyOffline, settings)
}

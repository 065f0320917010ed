package docker

import (
	"fmt"

	"github.com/google/uuid"
)

// Label keys used for Noesis resources
const (
	LabelProject       = "noesis.project"
	LabelInstanceName  = "noesis.instance.name"
	LabelInstanceRunID = "noesis.instance.run_id"
	LabelComponent     = "noesis.component"
	LabelRedisPort     = "noesis.redis.port"
	LabelWorkerName    = "noesis.worker.name"
)

// BuildLabels creates the standard label set for all Noesis resources.
// All parameters are required except component (which is resource-specific).
func BuildLabels(instanceName, runID, component string) map[string]string {
	labels := map[string]string{
		LabelProject:       "true",
		LabelInstanceName:  instanceName,
		LabelInstanceRunID: runID,
	}

	if component != "" {
		labels[LabelComponent] = component
	}

	return labels
}

// GenerateRunID creates a new UUID for an instance run.
// Each invocation of `noesis up` gets a unique run ID.
func GenerateRunID() string {
	return uuid.New().String()
}

// Resource naming conventions for Noesis components

// NetworkName returns the Docker network name for an instance
func NetworkName(instanceName string) string {
	return fmt.Sprintf("noesis-network-%s", instanceName)
}

// RedisContainerName returns the Redis container name for an instance
func RedisContainerName(instanceName string) string {
	return fmt.Sprintf("noesis-redis-%s", instanceName)
}

// CoordinatorContainerName returns the coordinator container name for an instance
func CoordinatorContainerName(instanceName string) string {
	return fmt.Sprintf("noesis-coordinator-%s", instanceName)
}

// WorkerContainerName returns the container name for one replica of a worker pool
func WorkerContainerName(instanceName, workerName string, replica int) string {
	return fmt.Sprintf("noesis-worker-%s-%s-%d", instanceName, workerName, replica)
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CoordinatorConfig specifies coordination behavior: timeouts, liveness
// windows, and the default distribution and aggregation strategies.
type CoordinatorConfig struct {
	DefaultTimeoutMs       *int64   `yaml:"default_timeout_ms,omitempty"`        // Per-task deadline when the task sets none (default 30000)
	NodeTimeoutThresholdMs *int64   `yaml:"node_timeout_threshold_ms,omitempty"` // Heartbeat silence before a node is marked offline (default 15000)
	HeartbeatIntervalMs    *int64   `yaml:"heartbeat_interval_ms,omitempty"`     // Worker heartbeat period (default 5000)
	FaultCheckIntervalMs   *int64   `yaml:"fault_check_interval_ms,omitempty"`   // Failure detector sweep period (default 5000)
	RetentionWindowMs      *int64   `yaml:"retention_window_ms,omitempty"`       // How long terminal tasks are kept (default 3600000)
	DefaultMaxNodes        *int     `yaml:"default_max_nodes,omitempty"`         // Nodes per task when the task sets none (default 3)
	BalancerStrategy       string   `yaml:"balancer_strategy,omitempty"`         // Default node selection strategy (default round-robin)
	AggregationStrategy    string   `yaml:"aggregation_strategy,omitempty"`      // Default result aggregation strategy (default majority-vote)
	MinConsensusLevel      *float64 `yaml:"min_consensus_level,omitempty"`       // Threshold for consensus-based aggregation (default 0.5)
	SimilarityThreshold    *float64 `yaml:"similarity_threshold,omitempty"`      // Conclusion grouping similarity cutoff (default 0.8)
	FaultToleranceLevel    string   `yaml:"fault_tolerance_level,omitempty"`     // none, basic, or byzantine (default basic)
	SuspicionThreshold     *int     `yaml:"suspicion_threshold,omitempty"`       // Outlier screenings before a node is quarantined (default 3)
}

// MeshConfig represents the top-level noesis.yml configuration
type MeshConfig struct {
	Version     string             `yaml:"version"`
	Coordinator *CoordinatorConfig `yaml:"coordinator,omitempty"`
	Workers     map[string]Worker  `yaml:"workers"`
	Services    *ServicesConfig    `yaml:"services,omitempty"`
}

// Worker represents a single worker pool configuration
type Worker struct {
	Image        string           `yaml:"image"` // Required: Docker image name for this worker
	Capabilities []string         `yaml:"capabilities"`
	Replicas     *int             `yaml:"replicas,omitempty"`
	Environment  []string         `yaml:"environment,omitempty"`
	Resources    *ResourcesConfig `yaml:"resources,omitempty"`
}

// ResourcesConfig specifies resource limits and reservations
type ResourcesConfig struct {
	Limits       *ResourceLimits `yaml:"limits,omitempty"`
	Reservations *ResourceLimits `yaml:"reservations,omitempty"`
}

// ResourceLimits specifies CPU and memory limits
type ResourceLimits struct {
	CPUs   string `yaml:"cpus,omitempty"`
	Memory string `yaml:"memory,omitempty"`
}

// ServicesConfig specifies service-level overrides
type ServicesConfig struct {
	Coordinator *ServiceOverride `yaml:"coordinator,omitempty"`
	Redis       *ServiceOverride `yaml:"redis,omitempty"`
}

// ServiceOverride allows overriding default service images
type ServiceOverride struct {
	Image     string           `yaml:"image,omitempty"`
	Resources *ResourcesConfig `yaml:"resources,omitempty"`
}

func int64Ptr(v int64) *int64       { return &v }
func intPtr(v int) *int             { return &v }
func float64Ptr(v float64) *float64 { return &v }

// Validate performs strict validation on the configuration and applies
// defaults in place.
func (c *MeshConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	// Required: at least one worker pool
	if len(c.Workers) == 0 {
		return fmt.Errorf("no workers defined")
	}

	// Validate each worker pool
	for name, worker := range c.Workers {
		if err := worker.Validate(name); err != nil {
			return err
		}
	}

	// Apply default coordinator config if missing
	if c.Coordinator == nil {
		c.Coordinator = &CoordinatorConfig{}
	}
	if err := c.Coordinator.applyDefaultsAndValidate(); err != nil {
		return err
	}

	return nil
}

// DefaultCoordinator returns a coordinator section with every default applied.
// Used when the coordinator runs without a mounted noesis.yml.
func DefaultCoordinator() *CoordinatorConfig {
	cc := &CoordinatorConfig{}
	// an empty section only takes the default branches, which cannot fail
	_ = cc.applyDefaultsAndValidate()
	return cc
}

func (cc *CoordinatorConfig) applyDefaultsAndValidate() error {
	if cc.DefaultTimeoutMs == nil {
		cc.DefaultTimeoutMs = int64Ptr(30000)
	}
	if cc.NodeTimeoutThresholdMs == nil {
		cc.NodeTimeoutThresholdMs = int64Ptr(15000)
	}
	if cc.HeartbeatIntervalMs == nil {
		cc.HeartbeatIntervalMs = int64Ptr(5000)
	}
	if cc.FaultCheckIntervalMs == nil {
		cc.FaultCheckIntervalMs = int64Ptr(5000)
	}
	if cc.RetentionWindowMs == nil {
		cc.RetentionWindowMs = int64Ptr(3600000)
	}
	if cc.DefaultMaxNodes == nil {
		cc.DefaultMaxNodes = intPtr(3)
	}
	if cc.BalancerStrategy == "" {
		cc.BalancerStrategy = "round-robin"
	}
	if cc.AggregationStrategy == "" {
		cc.AggregationStrategy = "majority-vote"
	}
	if cc.MinConsensusLevel == nil {
		cc.MinConsensusLevel = float64Ptr(0.5)
	}
	if cc.SimilarityThreshold == nil {
		cc.SimilarityThreshold = float64Ptr(0.8)
	}
	if cc.FaultToleranceLevel == "" {
		cc.FaultToleranceLevel = "basic"
	}
	if cc.SuspicionThreshold == nil {
		cc.SuspicionThreshold = intPtr(3)
	}

	if *cc.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("coordinator.default_timeout_ms must be > 0, got %d", *cc.DefaultTimeoutMs)
	}
	if *cc.NodeTimeoutThresholdMs <= 0 {
		return fmt.Errorf("coordinator.node_timeout_threshold_ms must be > 0, got %d", *cc.NodeTimeoutThresholdMs)
	}
	if *cc.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("coordinator.heartbeat_interval_ms must be > 0, got %d", *cc.HeartbeatIntervalMs)
	}
	if *cc.HeartbeatIntervalMs >= *cc.NodeTimeoutThresholdMs {
		return fmt.Errorf("coordinator.heartbeat_interval_ms (%d) must be below node_timeout_threshold_ms (%d)",
			*cc.HeartbeatIntervalMs, *cc.NodeTimeoutThresholdMs)
	}
	if *cc.FaultCheckIntervalMs <= 0 {
		return fmt.Errorf("coordinator.fault_check_interval_ms must be > 0, got %d", *cc.FaultCheckIntervalMs)
	}
	if *cc.RetentionWindowMs <= 0 {
		return fmt.Errorf("coordinator.retention_window_ms must be > 0, got %d", *cc.RetentionWindowMs)
	}
	if *cc.DefaultMaxNodes < 1 {
		return fmt.Errorf("coordinator.default_max_nodes must be >= 1, got %d", *cc.DefaultMaxNodes)
	}

	switch cc.BalancerStrategy {
	case "round-robin", "least-loaded", "performance-based", "capability-optimized", "random":
	default:
		return fmt.Errorf("invalid balancer_strategy: %s (must be 'round-robin', 'least-loaded', 'performance-based', 'capability-optimized', or 'random')", cc.BalancerStrategy)
	}

	switch cc.AggregationStrategy {
	case "majority-vote", "weighted-average", "confidence-weighted", "performance-weighted", "consensus-based", "best-result":
	default:
		return fmt.Errorf("invalid aggregation_strategy: %s (must be 'majority-vote', 'weighted-average', 'confidence-weighted', 'performance-weighted', 'consensus-based', or 'best-result')", cc.AggregationStrategy)
	}

	if *cc.MinConsensusLevel < 0 || *cc.MinConsensusLevel > 1 {
		return fmt.Errorf("coordinator.min_consensus_level must be in [0,1], got %v", *cc.MinConsensusLevel)
	}
	if *cc.SimilarityThreshold < 0 || *cc.SimilarityThreshold > 1 {
		return fmt.Errorf("coordinator.similarity_threshold must be in [0,1], got %v", *cc.SimilarityThreshold)
	}

	switch cc.FaultToleranceLevel {
	case "none", "basic", "byzantine":
	default:
		return fmt.Errorf("invalid fault_tolerance_level: %s (must be 'none', 'basic', or 'byzantine')", cc.FaultToleranceLevel)
	}

	if *cc.SuspicionThreshold < 1 {
		return fmt.Errorf("coordinator.suspicion_threshold must be >= 1, got %d", *cc.SuspicionThreshold)
	}

	return nil
}

// Validate performs validation on a single worker pool configuration
func (w *Worker) Validate(name string) error {
	// Required: image
	if w.Image == "" {
		return fmt.Errorf("worker '%s': image is required", name)
	}

	// Required: at least one capability
	if len(w.Capabilities) == 0 {
		return fmt.Errorf("worker '%s': capabilities are required", name)
	}
	for _, cap := range w.Capabilities {
		switch cap {
		case "deductive", "inductive", "abductive", "pattern-matching", "domain-analysis", "hybrid":
		default:
			return fmt.Errorf("worker '%s': invalid capability: %s (must be 'deductive', 'inductive', 'abductive', 'pattern-matching', 'domain-analysis', or 'hybrid')", name, cap)
		}
	}

	// Validate replicas if specified
	if w.Replicas != nil && *w.Replicas < 1 {
		return fmt.Errorf("worker '%s': replicas must be >= 1, got %d", name, *w.Replicas)
	}

	return nil
}

// ReplicaCount returns the configured replica count, defaulting to 1.
func (w Worker) ReplicaCount() int {
	if w.Replicas == nil {
		return 1
	}
	return *w.Replicas
}

// Load reads and validates noesis.yml from the specified path
func Load(path string) (*MeshConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config MeshConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

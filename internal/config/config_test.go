package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes yaml content to a temp noesis.yml and returns its path
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "noesis.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const minimalConfig = `
version: "1.0"
workers:
  deductive-pool:
    image: noesis-worker:latest
    capabilities: [deductive]
`

func TestLoadMinimalConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "1.0", cfg.Version)
	require.Len(t, cfg.Workers, 1)
	assert.Equal(t, "noesis-worker:latest", cfg.Workers["deductive-pool"].Image)
}

func TestLoadAppliesCoordinatorDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	cc := cfg.Coordinator
	require.NotNil(t, cc)
	assert.Equal(t, int64(30000), *cc.DefaultTimeoutMs)
	assert.Equal(t, int64(15000), *cc.NodeTimeoutThresholdMs)
	assert.Equal(t, int64(5000), *cc.HeartbeatIntervalMs)
	assert.Equal(t, int64(5000), *cc.FaultCheckIntervalMs)
	assert.Equal(t, int64(3600000), *cc.RetentionWindowMs)
	assert.Equal(t, 3, *cc.DefaultMaxNodes)
	assert.Equal(t, "round-robin", cc.BalancerStrategy)
	assert.Equal(t, "majority-vote", cc.AggregationStrategy)
	assert.Equal(t, 0.5, *cc.MinConsensusLevel)
	assert.Equal(t, 0.8, *cc.SimilarityThreshold)
	assert.Equal(t, "basic", cc.FaultToleranceLevel)
	assert.Equal(t, 3, *cc.SuspicionThreshold)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
version: "1.0"
coordinator:
  default_timeout_ms: 60000
  node_timeout_threshold_ms: 20000
  heartbeat_interval_ms: 4000
  default_max_nodes: 5
  balancer_strategy: "least-loaded"
  aggregation_strategy: "consensus-based"
  min_consensus_level: 0.66
  fault_tolerance_level: "byzantine"
  suspicion_threshold: 2
workers:
  general:
    image: noesis-worker:latest
    capabilities: [deductive, inductive, hybrid]
    replicas: 3
    environment:
      - NOESIS_LOG_LEVEL=debug
  analyst:
    image: noesis-worker:latest
    capabilities: [domain-analysis]
services:
  redis:
    image: redis:7-alpine
`))
	require.NoError(t, err)

	assert.Equal(t, int64(60000), *cfg.Coordinator.DefaultTimeoutMs)
	assert.Equal(t, "least-loaded", cfg.Coordinator.BalancerStrategy)
	assert.Equal(t, "consensus-based", cfg.Coordinator.AggregationStrategy)
	assert.Equal(t, 0.66, *cfg.Coordinator.MinConsensusLevel)
	assert.Equal(t, "byzantine", cfg.Coordinator.FaultToleranceLevel)

	assert.Equal(t, 3, cfg.Workers["general"].ReplicaCount())
	assert.Equal(t, 1, cfg.Workers["analyst"].ReplicaCount())
	assert.Equal(t, "redis:7-alpine", cfg.Services.Redis.Image)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing version",
			yaml:    "workers:\n  w:\n    image: img\n    capabilities: [deductive]\n",
			wantErr: "unsupported version",
		},
		{
			name:    "wrong version",
			yaml:    "version: \"2.0\"\nworkers:\n  w:\n    image: img\n    capabilities: [deductive]\n",
			wantErr: "unsupported version",
		},
		{
			name:    "no workers",
			yaml:    "version: \"1.0\"\n",
			wantErr: "no workers defined",
		},
		{
			name:    "worker missing image",
			yaml:    "version: \"1.0\"\nworkers:\n  w:\n    capabilities: [deductive]\n",
			wantErr: "image is required",
		},
		{
			name:    "worker missing capabilities",
			yaml:    "version: \"1.0\"\nworkers:\n  w:\n    image: img\n",
			wantErr: "capabilities are required",
		},
		{
			name:    "worker unknown capability",
			yaml:    "version: \"1.0\"\nworkers:\n  w:\n    image: img\n    capabilities: [clairvoyance]\n",
			wantErr: "invalid capability",
		},
		{
			name:    "worker zero replicas",
			yaml:    "version: \"1.0\"\nworkers:\n  w:\n    image: img\n    capabilities: [deductive]\n    replicas: 0\n",
			wantErr: "replicas must be >= 1",
		},
		{
			name:    "unknown balancer strategy",
			yaml:    minimalConfig + "coordinator:\n  balancer_strategy: fastest\n",
			wantErr: "invalid balancer_strategy",
		},
		{
			name:    "unknown aggregation strategy",
			yaml:    minimalConfig + "coordinator:\n  aggregation_strategy: averages\n",
			wantErr: "invalid aggregation_strategy",
		},
		{
			name:    "unknown fault tolerance level",
			yaml:    minimalConfig + "coordinator:\n  fault_tolerance_level: paranoid\n",
			wantErr: "invalid fault_tolerance_level",
		},
		{
			name:    "consensus level out of range",
			yaml:    minimalConfig + "coordinator:\n  min_consensus_level: 1.5\n",
			wantErr: "min_consensus_level must be in [0,1]",
		},
		{
			name:    "similarity threshold out of range",
			yaml:    minimalConfig + "coordinator:\n  similarity_threshold: -0.1\n",
			wantErr: "similarity_threshold must be in [0,1]",
		},
		{
			name:    "heartbeat not below node timeout",
			yaml:    minimalConfig + "coordinator:\n  heartbeat_interval_ms: 20000\n  node_timeout_threshold_ms: 15000\n",
			wantErr: "must be below node_timeout_threshold_ms",
		},
		{
			name:    "negative timeout",
			yaml:    minimalConfig + "coordinator:\n  default_timeout_ms: -1\n",
			wantErr: "default_timeout_ms must be > 0",
		},
		{
			name:    "suspicion threshold below one",
			yaml:    minimalConfig + "coordinator:\n  suspicion_threshold: 0\n",
			wantErr: "suspicion_threshold must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoadMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "version: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestDefaultCoordinator(t *testing.T) {
	cc := DefaultCoordinator()

	assert.Equal(t, int64(30000), *cc.DefaultTimeoutMs)
	assert.Equal(t, int64(15000), *cc.NodeTimeoutThresholdMs)
	assert.Equal(t, 3, *cc.DefaultMaxNodes)
	assert.Equal(t, "round-robin", cc.BalancerStrategy)
	assert.Equal(t, "majority-vote", cc.AggregationStrategy)
	assert.Equal(t, "basic", cc.FaultToleranceLevel)
}

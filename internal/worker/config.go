package worker

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/noesislabs/noesis/pkg/reasoning"
)

// Config holds the worker's runtime configuration loaded from environment
// variables. All fields are required unless noted and validated at startup
// to ensure fail-fast behavior.
type Config struct {
	// InstanceName is the noesis instance identifier (from NOESIS_INSTANCE_NAME)
	InstanceName string

	// NodeName is the logical name of this worker (from NOESIS_NODE_NAME)
	NodeName string

	// RedisURL is the Redis connection string (from REDIS_URL)
	RedisURL string

	// Endpoint is the address this worker advertises (from NOESIS_ENDPOINT)
	Endpoint string

	// Capabilities are the reasoning capabilities this worker advertises
	// (from NOESIS_CAPABILITIES, comma-separated)
	Capabilities []reasoning.Capability

	// HeartbeatIntervalMs is the heartbeat period (from
	// NOESIS_HEARTBEAT_INTERVAL_MS, optional, default 5000)
	HeartbeatIntervalMs int64

	// MaxConcurrent bounds parallel task execution (from
	// NOESIS_MAX_CONCURRENT, optional, default 4)
	MaxConcurrent int

	// SeedFile is an optional path to a yaml file of atoms loaded into
	// the knowledge store at startup (from NOESIS_SEED_FILE)
	SeedFile string
}

// LoadConfig reads and validates configuration from environment variables.
// Returns an error if any required variable is missing or invalid.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		InstanceName:        os.Getenv("NOESIS_INSTANCE_NAME"),
		NodeName:            os.Getenv("NOESIS_NODE_NAME"),
		RedisURL:            os.Getenv("REDIS_URL"),
		Endpoint:            os.Getenv("NOESIS_ENDPOINT"),
		SeedFile:            os.Getenv("NOESIS_SEED_FILE"),
		HeartbeatIntervalMs: 5000,
		MaxConcurrent:       4,
	}

	if raw := os.Getenv("NOESIS_CAPABILITIES"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			cfg.Capabilities = append(cfg.Capabilities, reasoning.Capability(strings.TrimSpace(part)))
		}
	}

	if raw := os.Getenv("NOESIS_HEARTBEAT_INTERVAL_MS"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse NOESIS_HEARTBEAT_INTERVAL_MS: %w", err)
		}
		cfg.HeartbeatIntervalMs = v
	}

	if raw := os.Getenv("NOESIS_MAX_CONCURRENT"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse NOESIS_MAX_CONCURRENT: %w", err)
		}
		cfg.MaxConcurrent = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are present and
// valid. Returns the first validation error encountered.
func (c *Config) Validate() error {
	if c.InstanceName == "" {
		return fmt.Errorf("NOESIS_INSTANCE_NAME environment variable is required")
	}

	if c.NodeName == "" {
		return fmt.Errorf("NOESIS_NODE_NAME environment variable is required")
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL environment variable is required")
	}

	if c.Endpoint == "" {
		return fmt.Errorf("NOESIS_ENDPOINT environment variable is required")
	}

	if len(c.Capabilities) == 0 {
		return fmt.Errorf("NOESIS_CAPABILITIES environment variable is required (comma-separated list)")
	}
	for _, cap := range c.Capabilities {
		if err := cap.Validate(); err != nil {
			return fmt.Errorf("NOESIS_CAPABILITIES: %w", err)
		}
	}

	if c.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("NOESIS_HEARTBEAT_INTERVAL_MS must be > 0")
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("NOESIS_MAX_CONCURRENT must be >= 1")
	}

	return nil
}

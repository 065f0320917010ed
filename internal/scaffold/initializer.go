package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/noesislabs/noesis/internal/config"
)

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

const noesisYmlTemplate = `version: "1.0"

coordinator:
  # How long a task may run before partial results are aggregated (ms)
  default_timeout_ms: 30000
  # Strategy for picking nodes: round-robin, least-loaded,
  # performance-based, capability-optimized, random
  balancer_strategy: round-robin
  # Strategy for combining node answers: majority-vote, weighted-average,
  # confidence-weighted, performance-weighted, consensus-based, best-result
  aggregation_strategy: majority-vote
  # Fault tolerance level: none, basic, byzantine
  fault_tolerance_level: basic

workers:
  example-worker:
    image: example-worker:latest
    capabilities:
      - deductive
      - hybrid
    replicas: 2
`

const workerDockerfileTemplate = `# Build stage
FROM golang:1.23-alpine AS build
WORKDIR /src
COPY . .
RUN go build -o /noesis-worker ./cmd/noesis-worker

# Runtime stage
FROM alpine:3.20
COPY --from=build /noesis-worker /usr/local/bin/noesis-worker
ENTRYPOINT ["noesis-worker"]
`

const workerReadmeTemplate = `# example-worker

A reasoning worker pool. Each replica registers itself with the mesh,
advertises the capabilities listed in noesis.yml, and executes dispatched
queries with the built-in reasoning engines.

The worker binary is configured entirely through environment variables,
which 'noesis up' injects for you:

  NOESIS_INSTANCE_NAME   mesh instance this worker belongs to
  NOESIS_NODE_NAME       human-readable node name
  REDIS_URL              redis connection string
  NOESIS_ENDPOINT        advertised endpoint for this node
  NOESIS_CAPABILITIES    comma-separated capability list
  NOESIS_SEED_FILE       optional yaml file of atoms to preload (set it
                         via the pool's environment section)

Customize this directory to build your own worker image, then point
noesis.yml at it.
`

// Initialize creates the Noesis project structure.
// If force is true, it will remove existing noesis.yml and workers/ directory.
func Initialize(force bool) error {
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	files := templateFiles()

	if err := createDirectories(); err != nil {
		return err
	}

	if err := writeFiles(files); err != nil {
		return err
	}

	return validateCreatedFiles()
}

// handleForce removes existing files if --force was specified
func handleForce() error {
	if _, err := os.Stat("noesis.yml"); err == nil {
		fmt.Println("⚠️  Removing existing noesis.yml...")
		if err := os.Remove("noesis.yml"); err != nil {
			return fmt.Errorf("failed to remove noesis.yml: %w", err)
		}
	}

	if info, err := os.Stat("workers"); err == nil && info.IsDir() {
		fmt.Println("⚠️  Removing existing workers/ directory...")
		if err := os.RemoveAll("workers"); err != nil {
			return fmt.Errorf("failed to remove workers/ directory: %w", err)
		}
	}

	return nil
}

func templateFiles() []FileInfo {
	return []FileInfo{
		{
			Path:        "noesis.yml",
			Content:     []byte(noesisYmlTemplate),
			Permissions: 0644,
		},
		{
			Path:        filepath.Join("workers", "example-worker", "Dockerfile"),
			Content:     []byte(workerDockerfileTemplate),
			Permissions: 0644,
		},
		{
			Path:        filepath.Join("workers", "example-worker", "README.md"),
			Content:     []byte(workerReadmeTemplate),
			Permissions: 0644,
		},
	}
}

// createDirectories creates the necessary directory structure
func createDirectories() error {
	dirs := []string{
		"workers",
		filepath.Join("workers", "example-worker"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// writeFiles writes all template files to disk
func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	return nil
}

// validateCreatedFiles runs the generated noesis.yml through the real
// config loader so init can never produce a file that up rejects.
func validateCreatedFiles() error {
	if _, err := config.Load("noesis.yml"); err != nil {
		return fmt.Errorf("created noesis.yml failed validation: %w", err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	fmt.Println("\n✅ Successfully initialized Noesis project!")
	fmt.Println("\nCreated:")
	fmt.Println("  ✓ noesis.yml")
	fmt.Println("  ✓ workers/example-worker/Dockerfile")
	fmt.Println("  ✓ workers/example-worker/README.md")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Customize noesis.yml to define your worker pools")
	fmt.Println("  2. Build your worker images")
	fmt.Println("  3. Run 'noesis up' to start the mesh")
}

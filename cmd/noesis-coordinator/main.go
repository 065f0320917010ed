package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/noesislabs/noesis/internal/config"
	"github.com/noesislabs/noesis/internal/coordinator"
	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Load environment variables
	instanceName := os.Getenv("NOESIS_INSTANCE_NAME")
	redisURL := os.Getenv("REDIS_URL")

	if instanceName == "" || redisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: NOESIS_INSTANCE_NAME and REDIS_URL must be set\n")
		os.Exit(1)
	}

	// 2. Parse Redis URL
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	// 3. Create mesh client
	meshClient, err := mesh.NewClient(redisOpts, instanceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create mesh client: %v\n", err)
		os.Exit(1)
	}
	defer meshClient.Close()

	// 4. Verify Redis connectivity
	ctx := context.Background()
	if err := meshClient.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 5. Load coordinator settings from noesis.yml if mounted
	configPath := os.Getenv("NOESIS_CONFIG")
	if configPath == "" {
		configPath = "/etc/noesis/noesis.yml"
	}

	coordCfg := config.DefaultCoordinator()
	cfg, err := config.Load(configPath)
	switch {
	case err == nil:
		coordCfg = cfg.Coordinator
	case errors.Is(err, fs.ErrNotExist):
		fmt.Printf("No config at %s, using default coordinator settings\n", configPath)
	default:
		fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", configPath, err)
		os.Exit(1)
	}

	fmt.Printf("Coordinator starting for instance '%s'\n", instanceName)

	// 6. Create coordinator engine
	engine, err := coordinator.New(meshClient, coordinator.SettingsFromConfig(coordCfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create coordinator: %v\n", err)
		os.Exit(1)
	}

	// 7. Setup graceful shutdown
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// 8. Start coordinator in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- engine.Run(runCtx)
	}()

	// 9. Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Coordinator error: %v\n", runErr)
			os.Exit(1)
		}
	}

	fmt.Println("Coordinator stopped")
}

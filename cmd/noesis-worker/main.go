package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noesislabs/noesis/internal/worker"
	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/redis/go-redis/v9"
)

func main() {
	os.Exit(run())
}

// run contains the main logic and returns an exit code.
// This separation makes the logic testable and ensures deferred functions run.
func run() int {
	// Load configuration from environment variables
	config, err := worker.LoadConfig()
	if err != nil {
		log.Printf("[ERROR] Configuration error: %v", err)
		return 1
	}

	log.Printf("[INFO] Reasoning worker starting for node='%s' instance='%s'", config.NodeName, config.InstanceName)

	ctx := context.Background()

	// Parse Redis URL
	redisOpts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		log.Printf("[ERROR] Invalid REDIS_URL: %v", err)
		return 1
	}

	// Create mesh client
	meshClient, err := mesh.NewClient(redisOpts, config.InstanceName)
	if err != nil {
		log.Printf("[ERROR] Failed to create mesh client: %v", err)
		return 1
	}
	defer func() {
		log.Printf("[DEBUG] Closing mesh client...")
		if err := meshClient.Close(); err != nil {
			log.Printf("[ERROR] Error closing mesh client: %v", err)
		}
	}()

	// Verify Redis connection
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := meshClient.Ping(pingCtx); err != nil {
		cancel()
		log.Printf("[ERROR] Failed to connect to Redis: %v", err)
		return 1
	}
	cancel()
	log.Printf("[INFO] Connected to Redis")

	// Create engine
	engine := worker.New(config, meshClient)

	// Set up context for graceful shutdown
	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	// Set up signal handling for SIGINT and SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start engine in background goroutine
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Start(engineCtx)
	}()

	// Wait for shutdown signal or engine error
	select {
	case sig := <-sigChan:
		log.Printf("[INFO] Received signal: %v", sig)
	case err := <-engineDone:
		if err != nil {
			log.Printf("[ERROR] Engine error: %v", err)
			return 1
		}
		log.Printf("[INFO] Engine exited")
		return 0
	}

	// Graceful shutdown sequence
	log.Printf("[INFO] Initiating graceful shutdown...")
	engineCancel()

	engineShutdownTimer := time.NewTimer(10 * time.Second)
	defer engineShutdownTimer.Stop()

	select {
	case err := <-engineDone:
		if err != nil {
			log.Printf("[ERROR] Engine shutdown error: %v", err)
			return 1
		}
		log.Printf("[INFO] Engine shutdown complete")

	case <-engineShutdownTimer.C:
		log.Printf("[ERROR] Engine shutdown timeout - forcing exit")
		return 1
	}

	log.Printf("[INFO] Worker shutdown complete")
	return 0
}

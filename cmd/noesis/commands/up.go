package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/spf13/cobra"

	"github.com/noesislabs/noesis/internal/config"
	dockerpkg "github.com/noesislabs/noesis/internal/docker"
	"github.com/noesislabs/noesis/internal/instance"
	"github.com/noesislabs/noesis/internal/printer"
)

const defaultCoordinatorImage = "noesis-coordinator:latest"

var (
	upInstanceName string
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a Noesis instance",
	Long: `Start a Noesis instance from noesis.yml in the current directory.

This creates:
  • An isolated Docker network
  • A Redis container (state and messaging)
  • A coordinator container
  • Worker containers for each pool defined in noesis.yml

Container images must be built beforehand; the coordinator image defaults
to '` + defaultCoordinatorImage + `' and can be overridden under services.coordinator.image.

Examples:
  # Start with an auto-generated name (mesh-1, mesh-2, ...)
  noesis up

  # Start a named instance
  noesis up --name prod`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().StringVarP(&upInstanceName, "name", "n", "", "Instance name (auto-generated if omitted)")
	rootCmd.AddCommand(upCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Phase 1: Load and validate noesis.yml
	cfg, err := config.Load("noesis.yml")
	if err != nil {
		return printer.Error(
			"failed to load noesis.yml",
			fmt.Sprintf("Error: %v", err),
			[]string{"Create a noesis.yml in the current directory describing your worker pools"},
		)
	}

	// Phase 2: Docker client
	cli, err := dockerpkg.Connect(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	// Phase 3: Instance name resolution
	targetInstanceName := upInstanceName
	if targetInstanceName == "" {
		targetInstanceName, err = instance.GenerateDefaultName(ctx, cli)
		if err != nil {
			return fmt.Errorf("failed to generate instance name: %w", err)
		}
	}

	if err := instance.ValidateName(targetInstanceName); err != nil {
		return printer.Error(
			"invalid instance name",
			fmt.Sprintf("Error: %v", err),
			[]string{"Use lowercase letters, digits, and hyphens (max 63 characters)"},
		)
	}

	collision, err := instance.NameInUse(ctx, cli, targetInstanceName)
	if err != nil {
		return fmt.Errorf("failed to check for name collision: %w", err)
	}
	if collision {
		return printer.ErrorWithContext(
			fmt.Sprintf("instance '%s' already exists", targetInstanceName),
			"An instance with this name is already running.",
			map[string]string{"Instance": targetInstanceName},
			[]string{
				fmt.Sprintf("Stop it first:\n  noesis down --name %s", targetInstanceName),
				"Or pick a different name:\n  noesis up --name <other-name>",
			},
		)
	}

	// Phase 4: Resource creation
	runID := dockerpkg.GenerateRunID()
	if err := createInstance(ctx, cli, cfg, targetInstanceName, runID); err != nil {
		printer.Warning("Resource creation failed. Rolling back...\n")
		if rollbackErr := rollbackInstance(ctx, cli, targetInstanceName); rollbackErr != nil {
			printer.Warning("rollback encountered errors: %v\n", rollbackErr)
		}
		return fmt.Errorf("failed to create instance: %w", err)
	}

	printUpSuccess(cfg, targetInstanceName)
	return nil
}

func createInstance(ctx context.Context, cli *client.Client, cfg *config.MeshConfig, instanceName, runID string) error {
	// Step 1: Allocate Redis port
	redisPort, err := instance.FindNextAvailablePort(ctx, cli)
	if err != nil {
		return fmt.Errorf("failed to allocate Redis port: %w", err)
	}
	printer.Success("Allocated Redis port: %d\n", redisPort)

	// Step 2: Create isolated network
	networkName := dockerpkg.NetworkName(instanceName)
	_, err = cli.NetworkCreate(ctx, networkName, types.NetworkCreate{
		Driver: "bridge",
		Labels: dockerpkg.BuildLabels(instanceName, runID, ""),
	})
	if err != nil {
		return fmt.Errorf("failed to create network '%s': %w", networkName, err)
	}
	printer.Success("Created network: %s\n", networkName)

	// Step 3: Start Redis container with port mapping
	redisImage := "redis:7-alpine"
	if cfg.Services != nil && cfg.Services.Redis != nil && cfg.Services.Redis.Image != "" {
		redisImage = cfg.Services.Redis.Image
	}

	redisName := dockerpkg.RedisContainerName(instanceName)
	redisLabels := dockerpkg.BuildLabels(instanceName, runID, "redis")
	redisLabels[dockerpkg.LabelRedisPort] = fmt.Sprintf("%d", redisPort)

	redisResp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:  redisImage,
		Labels: redisLabels,
		ExposedPorts: nat.PortSet{
			"6379/tcp": struct{}{},
		},
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode(networkName),
		PortBindings: nat.PortMap{
			"6379/tcp": []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: fmt.Sprintf("%d", redisPort),
				},
			},
		},
	}, nil, nil, redisName)
	if err != nil {
		return fmt.Errorf("failed to create Redis container: %w", err)
	}

	if err := cli.ContainerStart(ctx, redisResp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start Redis container: %w", err)
	}
	printer.Success("Started Redis container: %s (port %d)\n", redisName, redisPort)

	// Containers on the instance network reach Redis via Docker DNS
	redisURL := fmt.Sprintf("redis://%s:6379", redisName)

	// Step 4: Start coordinator container
	coordinatorImage := defaultCoordinatorImage
	if cfg.Services != nil && cfg.Services.Coordinator != nil && cfg.Services.Coordinator.Image != "" {
		coordinatorImage = cfg.Services.Coordinator.Image
	}

	coordinatorName := dockerpkg.CoordinatorContainerName(instanceName)
	coordinatorResp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:  coordinatorImage,
		Labels: dockerpkg.BuildLabels(instanceName, runID, "coordinator"),
		Env: []string{
			fmt.Sprintf("NOESIS_INSTANCE_NAME=%s", instanceName),
			fmt.Sprintf("REDIS_URL=%s", redisURL),
		},
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode(networkName),
	}, nil, nil, coordinatorName)
	if err != nil {
		return fmt.Errorf("failed to create coordinator container: %w", err)
	}

	if err := cli.ContainerStart(ctx, coordinatorResp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start coordinator container: %w", err)
	}
	printer.Success("Started coordinator container: %s\n", coordinatorName)

	// Step 5: Start worker containers for each pool
	for workerName, pool := range cfg.Workers {
		for replica := 1; replica <= pool.ReplicaCount(); replica++ {
			if err := startWorkerContainer(ctx, cli, instanceName, runID, networkName, redisURL, workerName, pool, replica); err != nil {
				return err
			}
		}
	}

	return nil
}

func startWorkerContainer(ctx context.Context, cli *client.Client, instanceName, runID, networkName, redisURL, workerName string, pool config.Worker, replica int) error {
	containerName := dockerpkg.WorkerContainerName(instanceName, workerName, replica)
	labels := dockerpkg.BuildLabels(instanceName, runID, "worker")
	labels[dockerpkg.LabelWorkerName] = workerName

	env := []string{
		fmt.Sprintf("NOESIS_INSTANCE_NAME=%s", instanceName),
		fmt.Sprintf("NOESIS_NODE_NAME=%s-%d", workerName, replica),
		fmt.Sprintf("REDIS_URL=%s", redisURL),
		fmt.Sprintf("NOESIS_ENDPOINT=tcp://%s:8080", containerName),
		fmt.Sprintf("NOESIS_CAPABILITIES=%s", strings.Join(pool.Capabilities, ",")),
	}
	env = append(env, pool.Environment...)

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:  pool.Image,
		Labels: labels,
		Env:    env,
	}, &container.HostConfig{
		NetworkMode: container.NetworkMode(networkName),
	}, nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("failed to create worker container '%s': %w", containerName, err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start worker container '%s': %w", containerName, err)
	}
	printer.Success("Started worker container: %s\n", containerName)

	return nil
}

func rollbackInstance(ctx context.Context, cli *client.Client, instanceName string) error {
	timeout := 10

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", fmt.Sprintf("%s=%s", dockerpkg.LabelInstanceName, instanceName)),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	for _, c := range containers {
		printer.Step("Stopping %s...\n", c.Names[0])
		_ = cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout})

		printer.Step("Removing %s...\n", c.Names[0])
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
			printer.Warning("failed to remove %s: %v\n", c.Names[0], err)
		}
	}

	networks, err := cli.NetworkList(ctx, types.NetworkListOptions{
		Filters: filters.NewArgs(
			filters.Arg("label", fmt.Sprintf("%s=%s", dockerpkg.LabelInstanceName, instanceName)),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}

	for _, net := range networks {
		printer.Step("Removing network %s...\n", net.Name)
		if err := cli.NetworkRemove(ctx, net.ID); err != nil {
			printer.Warning("failed to remove network %s: %v\n", net.Name, err)
		}
	}

	return nil
}

func printUpSuccess(cfg *config.MeshConfig, instanceName string) {
	printer.Success("\nInstance '%s' started successfully\n\n", instanceName)
	printer.Printf("Containers:\n")
	printer.Printf("  • %s\n", dockerpkg.RedisContainerName(instanceName))
	printer.Printf("  • %s\n", dockerpkg.CoordinatorContainerName(instanceName))
	for workerName, pool := range cfg.Workers {
		for replica := 1; replica <= pool.ReplicaCount(); replica++ {
			printer.Printf("  • %s\n", dockerpkg.WorkerContainerName(instanceName, workerName, replica))
		}
	}
	printer.Printf("\nNetwork:\n")
	printer.Printf("  • %s\n", dockerpkg.NetworkName(instanceName))
	printer.Printf("\nNext steps:\n")
	printer.Printf("  1. Run 'noesis submit --query \"...\" --type deductive' to run a reasoning task\n")
	printer.Printf("  2. Run 'noesis nodes --name %s' to view registered nodes\n", instanceName)
	printer.Printf("  3. Run 'noesis down --name %s' when finished\n", instanceName)
}

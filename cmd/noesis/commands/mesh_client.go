package commands

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	dockerpkg "github.com/noesislabs/noesis/internal/docker"
	"github.com/noesislabs/noesis/internal/instance"
	"github.com/noesislabs/noesis/internal/printer"
	"github.com/noesislabs/noesis/pkg/mesh"
)

// connectMesh resolves the target instance through Docker labels and returns
// a verified mesh client. The caller must Close the returned client.
func connectMesh(ctx context.Context, instanceName string) (*mesh.Client, string, error) {
	cli, err := dockerpkg.Connect(ctx)
	if err != nil {
		return nil, "", err
	}
	defer cli.Close()

	targetInstanceName, err := instance.ResolveInstanceName(ctx, cli, instanceName)
	if err != nil {
		if err.Error() == "no instances found" {
			return nil, "", printer.Error(
				"no Noesis instances found",
				"No instances are currently running.",
				[]string{"Start an instance first:\n  noesis up"},
			)
		}
		return nil, "", printer.Error(
			"could not resolve instance",
			fmt.Sprintf("Error: %v", err),
			[]string{"Specify the instance explicitly:\n  --name <instance-name>"},
		)
	}

	if err := instance.VerifyInstanceRunning(ctx, cli, targetInstanceName); err != nil {
		return nil, "", printer.Error(
			fmt.Sprintf("instance '%s' is not running", targetInstanceName),
			fmt.Sprintf("Error: %v", err),
			[]string{
				fmt.Sprintf("Start the instance:\n  noesis up --name %s", targetInstanceName),
				fmt.Sprintf("Or if stuck, restart:\n  noesis down --name %s\n  noesis up --name %s", targetInstanceName, targetInstanceName),
			},
		)
	}

	redisPort, err := instance.GetInstanceRedisPort(ctx, cli, targetInstanceName)
	if err != nil {
		return nil, "", printer.ErrorWithContext(
			"Redis port not found",
			fmt.Sprintf("Instance '%s' exists but Redis port label is missing.", targetInstanceName),
			map[string]string{"Instance": targetInstanceName},
			[]string{
				fmt.Sprintf("Restart the instance:\n  noesis down --name %s\n  noesis up --name %s", targetInstanceName, targetInstanceName),
			},
		)
	}

	redisURL := instance.RedisURL(redisPort)
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	meshClient, err := mesh.NewClient(redisOpts, targetInstanceName)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create mesh client: %w", err)
	}

	if err := meshClient.Ping(ctx); err != nil {
		meshClient.Close()
		return nil, "", printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", redisURL),
			nil,
			[]string{
				fmt.Sprintf("Check Redis container status:\n  docker logs %s", dockerpkg.RedisContainerName(targetInstanceName)),
				fmt.Sprintf("Restart if needed:\n  noesis down --name %s\n  noesis up --name %s", targetInstanceName, targetInstanceName),
			},
		)
	}

	return meshClient, targetInstanceName, nil
}

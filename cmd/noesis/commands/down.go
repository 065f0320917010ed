package commands

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/spf13/cobra"

	dockerpkg "github.com/noesislabs/noesis/internal/docker"
	"github.com/noesislabs/noesis/internal/instance"
	"github.com/noesislabs/noesis/internal/printer"
)

var (
	downInstanceName string
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop a Noesis instance",
	Long: `Stop and remove all Docker resources associated with a Noesis instance.

This includes:
  • All containers (Redis, coordinator, workers)
  • Docker network

If only one instance is running, the name may be omitted.
The command does not prompt for confirmation and executes immediately.

Examples:
  # Stop the only running instance
  noesis down

  # Stop a specific instance
  noesis down --name prod`,
	RunE: runDown,
}

func init() {
	downCmd.Flags().StringVarP(&downInstanceName, "name", "n", "", "Target instance name (auto-resolved if omitted)")
	rootCmd.AddCommand(downCmd)
}

func runDown(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cli, err := dockerpkg.Connect(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	// Phase 1: Instance discovery
	targetInstanceName, err := instance.ResolveInstanceName(ctx, cli, downInstanceName)
	if err != nil {
		if err.Error() == "no instances found" {
			return printer.Error(
				"no Noesis instances found",
				"No instances are currently running.",
				[]string{"Start an instance first:\n  noesis up"},
			)
		}
		return printer.Error(
			"could not resolve instance",
			fmt.Sprintf("Error: %v", err),
			[]string{
				"Specify which instance to stop:\n  noesis down --name <instance-name>",
			},
		)
	}

	// Phase 2: Find all containers for this instance
	containerFilters := filters.NewArgs()
	containerFilters.Add("label", fmt.Sprintf("%s=%s", dockerpkg.LabelInstanceName, targetInstanceName))

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: containerFilters,
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	if len(containers) == 0 {
		return printer.Error(
			fmt.Sprintf("instance '%s' not found", targetInstanceName),
			fmt.Sprintf("No containers found with instance name '%s'.", targetInstanceName),
			[]string{"Run 'noesis list' to see available instances"},
		)
	}

	// Phase 3: Stop containers (10s graceful timeout)
	timeout := 10
	for _, c := range containers {
		containerName := c.Names[0]
		printer.Step("Stopping %s...\n", containerName)
		if err := cli.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			// Container might already be stopped
			printer.Warning("failed to stop %s: %v\n", containerName, err)
		}
	}

	// Phase 4: Remove containers
	for _, c := range containers {
		containerName := c.Names[0]
		printer.Step("Removing %s...\n", containerName)
		if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			return fmt.Errorf("failed to remove %s: %w", containerName, err)
		}
	}

	// Phase 5: Find and remove network
	networkFilters := filters.NewArgs()
	networkFilters.Add("label", fmt.Sprintf("%s=%s", dockerpkg.LabelInstanceName, targetInstanceName))

	networks, err := cli.NetworkList(ctx, types.NetworkListOptions{
		Filters: networkFilters,
	})
	if err != nil {
		return fmt.Errorf("failed to list networks: %w", err)
	}

	for _, net := range networks {
		printer.Step("Removing network %s...\n", net.Name)
		if err := cli.NetworkRemove(ctx, net.ID); err != nil {
			return fmt.Errorf("failed to remove network %s: %w", net.Name, err)
		}
	}

	printer.Success("\nInstance '%s' removed successfully\n", targetInstanceName)

	return nil
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/spf13/cobra"

	dockerpkg "github.com/noesislabs/noesis/internal/docker"
	"github.com/noesislabs/noesis/internal/instance"
)

var (
	listJSON bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all Noesis instances",
	Long: `List all Noesis instances by querying Docker for containers with the noesis.project label.

For each instance, displays:
  • Instance name
  • Status (Running/Degraded/Stopped)
  • Worker container count
  • Uptime (for running instances)

Use --json for machine-readable output.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cli, err := dockerpkg.Connect(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	// Find all Noesis containers
	containerFilters := filters.NewArgs()
	containerFilters.Add("label", fmt.Sprintf("%s=true", dockerpkg.LabelProject))

	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: containerFilters,
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	// Group by instance name
	instances := make(map[string][]types.Container)
	for _, c := range containers {
		instanceName := c.Labels[dockerpkg.LabelInstanceName]
		instances[instanceName] = append(instances[instanceName], c)
	}

	var infos []instance.InstanceInfo
	for name, group := range instances {
		infos = append(infos, instance.Summarize(name, group))
	}

	// Sort by name
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})

	if len(infos) == 0 {
		if !listJSON {
			fmt.Println("No Noesis instances found.")
			fmt.Println()
			fmt.Println("Run 'noesis up' to start a new instance.")
		} else {
			fmt.Println("[]")
		}
		return nil
	}

	if listJSON {
		outputJSON(infos)
	} else {
		outputTable(infos)
	}

	return nil
}

func outputJSON(infos []instance.InstanceInfo) {
	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func outputTable(infos []instance.InstanceInfo) {
	fmt.Printf("%-15s %-10s %-8s %s\n", "INSTANCE", "STATUS", "WORKERS", "UPTIME")
	for _, info := range infos {
		fmt.Printf("%-15s %-10s %-8d %s\n", info.Name, info.Status, info.Workers, info.Uptime)
	}
}

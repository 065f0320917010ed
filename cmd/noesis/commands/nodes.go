package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noesislabs/noesis/pkg/mesh"
)

var (
	nodesInstanceName string
	nodesJSON         bool
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List registered reasoning nodes",
	Long: `List all reasoning nodes registered in an instance.

For each node, displays:
  • Node ID
  • Status (online/busy/offline/maintenance/error)
  • Capabilities
  • Current workload
  • Reliability score

Use --json for machine-readable output.`,
	RunE: runNodes,
}

func init() {
	nodesCmd.Flags().StringVarP(&nodesInstanceName, "name", "n", "", "Target instance name (auto-resolved if omitted)")
	nodesCmd.Flags().BoolVar(&nodesJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(nodesCmd)
}

func runNodes(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	meshClient, _, err := connectMesh(ctx, nodesInstanceName)
	if err != nil {
		return err
	}
	defer meshClient.Close()

	nodes, err := meshClient.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID < nodes[j].ID
	})

	if nodesJSON {
		data, err := json.MarshalIndent(nodes, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal nodes: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(nodes) == 0 {
		fmt.Println("No nodes registered.")
		fmt.Println()
		fmt.Println("Worker containers register themselves on startup; check their logs if none appear.")
		return nil
	}

	fmt.Printf("%-38s %-12s %-30s %-9s %s\n", "NODE", "STATUS", "CAPABILITIES", "WORKLOAD", "RELIABILITY")
	for _, node := range nodes {
		fmt.Printf("%-38s %-12s %-30s %-9.2f %.3f\n",
			node.ID, node.Status, formatCapabilities(node), node.Workload, node.Performance.Reliability)
	}

	return nil
}

func formatCapabilities(node *mesh.Node) string {
	parts := make([]string, len(node.Capabilities))
	for i, capability := range node.Capabilities {
		parts[i] = string(capability)
	}
	joined := strings.Join(parts, ",")
	if len(joined) > 30 {
		joined = joined[:27] + "..."
	}
	return joined
}

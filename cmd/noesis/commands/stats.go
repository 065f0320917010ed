package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/noesislabs/noesis/internal/filter"
	"github.com/noesislabs/noesis/internal/printer"
	"github.com/noesislabs/noesis/internal/timespec"
)

var (
	statsInstanceName string
	statsJSON         bool
	statsSince        string
	statsUntil        string
	statsStatus       string
	statsType         string
)

type meshStats struct {
	Instance      string         `json:"instance"`
	NodesByStatus map[string]int `json:"nodes_by_status"`
	TasksByStatus map[string]int `json:"tasks_by_status"`
	QueueDepth    int64          `json:"queue_depth"`
	Tasks         []taskStatsRow `json:"tasks,omitempty"`
}

type taskStatsRow struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Nodes    int    `json:"nodes"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show instance statistics",
	Long: `Show a summary of an instance: node counts by status, task counts by
status, queue depth, and the task list.

The task list can be narrowed with --since/--until (duration like '1h30m'
or RFC3339 timestamps), --status, and --type (glob patterns allowed).
Node counts and queue depth always reflect the whole instance.

Use --json for machine-readable output.`,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().StringVarP(&statsInstanceName, "name", "n", "", "Target instance name (auto-resolved if omitted)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output in JSON format")
	statsCmd.Flags().StringVar(&statsSince, "since", "", "Only show tasks created after this time (duration or RFC3339)")
	statsCmd.Flags().StringVar(&statsUntil, "until", "", "Only show tasks created before this time (duration or RFC3339)")
	statsCmd.Flags().StringVar(&statsStatus, "status", "", "Only show tasks with this status")
	statsCmd.Flags().StringVar(&statsType, "type", "", "Only show tasks with this query type (glob patterns allowed)")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sinceMS, untilMS, err := timespec.ParseRange(statsSince, statsUntil)
	if err != nil {
		printer.Error("Invalid time range", err.Error(), []string{
			"Use a duration like '1h30m' or an RFC3339 timestamp like '2026-08-31T13:00:00Z'",
		})
		return fmt.Errorf("invalid time range")
	}
	criteria := &filter.Criteria{
		SinceTimestampMs: sinceMS,
		UntilTimestampMs: untilMS,
		Status:           statsStatus,
		QueryTypeGlob:    statsType,
	}

	meshClient, targetInstanceName, err := connectMesh(ctx, statsInstanceName)
	if err != nil {
		return err
	}
	defer meshClient.Close()

	nodes, err := meshClient.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	tasks, err := meshClient.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	tasks = criteria.Apply(tasks)

	depth, err := meshClient.QueueDepth(ctx)
	if err != nil {
		return fmt.Errorf("failed to read queue depth: %w", err)
	}

	stats := meshStats{
		Instance:      targetInstanceName,
		NodesByStatus: make(map[string]int),
		TasksByStatus: make(map[string]int),
		QueueDepth:    depth,
	}
	for _, node := range nodes {
		stats.NodesByStatus[string(node.Status)]++
	}
	for _, task := range tasks {
		stats.TasksByStatus[string(task.Status)]++
		stats.Tasks = append(stats.Tasks, taskStatsRow{
			ID:       task.ID,
			Status:   string(task.Status),
			Priority: string(task.Priority),
			Nodes:    len(task.AssignedNodes),
		})
	}
	sort.Slice(stats.Tasks, func(i, j int) bool {
		return stats.Tasks[i].ID < stats.Tasks[j].ID
	})

	if statsJSON {
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal stats: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Instance: %s\n\n", stats.Instance)

	fmt.Printf("Nodes (%d):\n", len(nodes))
	printCountMap(stats.NodesByStatus)

	if criteria.HasFilters() {
		fmt.Printf("\nTasks (%d matching filters, queue depth %d):\n", len(tasks), depth)
	} else {
		fmt.Printf("\nTasks (%d, queue depth %d):\n", len(tasks), depth)
	}
	printCountMap(stats.TasksByStatus)

	if len(stats.Tasks) > 0 {
		fmt.Printf("\n%-38s %-10s %-10s %s\n", "TASK", "STATUS", "PRIORITY", "NODES")
		for _, row := range stats.Tasks {
			fmt.Printf("%-38s %-10s %-10s %d\n", row.ID, row.Status, row.Priority, row.Nodes)
		}
	}

	return nil
}

func printCountMap(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("  %-12s %d\n", key, counts[key])
	}
	if len(keys) == 0 {
		fmt.Printf("  (none)\n")
	}
}

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noesislabs/noesis/internal/coordinator"
	"github.com/noesislabs/noesis/internal/printer"
	"github.com/noesislabs/noesis/internal/resolver"
	"github.com/noesislabs/noesis/pkg/mesh"
)

var (
	cancelInstanceName string
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a reasoning task",
	Long: `Cancel a pending or in-flight reasoning task.

A queued task is withdrawn from the queue; a running task is marked
cancelled and its in-flight work is abandoned when nodes report back.
Tasks that already reached a terminal state cannot be cancelled.

The task ID may be a short prefix (at least 6 characters) as long as it
is unambiguous.

Examples:
  noesis cancel 4f6f6e
  noesis cancel --name prod 4f6f6e1a-9f9e-4a7e-b2c3-0d1e2f3a4b5c`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func init() {
	cancelCmd.Flags().StringVarP(&cancelInstanceName, "name", "n", "", "Target instance name (auto-resolved if omitted)")
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	meshClient, _, err := connectMesh(ctx, cancelInstanceName)
	if err != nil {
		return err
	}
	defer meshClient.Close()

	taskID, err := resolver.ResolveTaskID(ctx, meshClient, args[0])
	if err != nil {
		if ambiguous, ok := err.(*resolver.AmbiguousError); ok {
			return printer.Error(
				"ambiguous task ID",
				resolver.FormatAmbiguousError(ambiguous),
				nil,
			)
		}
		return printer.Error(
			fmt.Sprintf("task '%s' not found", args[0]),
			fmt.Sprintf("Error: %v", err),
			[]string{"Run 'noesis stats' to see known tasks"},
		)
	}

	queue := coordinator.NewQueue(meshClient)

	task, err := queue.Cancel(ctx, taskID)
	if err != nil {
		if mesh.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("task '%s' not found", taskID),
				"No task with this ID exists in the instance.",
				[]string{"Run 'noesis stats' to see known tasks"},
			)
		}
		return printer.Error(
			"failed to cancel task",
			fmt.Sprintf("Error: %v", err),
			nil,
		)
	}

	printer.Success("Task %s cancelled\n", task.ID)
	return nil
}

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noesislabs/noesis/internal/coordinator"
	"github.com/noesislabs/noesis/internal/printer"
	"github.com/noesislabs/noesis/pkg/mesh"
	"github.com/noesislabs/noesis/pkg/reasoning"
)

var (
	submitInstanceName string
	submitQuery        string
	submitType         string
	submitPriority     string
	submitCapabilities []string
	submitMaxNodes     int
	submitTimeoutMs    int64
	submitWait         bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a reasoning task to the mesh",
	Long: `Submit a reasoning task for distributed execution.

The task is enqueued for the coordinator, which selects capable nodes,
dispatches the query, and aggregates their answers into a single result.

With --wait (the default), the command blocks until the final aggregated
result is published and prints it. With --wait=false it prints the task ID
and returns immediately; track progress with 'noesis stats'.

Examples:
  # Deductive query, wait for the aggregated result
  noesis submit --query "is socrates mortal" --type deductive

  # High priority task requiring two capabilities, fire and forget
  noesis submit --query "diagnose outage" --type abductive \
    --capabilities abductive,domain-analysis --priority high --wait=false`,
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitInstanceName, "name", "n", "", "Target instance name (auto-resolved if omitted)")
	submitCmd.Flags().StringVarP(&submitQuery, "query", "q", "", "Query text (required)")
	submitCmd.Flags().StringVarP(&submitType, "type", "t", "hybrid", "Reasoning type (deductive, inductive, abductive, pattern-matching, domain-analysis, hybrid)")
	submitCmd.Flags().StringVarP(&submitPriority, "priority", "p", "medium", "Task priority (low, medium, high, critical)")
	submitCmd.Flags().StringSliceVarP(&submitCapabilities, "capabilities", "c", nil, "Required node capabilities (defaults to the reasoning type)")
	submitCmd.Flags().IntVar(&submitMaxNodes, "max-nodes", 0, "Maximum nodes to use (0 = coordinator default)")
	submitCmd.Flags().Int64Var(&submitTimeoutMs, "timeout-ms", 0, "Max execution time in milliseconds (0 = coordinator default)")
	submitCmd.Flags().BoolVarP(&submitWait, "wait", "w", true, "Wait for the aggregated result")
	submitCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if submitQuery == "" {
		return printer.Error(
			"required flag --query not provided",
			"Usage:\n  noesis submit --query \"what you want answered\" --type deductive",
			nil,
		)
	}

	priority := mesh.TaskPriority(submitPriority)
	if err := priority.Validate(); err != nil {
		return printer.Error(
			"invalid priority",
			fmt.Sprintf("Error: %v", err),
			[]string{"Valid priorities: low, medium, high, critical"},
		)
	}

	queryType := reasoning.Capability(strings.TrimSpace(submitType))
	if err := queryType.Validate(); err != nil {
		return printer.Error(
			"invalid reasoning type",
			fmt.Sprintf("Error: %v", err),
			[]string{"Valid types: deductive, inductive, abductive, pattern-matching, domain-analysis, hybrid"},
		)
	}

	required := make([]reasoning.Capability, 0, len(submitCapabilities))
	for _, raw := range submitCapabilities {
		capability := reasoning.Capability(strings.TrimSpace(raw))
		if err := capability.Validate(); err != nil {
			return printer.Error(
				"invalid capability",
				fmt.Sprintf("Error: %v", err),
				[]string{"Valid capabilities: deductive, inductive, abductive, pattern-matching, domain-analysis, hybrid"},
			)
		}
		required = append(required, capability)
	}
	if len(required) == 0 {
		required = []reasoning.Capability{queryType}
	}

	meshClient, targetInstanceName, err := connectMesh(ctx, submitInstanceName)
	if err != nil {
		return err
	}
	defer meshClient.Close()

	req := &coordinator.SubmitRequest{
		Query: reasoning.Query{
			Type:    queryType,
			Context: submitQuery,
		},
		Priority:             priority,
		RequiredCapabilities: required,
		Constraints: mesh.Constraints{
			MaxExecutionTimeMs: submitTimeoutMs,
		},
	}
	if submitMaxNodes > 0 {
		req.Constraints.MaxNodes = submitMaxNodes
		req.Constraints.MaxNodesSet = true
	}

	queue := coordinator.NewQueue(meshClient)

	if !submitWait {
		task, err := queue.Submit(ctx, req)
		if err != nil {
			return fmt.Errorf("failed to submit task: %w", err)
		}
		printer.Success("Task submitted: %s\n", task.ID)
		return nil
	}

	// Subscribe before submitting so the final result cannot be missed.
	sub, err := meshClient.SubscribeFinalResults(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe for results: %w", err)
	}
	defer sub.Close()

	// Give the subscription time to attach before the coordinator can answer
	time.Sleep(100 * time.Millisecond)

	task, err := queue.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to submit task: %w", err)
	}

	printer.Info("Task %s submitted to instance '%s', waiting for result...\n", task.ID, targetInstanceName)

	for {
		select {
		case result, ok := <-sub.Events():
			if !ok {
				return fmt.Errorf("result subscription closed before task %s finished", task.ID)
			}
			if result.TaskID != task.ID {
				continue
			}
			return printResult(result)
		case err, ok := <-sub.Errors():
			if ok && err != nil {
				printer.Warning("subscription error: %v\n", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func printResult(result *mesh.DistributedResult) error {
	printer.Success("Task %s completed\n\n", result.TaskID)
	printer.Printf("Confidence:  %.3f\n", result.Aggregated.Confidence)
	printer.Printf("Consensus:   %.0f%%\n", result.ConsensusLevel*100)
	printer.Printf("Nodes used:  %d\n", result.NodesUsed)
	printer.Printf("Duration:    %dms\n", result.ExecutionTimeMs)
	if result.Aggregated.Explanation != "" {
		printer.Printf("Explanation: %s\n", result.Aggregated.Explanation)
	}

	if len(result.Aggregated.Conclusion) > 0 {
		printer.Printf("\nConclusion:\n")
		data, err := json.MarshalIndent(result.Aggregated.Conclusion, "  ", "  ")
		if err != nil {
			return fmt.Errorf("failed to render conclusion: %w", err)
		}
		printer.Printf("  %s\n", string(data))
	}

	return nil
}

// Package watch streams live mesh activity for CLI consumers. It merges
// the task-event, heartbeat, and final-result channels into a single
// human-readable feed.
package watch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/noesislabs/noesis/pkg/mesh"
)

// Options controls which channels are included in the stream.
type Options struct {
	// IncludeHeartbeats adds node heartbeat lines to the feed. Off by
	// default because heartbeats dominate the output on busy meshes.
	IncludeHeartbeats bool
}

// StreamActivity subscribes to mesh activity and writes one line per event
// to out until ctx is cancelled. Malformed messages are reported inline
// and skipped.
func StreamActivity(ctx context.Context, client *mesh.Client, out io.Writer, opts Options) error {
	events, err := client.SubscribeTaskEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to task events: %w", err)
	}
	defer events.Close()

	results, err := client.SubscribeFinalResults(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to final results: %w", err)
	}
	defer results.Close()

	var heartbeats *mesh.HeartbeatSubscription
	// nil channels block forever, which select treats as "not included"
	var heartbeatEvents <-chan *mesh.Heartbeat
	var heartbeatErrors <-chan error
	if opts.IncludeHeartbeats {
		heartbeats, err = client.SubscribeHeartbeats(ctx)
		if err != nil {
			return fmt.Errorf("failed to subscribe to heartbeats: %w", err)
		}
		defer heartbeats.Close()
		heartbeatEvents = heartbeats.Events()
		heartbeatErrors = heartbeats.Errors()
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-events.Events():
			if !ok {
				return nil
			}
			fmt.Fprintln(out, formatTaskEvent(event))

		case result, ok := <-results.Events():
			if !ok {
				return nil
			}
			fmt.Fprintln(out, formatFinalResult(result))

		case hb, ok := <-heartbeatEvents:
			if !ok {
				heartbeatEvents = nil
				continue
			}
			fmt.Fprintln(out, formatHeartbeat(hb))

		case err := <-events.Errors():
			if err != nil {
				fmt.Fprintf(out, "%s [warn] task event stream: %v\n", timestamp(), err)
			}
		case err := <-results.Errors():
			if err != nil {
				fmt.Fprintf(out, "%s [warn] result stream: %v\n", timestamp(), err)
			}
		case err := <-heartbeatErrors:
			if err != nil {
				fmt.Fprintf(out, "%s [warn] heartbeat stream: %v\n", timestamp(), err)
			}
		}
	}
}

// PollForResult polls until the aggregated result for a task is stored.
// Polls every 200ms for the specified timeout duration.
func PollForResult(ctx context.Context, client *mesh.Client, taskID string, timeout time.Duration) (*mesh.DistributedResult, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for result after %v", timeout)

		case <-ticker.C:
			result, err := client.GetResult(ctx, taskID)
			if err != nil {
				if mesh.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query for result: %w", err)
			}
			return result, nil
		}
	}
}

func formatTaskEvent(event *mesh.TaskEvent) string {
	line := fmt.Sprintf("%s [task] %s %s -> %s", timestamp(), shortID(event.TaskID), event.Type, event.Status)
	if event.Detail != "" {
		line += " (" + event.Detail + ")"
	}
	return line
}

func formatFinalResult(result *mesh.DistributedResult) string {
	return fmt.Sprintf("%s [result] %s consensus=%.0f%% confidence=%.3f nodes=%d in %dms",
		timestamp(), shortID(result.TaskID), result.ConsensusLevel*100,
		result.Aggregated.Confidence, result.NodesUsed, result.ExecutionTimeMs)
}

func formatHeartbeat(hb *mesh.Heartbeat) string {
	return fmt.Sprintf("%s [node] %s %s workload=%.2f", timestamp(), shortID(hb.NodeID), hb.Status, hb.Workload)
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// shortID truncates a UUID to its first segment for readable output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

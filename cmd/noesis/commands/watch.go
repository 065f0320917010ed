package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noesislabs/noesis/internal/printer"
	"github.com/noesislabs/noesis/internal/watch"
)

var (
	watchInstanceName string
	watchHeartbeats   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live mesh activity",
	Long: `Stream task lifecycle events and aggregated results as they happen.

Heartbeats are hidden by default because they dominate the output on busy
meshes; enable them with --heartbeats to see node liveness too.

Press Ctrl+C to stop.

Examples:
  noesis watch
  noesis watch --name prod --heartbeats`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchInstanceName, "name", "n", "", "Target instance name (auto-resolved if omitted)")
	watchCmd.Flags().BoolVar(&watchHeartbeats, "heartbeats", false, "Include node heartbeats in the stream")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	meshClient, targetInstanceName, err := connectMesh(ctx, watchInstanceName)
	if err != nil {
		return err
	}
	defer meshClient.Close()

	// Ctrl+C ends the stream cleanly
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	printer.Info("Watching instance '%s' (Ctrl+C to stop)...\n", targetInstanceName)

	return watch.StreamActivity(ctx, meshClient, os.Stdout, watch.Options{
		IncludeHeartbeats: watchHeartbeats,
	})
}

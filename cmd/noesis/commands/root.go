package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "noesis",
	Short: "Noesis - Distributed reasoning coordination platform",
	Long: `Noesis coordinates a mesh of specialized reasoning nodes that solve
queries collectively. Tasks are distributed across nodes by capability,
executed in parallel, and their answers aggregated into a single result
with an explicit consensus level.

State lives in Redis, which makes every task, node, and result
inspectable and auditable.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

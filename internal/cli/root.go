// Package cli implements the PressMesh command-line interface using
// Cobra. Each subcommand maps to an operational capability (serve,
// status, jobs, providers).
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pressmesh",
	Short: "PressMesh — content platform resilience core",
	Long: `PressMesh runs the resilience and orchestration core of a content
platform: the AI provider pool, the pipeline job queue with its
watchdog, the readiness monitor, and the fallback handler behind
a single HTTP API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

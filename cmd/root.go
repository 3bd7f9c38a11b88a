// Package cmd provides the command-line interface for tracesim.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tracesim",
	Short: "Tracesim extracts task execution models from trace files and simulates them.",
	Long: `Tracesim reads trace event streams produced by tasking runtimes, ` +
		`reconstructs the per-task execution model into a task database, ` +
		`simulates the ideal schedule of the recorded program, and serves ` +
		`the results for inspection.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Missing .env files are fine; environment variables still apply.
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

// envOr returns the value of an environment variable, or a fallback when the
// variable is unset or empty.
func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}

	return fallback
}

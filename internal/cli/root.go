// Package cli wires the cobra command surface around the engine.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/logging"
)

var (
	modelFile string
	stateFile string
	logLevel  string
	awsRegion string
)

var rootCmd = &cobra.Command{
	Use:   "stackform",
	Short: "Declarative reconciliation for cloud infrastructure",
	Long: `Stackform drives real infrastructure toward a declared resource model.

It reads a JSON model document, diffs it against persisted state, and
produces an ordered plan of create, update and destroy actions which it
executes with dependency-aware parallelism.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&modelFile, "model", "m", "stackform.json", "Path to the model document")
	rootCmd.PersistentFlags().StringVarP(&stateFile, "state", "s", "stackform.state.json", "Path to the state file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&awsRegion, "region", "", "AWS region (defaults to SDK resolution)")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/checkloop/checkloop/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "checkloop",
	Short: "Run agent tasks with script-validated retry loops",
	Long: `Checkloop drives a task prompt against a reasoning engine, validates the
agent's answer with your script, and feeds the script's feedback back to the
agent until the check passes or the retry budget runs out.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("engine-url", "", "Reasoning engine base URL (default from config)")
	rootCmd.PersistentFlags().String("config", "", "Path to the engine config file (YAML)")
	rootCmd.PersistentFlags().String("credentials", "", "Path to the credentials file (YAML)")
	rootCmd.PersistentFlags().String("model", "", "Model override")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
}

// newLogger builds the process logger from the --log-level flag.
func newLogger(cmd *cobra.Command) *slog.Logger {
	raw, _ := cmd.Flags().GetString("log-level")
	return logging.New(logging.ParseLevel(raw))
}

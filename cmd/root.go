// Package cmd implements the llmloop command line.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	debugLogs  bool
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "llmloop",
	Short: "Run a model with tools until it answers",
	Long: `llmloop streams a model's reply, runs the tools it asks for, and feeds
the results back until the model answers. Tool calls that need approval
either prompt on a terminal or park the conversation as a session.

Examples:
  llmloop run "which tests are failing?"
  llmloop run -p anthropic --max-steps 5 "summarize go.mod"
  llmloop resume 3f2a... --approve call_ab12
  llmloop sessions`,
	Version:           Version,
	SilenceUsage:      true,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(debugLogs)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debugLogs, "debug", "d", false, "Log debug information to stderr")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/llmloop/config.yaml)")
}

func setupLogging(debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

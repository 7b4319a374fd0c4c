// Package main is the switchboard server CLI.
//
// Start the server:
//
//	switchboard serve --config switchboard.yaml
//
// Configuration comes from the YAML file plus SWITCHBOARD_* environment
// variables; provider credentials come from ANTHROPIC_API_KEY or
// OPENAI_API_KEY. A .env file in the working directory is loaded first.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitError carries a process exit code alongside the cause. Configuration
// problems exit 1, store startup failures exit 2.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "switchboard",
		Short:        "Switchboard - multi-agent conversational backend",
		Long:         "Switchboard routes user turns to specialized agents over LLM providers,\nwith tool execution, session persistence, and cross-session memory.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

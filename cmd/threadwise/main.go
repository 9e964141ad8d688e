// Package main provides the CLI entry point for threadwise, a Slack assistant
// that answers @-mentions with the help of the thread it was asked in.
//
// # Basic Usage
//
// Start the bot:
//
//	threadwise serve --config threadwise.yaml
//
// Try the intent classifier without Slack:
//
//	threadwise classify "can you summarize the last 10 messages?"
//
// Check a configuration file:
//
//	threadwise config validate --config threadwise.yaml
//
// # Environment Variables
//
//   - SLACK_BOT_TOKEN: bot token (xoxb-)
//   - SLACK_APP_TOKEN: app-level token for Socket Mode (xapp-)
//   - AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT_NAME
//   - ANTHROPIC_API_KEY
//   - LOG_LEVEL
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the command tree. It is separate from main for tests.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "threadwise",
		Short: "threadwise - a thread-aware Slack assistant",
		Long: `threadwise answers @-mentions in Slack. It reads the thread it was
mentioned in, works out what was asked, runs the matching tools (fetch,
summarize, analyze, participants) and replies in the thread.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildClassifyCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

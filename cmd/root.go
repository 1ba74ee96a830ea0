// Package cmd implements the nimbus CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	flagVerbose bool
	flagJSONLog bool
)

var rootCmd = &cobra.Command{
	Use:   "nimbus",
	Short: "Nimbus - conversational assistant for your GCP project",
	Long: `Nimbus is a Gemini-backed conversational assistant for a Google Cloud
project. It answers questions with live lookups against the project's
resources, remembers facts about each user across sessions, and serves
buffered and streaming chat over HTTP.

Run "nimbus serve" to start the API server.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLog, "json-log", false, "log in JSON format")
}

// Package cmd implements the uzhavan command line interface.
package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "uzhavan",
	Short: "Uzhavan - retrieval-augmented farming assistant backend",
	Long: `Uzhavan is a retrieval-augmented chat backend for Tamil Nadu farmers.

It serves a JSON HTTP API for grounded chat turns with persistent
per-user sessions, and provides commands to ingest reference documents
into the knowledge base and to inspect stored sessions.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	// A local .env is optional; environment variables win regardless.
	_ = godotenv.Load()

	return rootCmd.Execute()
}

func init() {
	// Subcommands register themselves in their own files.
}

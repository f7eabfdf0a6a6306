package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/uzhavan/uzhavan/internal/app"
	"github.com/uzhavan/uzhavan/internal/config"
	"github.com/uzhavan/uzhavan/internal/log"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Ingest documents into the knowledge base",
	Long: `Ingest reads a Markdown, text, or CSV file, or a directory of them, chunks
the content, embeds each chunk, and stores the vectors for retrieval.
Re-ingesting a file replaces its previous chunks.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(args[0])
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Embedding calls need the same API key as serving.
	if err = cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("inspecting path: %w", err)
	}

	var chunks int
	if info.IsDir() {
		chunks, err = a.Indexer.IngestDir(ctx, path)
	} else {
		chunks, err = a.Indexer.IngestFile(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}

	fmt.Printf("Ingested %d chunks from %s\n", chunks, path)
	return nil
}

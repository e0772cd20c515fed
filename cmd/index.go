package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat/internal/app"
	"github.com/docchat/docchat/internal/index"
)

var flagForce bool

var indexCmd = &cobra.Command{
	Use:   "index <directory>",
	Short: "Index the documents in a directory",
	Long: `Index every supported file (.txt, .md, .pdf) in the given directory into
the configured collection. Documents whose content is unchanged since the
last run are skipped; pass --force to clear the collection and re-embed
everything, for example after switching the embedding model.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "clear the collection and re-index everything")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolving directory: %w", err)
	}

	ctx := cmd.Context()
	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing index", "error", err)
		}
	}()

	result, err := a.Indexer.Run(ctx, dir, flagForce)
	if errors.Is(err, index.ErrModelMismatch) {
		return fmt.Errorf("%w\nthe collection %q was built with a different embedding model; re-run with --force to rebuild it", err, cfg.Collection)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Indexed %d document(s) (%d chunks) into %q in %s\n",
		result.Indexed, result.Chunks, cfg.Collection, result.Duration.Round(10*time.Millisecond))
	if result.Unchanged > 0 {
		fmt.Printf("Unchanged: %d\n", result.Unchanged)
	}
	if result.Skipped > 0 {
		fmt.Printf("Skipped (unsupported or empty): %d\n", result.Skipped)
	}

	if result.Indexed > 0 {
		// Smoke-check retrieval so a broken embedder surfaces now, not at
		// the first question.
		if vec, err := a.Gateway.Embed(ctx, "smoke"); err == nil {
			if hits, err := a.Store.Search(ctx, vec, 1); err == nil {
				logger.Debug("post-index search ok", "hits", len(hits))
			} else {
				logger.Warn("post-index search failed", "error", err)
			}
		}
	}

	if result.Failed > 0 {
		fmt.Fprintf(os.Stderr, "Failed: %d\n", result.Failed)
		for _, f := range result.Failures {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", f.Path, f.Err)
		}
		return fmt.Errorf("%d document(s) failed to index", result.Failed)
	}

	return nil
}

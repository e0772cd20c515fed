package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat/internal/index"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the collection contains",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

// runStats opens the index directly; no Ollama connection is needed to
// inspect the collection.
func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	store, err := index.Open(cfg.IndexPath(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing index", "error", err)
		}
	}()

	ctx := cmd.Context()
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Collection: %s\n", cfg.Collection)
	fmt.Printf("Path:       %s\n", cfg.IndexPath())
	fmt.Printf("Documents:  %d\n", stats.Documents)
	fmt.Printf("Chunks:     %d\n", stats.Chunks)

	docs, err := store.Documents(ctx)
	if err != nil {
		return err
	}
	if len(docs) > 0 {
		fmt.Println()
		for _, d := range docs {
			fmt.Printf("  %-40s %d chunk(s)\n", d.Name, d.Chunks)
		}
	}
	return nil
}

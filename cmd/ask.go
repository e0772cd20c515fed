package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat/internal/app"
	"github.com/docchat/docchat/internal/chatbot"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a single question about the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

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

	answer, err := a.Chatbot.Ask(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Println(answer.Text)
	printCitations(answer.Citations)
	return nil
}

// printCitations lists the source documents an answer drew on.
func printCitations(citations []chatbot.Citation) {
	if len(citations) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for i, c := range citations {
		fmt.Printf("  %d. %s (%d chunk(s))\n", i+1, c.DocumentName, len(c.ChunkIDs))
	}
}

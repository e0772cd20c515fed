package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docchat/docchat/internal/app"
	"github.com/docchat/docchat/internal/chatbot"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session over the indexed documents",
	Long: `Start a multi-turn chat session. Follow-up questions see the earlier
exchanges, so "and what about contractors?" resolves against the previous
question. Type /help inside the session for the session commands.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
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

	stats, err := a.Store.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("docchat — collection %q (%d documents, %d chunks)\n", cfg.Collection, stats.Documents, stats.Chunks)
	fmt.Println(`Type a question, or /help for commands.`)

	return chatLoop(ctx, a, os.Stdin, os.Stdout)
}

// chatLoop reads questions line by line until EOF or /quit.
func chatLoop(ctx context.Context, a *app.App, in io.Reader, out io.Writer) error {
	var lastCitations []chatbot.Citation
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := handleCommand(ctx, a, out, line, lastCitations)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
			continue
		}

		answer, err := a.Chatbot.Ask(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		fmt.Fprintln(out, answer.Text)
		lastCitations = answer.Citations
		if len(answer.Citations) > 0 {
			names := make([]string, len(answer.Citations))
			for i, c := range answer.Citations {
				names[i] = c.DocumentName
			}
			fmt.Fprintf(out, "[sources: %s]\n", strings.Join(names, ", "))
		}
	}
}

// handleCommand runs one /command. It reports whether the session should
// end.
func handleCommand(ctx context.Context, a *app.App, out io.Writer, line string, lastCitations []chatbot.Citation) (bool, error) {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true, nil

	case "/clear":
		a.Chatbot.Conversation().Clear()
		fmt.Fprintln(out, "conversation cleared")

	case "/sources":
		if len(lastCitations) == 0 {
			fmt.Fprintln(out, "no sources yet; ask a question first")
			break
		}
		for i, c := range lastCitations {
			fmt.Fprintf(out, "%d. %s\n", i+1, c.DocumentName)
			for _, id := range c.ChunkIDs {
				fmt.Fprintf(out, "   %s\n", id)
			}
		}

	case "/stats":
		stats, err := a.Store.Stats(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "documents: %d\nchunks: %d\nconversation turns: %d\n",
			stats.Documents, stats.Chunks, a.Chatbot.Conversation().Len())

	case "/help":
		fmt.Fprintln(out, `/clear     forget the conversation so far
/sources   show the chunks behind the last answer
/stats     show index and session counters
/quit      leave the session`)

	default:
		fmt.Fprintf(out, "unknown command %q; try /help\n", line)
	}

	return false, nil
}

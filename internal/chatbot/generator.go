package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/docchat/docchat/internal/conversation"
)

// ErrGenerationFailed indicates the language model could not produce an
// answer after all retries.
var ErrGenerationFailed = errors.New("answer generation failed")

// RetryConfig bounds retries of transient model failures.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns defaults suited to a local Ollama server.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups transient-error substrings by category,
// matched case-insensitively. Genkit and the Ollama plugin do not expose
// typed errors for these, so string matching is the only handle.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},
	{"500", "502", "503", "504", "unavailable"},
	{"connection reset", "connection refused", "timeout", "temporary"},
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}

// LLMGenerator produces answers through a Genkit-registered Ollama model.
type LLMGenerator struct {
	g       *genkit.Genkit
	model   string
	retry   RetryConfig
	timeout time.Duration
	logger  *slog.Logger
}

// NewLLMGenerator creates a generator for the named Ollama model. timeout
// bounds each individual model call; zero means no per-call deadline.
func NewLLMGenerator(g *genkit.Genkit, model string, retry RetryConfig, timeout time.Duration, logger *slog.Logger) *LLMGenerator {
	if logger == nil {
		logger = slog.Default()
	}

	return &LLMGenerator{
		g:       g,
		model:   model,
		retry:   retry,
		timeout: timeout,
		logger:  logger,
	}
}

// Generate produces an answer to question grounded in docContext, with
// history supplying the multi-turn backdrop. Transient failures are
// retried with exponential backoff; exhaustion surfaces as
// ErrGenerationFailed.
func (l *LLMGenerator) Generate(ctx context.Context, system, docContext, question string, history []conversation.Turn) (string, error) {
	messages := buildMessages(docContext, question, history)

	var lastErr error
	delay := l.retry.InitialInterval

	for attempt := 0; attempt <= l.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			l.logger.Warn("retrying generation",
				"attempt", attempt,
				"max_retries", l.retry.MaxRetries,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", ErrGenerationFailed, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > l.retry.MaxInterval {
				delay = l.retry.MaxInterval
			}
		}

		text, err := l.generateOnce(ctx, system, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryableError(err) {
			break
		}
	}

	return "", fmt.Errorf("%w: %w", ErrGenerationFailed, lastErr)
}

func (l *LLMGenerator) generateOnce(ctx context.Context, system string, messages []*ai.Message) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	resp, err := genkit.Generate(ctx, l.g,
		ai.WithModelName("ollama/"+l.model),
		ai.WithSystem(system),
		ai.WithMessages(messages...),
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// buildMessages lays out history, the document context, and the current
// question as a chat transcript. Context rides inside the final user
// message so the model reads it adjacent to the question it answers.
func buildMessages(docContext, question string, history []conversation.Turn) []*ai.Message {
	messages := make([]*ai.Message, 0, len(history)+1)

	for _, turn := range history {
		switch turn.Role {
		case conversation.RoleUser:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(turn.Text)))
		case conversation.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(turn.Text)))
		}
	}

	var final strings.Builder
	if docContext != "" {
		final.WriteString("Documents:\n\n")
		final.WriteString(docContext)
		final.WriteString("\n\nQuestion: ")
	}
	final.WriteString(question)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(final.String())))

	return messages
}

// Package embed wraps the external embedding service behind a small
// gateway. All vectors produced by one Gateway share a single model and
// dimensionality; the index records both so a mismatch at query time is
// detected instead of silently returning wrong results.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/time/rate"
)

// ErrServiceUnavailable indicates the embedding service could not be
// reached or returned malformed output after all retries.
var ErrServiceUnavailable = errors.New("embedding service unavailable")

// RetryConfig bounds the exponential backoff applied to failed calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for a local model server.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Gateway converts text into fixed-dimensional vectors via an ai.Embedder.
//
// Gateway is safe for concurrent use.
type Gateway struct {
	embedder ai.Embedder
	model    string
	retry    RetryConfig
	limiter  *rate.Limiter // nil = unlimited
	logger   *slog.Logger
}

// New creates a Gateway for the given embedder.
// model is the embedding model identifier recorded alongside the index.
// limiter may be nil to disable client-side rate limiting.
func New(embedder ai.Embedder, model string, retry RetryConfig, limiter *rate.Limiter, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxRetries == 0 && retry.InitialInterval == 0 {
		retry = DefaultRetryConfig()
	}

	return &Gateway{
		embedder: embedder,
		model:    model,
		retry:    retry,
		limiter:  limiter,
		logger:   logger,
	}
}

// Model returns the embedding model identifier.
func (g *Gateway) Model() string {
	return g.model
}

// Embed converts a single text into a vector.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch converts texts into vectors, order-preserving, one vector per
// input. The batch fails atomically: on any error no partial vectors are
// returned, so callers can retry the whole batch.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]*ai.Document, len(texts))
	for i, text := range texts {
		input[i] = ai.DocumentFromText(text, nil)
	}

	resp, err := g.embedWithRetry(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			ErrServiceUnavailable, len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	var dim int
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at position %d", ErrServiceUnavailable, i)
		}
		if dim == 0 {
			dim = len(emb.Embedding)
		} else if len(emb.Embedding) != dim {
			return nil, fmt.Errorf("%w: inconsistent dimensions %d and %d in one batch",
				ErrServiceUnavailable, dim, len(emb.Embedding))
		}
		vectors[i] = emb.Embedding
	}

	return vectors, nil
}

// embedWithRetry calls the embedder with bounded exponential backoff.
// The rate limiter gates every attempt, retries included.
func (g *Gateway) embedWithRetry(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	var lastErr error
	delay := g.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := g.embedder.Embed(ctx, req)
		if err == nil {
			g.logger.Debug("embedding call succeeded",
				"inputs", len(req.Input),
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}

		lastErr = err

		// Cancellation is the caller's decision, never retried.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
		}

		if attempt == g.retry.MaxRetries {
			break
		}

		g.logger.Debug("retrying embedding call",
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: canceled during retry: %v", ErrServiceUnavailable, ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, g.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("%w: after %d retries: %v", ErrServiceUnavailable, g.retry.MaxRetries, lastErr)
}

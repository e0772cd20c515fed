// Package retriever turns a free-text question into ranked knowledge-base
// chunks. It embeds the query (optionally rewritten with recent
// conversation turns so follow-ups resolve their referents) and delegates
// the nearest-neighbor search to the vector index.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docchat/docchat/internal/conversation"
	"github.com/docchat/docchat/internal/index"
)

// ErrEmptyKnowledgeBase indicates the index holds no chunks. Callers treat
// this as "no knowledge available", not as a crash.
var ErrEmptyKnowledgeBase = errors.New("knowledge base is empty")

// RewritePolicy controls how conversation history shapes the search text.
type RewritePolicy string

const (
	// RewriteNone searches with the raw question.
	RewriteNone RewritePolicy = "none"

	// RewriteConcat deterministically prepends recent user turns so
	// pronouns in follow-up questions still hit the right documents.
	RewriteConcat RewritePolicy = "concat"
)

// rewriteTurns is how many recent user turns RewriteConcat folds in.
const rewriteTurns = 2

// Embedder is the query-embedding dependency.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Searcher is the vector-index dependency.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]index.Result, error)
	CheckModel(ctx context.Context, model string, dim int) error
	Stats(ctx context.Context) (index.Stats, error)
}

// Retriever performs semantic search over the knowledge base.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	policy   RewritePolicy
	logger   *slog.Logger
}

// New creates a Retriever.
func New(embedder Embedder, searcher Searcher, policy RewritePolicy, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = RewriteConcat
	}

	return &Retriever{
		embedder: embedder,
		searcher: searcher,
		policy:   policy,
		logger:   logger,
	}
}

// Retrieve returns the top k chunks relevant to query. An empty index
// yields ErrEmptyKnowledgeBase; a model mismatch surfaces as
// index.ErrModelMismatch.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, history []conversation.Turn) ([]index.Result, error) {
	stats, err := r.searcher.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading index stats: %w", err)
	}
	if stats.Chunks == 0 {
		return nil, ErrEmptyKnowledgeBase
	}

	searchText := r.searchText(query, history)

	vector, err := r.embedder.Embed(ctx, searchText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	if err := r.searcher.CheckModel(ctx, r.embedder.Model(), len(vector)); err != nil {
		return nil, err
	}

	results, err := r.searcher.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}

	r.logger.Debug("retrieved chunks",
		"query_len", len(query),
		"results", len(results),
		"rewritten", searchText != query,
	)
	return results, nil
}

// searchText applies the rewrite policy to the raw query.
func (r *Retriever) searchText(query string, history []conversation.Turn) string {
	if r.policy != RewriteConcat || len(history) == 0 {
		return query
	}

	var recent []string
	for i := len(history) - 1; i >= 0 && len(recent) < rewriteTurns; i-- {
		if history[i].Role == conversation.RoleUser {
			recent = append([]string{history[i].Text}, recent...)
		}
	}
	if len(recent) == 0 {
		return query
	}

	return strings.Join(append(recent, query), "\n")
}

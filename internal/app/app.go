// Package app wires the application together: Genkit with the Ollama
// plugin, the vector index, and the pipeline components built on them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/ollama"
	"golang.org/x/time/rate"

	"github.com/docchat/docchat/internal/chatbot"
	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/document"
	"github.com/docchat/docchat/internal/embed"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/indexer"
	"github.com/docchat/docchat/internal/retriever"
)

// App holds the initialized application components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Genkit  *genkit.Genkit
	Store   *index.Store
	Gateway *embed.Gateway
	Indexer *indexer.Indexer
	Chatbot *chatbot.Chatbot
}

// Setup initializes every component. Call Close to release the index.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	g, embedderRef, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	store, err := index.Open(cfg.IndexPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening index %s: %w", cfg.IndexPath(), err)
	}
	a.Store = store

	a.Gateway = embed.New(embedderRef, cfg.EmbedderModel, embed.DefaultRetryConfig(), provideLimiter(cfg), logger)

	chunker := document.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	a.Indexer = indexer.New(a.Gateway, store, chunker, cfg.EmbedConcurrency, logger)

	ret := retriever.New(a.Gateway, store, retriever.RewriteConcat, logger)
	gen := chatbot.NewLLMGenerator(g, cfg.ModelName, chatbot.DefaultRetryConfig(), cfg.RequestTimeout, logger)
	a.Chatbot = chatbot.New(ret, gen, cfg.TopK, cfg.MaxContextChars, cfg.MaxHistoryTurns, logger)

	return a, nil
}

// Close releases resources. Safe to call on a partially built App.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

// provideGenkit initializes Genkit with the Ollama plugin and registers
// the chat model and the embedder. Ollama has no auto-discovery, so both
// must be defined explicitly.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, ai.Embedder, error) {
	plugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}

	g := genkit.Init(ctx, genkit.WithPlugins(plugin))
	if g == nil {
		return nil, nil, errors.New("initializing genkit with ollama plugin")
	}

	plugin.DefineModel(g, ollama.ModelDefinition{
		Name: cfg.ModelName,
		Type: "chat",
	}, nil)
	plugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)

	logger.Debug("genkit initialized",
		"ollama_host", cfg.OllamaHost,
		"model", cfg.ModelName,
		"embedder", cfg.EmbedderModel,
	)
	return g, ollama.Embedder(g, cfg.OllamaHost), nil
}

// provideLimiter builds the client-side embedding rate limiter, or nil
// when unlimited.
func provideLimiter(cfg *config.Config) *rate.Limiter {
	if cfg.EmbedRateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.EmbedRateLimit), 1)
}

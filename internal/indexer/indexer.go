// Package indexer runs the ingestion pipeline: discover supported files
// in a directory, extract and chunk their text, embed the chunks, and
// persist them into the vector index. Unchanged documents are detected by
// content hash and skipped; failures on individual documents do not abort
// the run.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docchat/docchat/internal/document"
	"github.com/docchat/docchat/internal/index"
)

// Embedder produces vectors for chunk texts.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Store is the index persistence the pipeline writes to.
type Store interface {
	Upsert(ctx context.Context, doc document.Document, records []index.Record, model string) error
	DocumentHash(ctx context.Context, docID string) (string, error)
	Reset(ctx context.Context) error
}

// Failure records one document the run could not index.
type Failure struct {
	Path string
	Err  error
}

// Result summarizes an indexing run.
type Result struct {
	Indexed   int // documents embedded and written this run
	Unchanged int // documents skipped because their content hash matched
	Skipped   int // unsupported or empty files
	Failed    int // documents that errored; see Failures
	Chunks    int // chunks written this run
	Duration  time.Duration
	Failures  []Failure
}

// Indexer ingests a directory of documents into the vector index.
type Indexer struct {
	embedder    Embedder
	store       Store
	chunker     *document.Chunker
	concurrency int
	logger      *slog.Logger
}

// New creates an Indexer. concurrency bounds how many documents are
// embedded in parallel; values below 1 mean sequential.
func New(embedder Embedder, store Store, chunker *document.Chunker, concurrency int, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}

	return &Indexer{
		embedder:    embedder,
		store:       store,
		chunker:     chunker,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run indexes every supported file under dir. With force set the index is
// cleared first, so every document is re-embedded regardless of its hash.
//
// Per-document failures are collected in the result rather than returned;
// Run itself errors only when the directory cannot be read, the index
// rejects the embedding model, or ctx is canceled.
func (ix *Indexer) Run(ctx context.Context, dir string, force bool) (Result, error) {
	start := time.Now()

	paths, skipped, err := document.ListDir(dir)
	if err != nil {
		return Result{}, fmt.Errorf("listing documents: %w", err)
	}

	if force {
		if err := ix.store.Reset(ctx); err != nil {
			return Result{}, fmt.Errorf("clearing index: %w", err)
		}
		ix.logger.Info("index cleared", "reason", "force")
	}

	var (
		mu     sync.Mutex
		result = Result{Skipped: skipped}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)

	for _, path := range paths {
		g.Go(func() error {
			outcome, chunks, err := ix.indexOne(gctx, path, force)
			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				result.Chunks += chunks
				switch outcome {
				case outcomeIndexed:
					result.Indexed++
				case outcomeUnchanged:
					result.Unchanged++
				case outcomeEmpty:
					result.Skipped++
				}
			case errors.Is(err, index.ErrModelMismatch) || gctx.Err() != nil:
				// Fatal: every remaining document would fail the same way.
				return err
			default:
				result.Failed++
				result.Failures = append(result.Failures, Failure{Path: path, Err: err})
				ix.logger.Warn("document failed", "path", path, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].Path < result.Failures[j].Path
	})

	result.Duration = time.Since(start)
	ix.logger.Info("indexing finished",
		"indexed", result.Indexed,
		"unchanged", result.Unchanged,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"chunks", result.Chunks,
		"duration", result.Duration,
	)
	return result, nil
}

type outcome int

const (
	outcomeIndexed outcome = iota
	outcomeUnchanged
	outcomeEmpty
)

func (ix *Indexer) indexOne(ctx context.Context, path string, force bool) (outcome, int, error) {
	doc, err := document.Load(path)
	if err != nil {
		return 0, 0, fmt.Errorf("loading: %w", err)
	}

	if !force {
		prev, err := ix.store.DocumentHash(ctx, doc.ID)
		if err != nil {
			return 0, 0, fmt.Errorf("reading stored hash: %w", err)
		}
		if prev == doc.Hash {
			ix.logger.Debug("document unchanged", "name", doc.Name)
			return outcomeUnchanged, 0, nil
		}
	}

	chunks := ix.chunker.Split(doc)
	if len(chunks) == 0 {
		ix.logger.Debug("document empty", "name", doc.Name)
		return outcomeEmpty, 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, 0, fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}

	records := make([]index.Record, len(chunks))
	for i, c := range chunks {
		records[i] = index.Record{Chunk: c, Vector: vectors[i]}
	}

	if err := ix.store.Upsert(ctx, doc, records, ix.embedder.Model()); err != nil {
		return 0, 0, fmt.Errorf("writing index: %w", err)
	}

	ix.logger.Debug("document indexed", "name", doc.Name, "chunks", len(chunks))
	return outcomeIndexed, len(chunks), nil
}

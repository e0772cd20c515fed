package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/docchat/docchat/internal/document"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Model() string { return "nomic-embed-text" }

type fakeStore struct {
	mu       sync.Mutex
	hashes   map[string]string // docID -> content hash
	upserts  map[string]int    // docID -> record count
	resets   int
	upsertEr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: map[string]string{}, upserts: map[string]int{}}
}

func (f *fakeStore) Upsert(ctx context.Context, doc document.Document, records []index.Record, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertEr != nil {
		return f.upsertEr
	}
	f.hashes[doc.ID] = doc.Hash
	f.upserts[doc.ID] = len(records)
	return nil
}

func (f *fakeStore) DocumentHash(ctx context.Context, docID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[docID], nil
}

func (f *fakeStore) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.hashes = map[string]string{}
	f.upserts = map[string]int{}
	return nil
}

func writeCorpus(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, text := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
	}
	return dir
}

func TestRun_IndexesSupportedFiles(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"policy.txt":  "vacation policy text",
		"handbook.md": "employee handbook text",
		"image.png":   "not a document",
	})

	store := newFakeStore()
	ix := New(&fakeEmbedder{}, store, document.NewChunker(500, 50), 2, log.NewNop())

	result, err := ix.Run(context.Background(), dir, false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 1, result.Skipped, "unsupported extension should be skipped")
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 2, result.Chunks)
	assert.Len(t, store.upserts, 2)
}

func TestRun_UnchangedDocumentsSkipEmbedding(t *testing.T) {
	dir := writeCorpus(t, map[string]string{"policy.txt": "stable content"})

	store := newFakeStore()
	embedder := &fakeEmbedder{}
	ix := New(embedder, store, document.NewChunker(500, 50), 1, log.NewNop())

	_, err := ix.Run(context.Background(), dir, false)
	require.NoError(t, err)

	result, err := ix.Run(context.Background(), dir, false)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Indexed)
	assert.Equal(t, 1, result.Unchanged)
	assert.Equal(t, 1, embedder.calls, "second run must not re-embed")
}

func TestRun_ChangedDocumentReindexed(t *testing.T) {
	dir := writeCorpus(t, map[string]string{"policy.txt": "first version"})

	store := newFakeStore()
	ix := New(&fakeEmbedder{}, store, document.NewChunker(500, 50), 1, log.NewNop())

	_, err := ix.Run(context.Background(), dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy.txt"), []byte("second version"), 0o644))

	result, err := ix.Run(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 0, result.Unchanged)
}

func TestRun_ForceClearsAndReindexes(t *testing.T) {
	dir := writeCorpus(t, map[string]string{"policy.txt": "same content"})

	store := newFakeStore()
	embedder := &fakeEmbedder{}
	ix := New(embedder, store, document.NewChunker(500, 50), 1, log.NewNop())

	_, err := ix.Run(context.Background(), dir, false)
	require.NoError(t, err)

	result, err := ix.Run(context.Background(), dir, true)
	require.NoError(t, err)

	assert.Equal(t, 1, store.resets)
	assert.Equal(t, 1, result.Indexed, "force re-embeds even unchanged documents")
	assert.Equal(t, 2, embedder.calls)
}

func TestRun_PerDocumentFailureDoesNotAbort(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"good.txt":   "readable content",
		"broken.pdf": "this is not a real pdf",
	})

	store := newFakeStore()
	ix := New(&fakeEmbedder{}, store, document.NewChunker(500, 50), 2, log.NewNop())

	result, err := ix.Run(context.Background(), dir, false)
	require.NoError(t, err, "one broken document must not fail the run")

	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Path, "broken.pdf")
}

func TestRun_ModelMismatchIsFatal(t *testing.T) {
	dir := writeCorpus(t, map[string]string{"policy.txt": "content"})

	store := newFakeStore()
	store.upsertEr = index.ErrModelMismatch
	ix := New(&fakeEmbedder{}, store, document.NewChunker(500, 50), 1, log.NewNop())

	_, err := ix.Run(context.Background(), dir, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, index.ErrModelMismatch)
}

func TestRun_EmbeddingFailureRecorded(t *testing.T) {
	dir := writeCorpus(t, map[string]string{"policy.txt": "content"})

	embedErr := errors.New("ollama unreachable")
	ix := New(&fakeEmbedder{err: embedErr}, newFakeStore(), document.NewChunker(500, 50), 1, log.NewNop())

	result, err := ix.Run(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.ErrorIs(t, result.Failures[0].Err, embedErr)
}

func TestRun_MissingDirectory(t *testing.T) {
	ix := New(&fakeEmbedder{}, newFakeStore(), document.NewChunker(500, 50), 1, log.NewNop())

	_, err := ix.Run(context.Background(), filepath.Join(t.TempDir(), "absent"), false)
	require.Error(t, err)
}

func TestRun_EmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	ix := New(&fakeEmbedder{}, newFakeStore(), document.NewChunker(500, 50), 1, log.NewNop())

	result, err := ix.Run(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Zero(t, result.Indexed)
	assert.Zero(t, result.Failed)
}

func TestRun_ConcurrentRunIsDeterministic(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 12; i++ {
		files[fmt.Sprintf("doc%02d.txt", i)] = fmt.Sprintf("document number %d body", i)
	}
	dir := writeCorpus(t, files)

	store := newFakeStore()
	ix := New(&fakeEmbedder{}, store, document.NewChunker(500, 50), 4, log.NewNop())

	result, err := ix.Run(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 12, result.Indexed)
	assert.Len(t, store.upserts, 12)
}

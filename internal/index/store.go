// Package index implements the persistent vector index backing the
// knowledge base. One SQLite database per collection holds documents,
// their chunks with embedded vectors, and the embedding-model metadata
// that versions the whole index.
//
// Similarity is cosine over float32 vectors; ties are broken by insertion
// order (chunk rowid ascending) so retrieval is deterministic.
package index

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/docchat/docchat/internal/document"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrModelMismatch indicates the query embedding's model or dimensionality
// differs from what the index was built with. The index must be rebuilt
// with --force before it can serve this embedder.
var ErrModelMismatch = errors.New("index embedding model mismatch")

// meta table keys.
const (
	metaEmbedderModel = "embedder_model"
	metaEmbeddingDim  = "embedding_dim"
)

// Record pairs a chunk with its embedding vector for insertion.
type Record struct {
	Chunk  document.Chunk
	Vector []float32
}

// Result is a search hit: a chunk plus its similarity score (higher is
// more relevant).
type Result struct {
	Chunk document.Chunk
	Score float64
}

// Stats summarizes index contents.
type Stats struct {
	Documents int
	Chunks    int
}

// Store is the durable vector index for one collection.
//
// Readers may proceed concurrently; writes take the exclusive lock so a
// search never observes a partially committed document. A file lock
// additionally serializes writers across processes.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	fl     *flock.Flock
	logger *slog.Logger
}

// Open opens (creating if needed) the index database at path and applies
// pending schema migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	// The pragmas ride in the DSN so the driver applies them to every
	// pooled connection. Issued via Exec they would configure only the
	// one connection that happened to serve the call, and cascading
	// deletes would silently stop working on the others.
	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}

	if err := migrateSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		fl:     flock.New(path + ".lock"),
		logger: logger,
	}, nil
}

// migrateSchema applies embedded migrations to the open database.
func migrateSchema(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migrate driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckModel verifies that model and dim match what the index was built
// with. An empty index adopts the given model on first write (via Upsert);
// here, missing metadata only fails when the index already holds chunks.
func (s *Store) CheckModel(ctx context.Context, model string, dim int) error {
	storedModel, err := s.metaValue(ctx, metaEmbedderModel)
	if err != nil {
		return err
	}
	storedDim, err := s.metaValue(ctx, metaEmbeddingDim)
	if err != nil {
		return err
	}

	if storedModel == "" && storedDim == "" {
		return nil
	}
	if storedModel != model {
		return fmt.Errorf("%w: index built with model %q, query uses %q; re-index with --force",
			ErrModelMismatch, storedModel, model)
	}
	if storedDim != strconv.Itoa(dim) {
		return fmt.Errorf("%w: index dimension %s, query dimension %d; re-index with --force",
			ErrModelMismatch, storedDim, dim)
	}
	return nil
}

// Upsert atomically replaces all chunks of one document. Either every
// record commits or none do, so a partially indexed document can never
// surface in citations. The first write records the embedding model and
// dimensionality; later writes must match them.
func (s *Store) Upsert(ctx context.Context, doc document.Document, records []Record, model string) error {
	dim := 0
	for _, rec := range records {
		if dim == 0 {
			dim = len(rec.Vector)
		} else if len(rec.Vector) != dim {
			return fmt.Errorf("record %q dimension %d differs from %d", rec.Chunk.ID, len(rec.Vector), dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Cross-process write lock; in-process writers are already serialized
	// by the mutex.
	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("acquiring index write lock: %w", err)
	}
	defer func() {
		_ = s.fl.Unlock()
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if len(records) > 0 {
		if err := s.ensureModelTx(ctx, tx, model, dim); err != nil {
			return err
		}
	}

	// Replace the document wholesale; ON DELETE CASCADE clears old chunks.
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, doc.ID); err != nil {
		return fmt.Errorf("deleting previous document %q: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, name, path, content_hash, chunk_count, indexed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.Path, doc.Hash, len(records), doc.IngestedAt,
	); err != nil {
		return fmt.Errorf("inserting document %q: %w", doc.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, seq, start_offset, end_offset, content, embedding) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	for _, rec := range records {
		ch := rec.Chunk
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Seq, ch.Start, ch.End, ch.Text, encodeVector(rec.Vector),
		); err != nil {
			return fmt.Errorf("inserting chunk %q: %w", ch.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing document %q: %w", doc.ID, err)
	}

	s.logger.Debug("upserted document", "id", doc.ID, "name", doc.Name, "chunks", len(records))
	return nil
}

// ensureModelTx records the embedding model on first write and rejects
// writes from a different model afterwards.
func (s *Store) ensureModelTx(ctx context.Context, tx *sql.Tx, model string, dim int) error {
	var stored string
	err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaEmbedderModel).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES (?, ?), (?, ?)`,
			metaEmbedderModel, model, metaEmbeddingDim, strconv.Itoa(dim),
		); err != nil {
			return fmt.Errorf("recording embedding model: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("reading embedding model: %w", err)
	}

	if stored != model {
		return fmt.Errorf("%w: index built with model %q, write uses %q; re-index with --force",
			ErrModelMismatch, stored, model)
	}

	var storedDim string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaEmbeddingDim).Scan(&storedDim); err != nil {
		return fmt.Errorf("reading embedding dimension: %w", err)
	}
	if storedDim != strconv.Itoa(dim) {
		return fmt.Errorf("%w: index dimension %s, write dimension %d; re-index with --force",
			ErrModelMismatch, storedDim, dim)
	}
	return nil
}

// Delete removes a document and all of its chunks.
func (s *Store) Delete(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("acquiring index write lock: %w", err)
	}
	defer func() {
		_ = s.fl.Unlock()
	}()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID); err != nil {
		return fmt.Errorf("deleting document %q: %w", docID, err)
	}

	s.logger.Debug("deleted document", "id", docID)
	return nil
}

// Reset drops every document, chunk and model record. Used by force
// re-indexing to rebuild the collection from scratch.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("acquiring index write lock: %w", err)
	}
	defer func() {
		_ = s.fl.Unlock()
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, table := range []string{"documents", "meta"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reset: %w", err)
	}

	s.logger.Info("index reset")
	return nil
}

// Search returns the top k chunks by cosine similarity to vector.
// An empty index yields an empty result, not an error. Queries never
// mutate the index, so cancellation mid-search is always safe.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.document_id, d.name, c.seq, c.start_offset, c.end_offset, c.content, c.embedding
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		ORDER BY c.rowid`)
	if err != nil {
		return nil, fmt.Errorf("scanning chunks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []Result
	for rows.Next() {
		var ch document.Chunk
		var blob []byte
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.DocumentName,
			&ch.Seq, &ch.Start, &ch.End, &ch.Text, &blob); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}

		stored, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("chunk %q: %w", ch.ID, err)
		}
		if len(stored) != len(vector) {
			return nil, fmt.Errorf("%w: stored dimension %d, query dimension %d; re-index with --force",
				ErrModelMismatch, len(stored), len(vector))
		}

		results = append(results, Result{Chunk: ch, Score: cosineSimilarity(vector, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	// Stable sort keeps insertion order among equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Stats reports document and chunk counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&st.Documents); err != nil {
		return Stats{}, fmt.Errorf("counting documents: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&st.Chunks); err != nil {
		return Stats{}, fmt.Errorf("counting chunks: %w", err)
	}
	return st, nil
}

// Documents lists indexed documents with their chunk counts, newest first.
func (s *Store) Documents(ctx context.Context) ([]DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, chunk_count FROM documents ORDER BY indexed_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var infos []DocumentInfo
	for rows.Next() {
		var info DocumentInfo
		if err := rows.Scan(&info.ID, &info.Name, &info.Chunks); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// DocumentInfo is a listing entry for one indexed document.
type DocumentInfo struct {
	ID     string
	Name   string
	Chunks int
}

// DocumentHash returns the stored content hash for docID, or "" when the
// document has never been indexed.
func (s *Store) DocumentHash(ctx context.Context, docID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT content_hash FROM documents WHERE id = ?`, docID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading hash for %q: %w", docID, err)
	}
	return hash, nil
}

// metaValue reads one meta key, returning "" when absent.
func (s *Store) metaValue(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading meta %q: %w", key, err)
	}
	return value, nil
}

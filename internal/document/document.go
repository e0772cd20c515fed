// Package document provides document loading and chunking for the
// knowledge base. Documents are the unit of ingestion; chunks are the
// unit of retrieval.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document is a single source file loaded for indexing. Immutable once
// loaded; re-indexing replaces it wholesale.
type Document struct {
	ID         string    // stable identifier derived from the source name
	Name       string    // file name, used in citations
	Path       string    // absolute source path
	Text       string    // extracted plain text
	Hash       string    // sha256 of Text, drives incremental indexing
	IngestedAt time.Time
}

// Chunk is a bounded text window cut from a document.
type Chunk struct {
	ID           string // DocumentID + ":" + start offset; stable across re-runs
	DocumentID   string
	DocumentName string
	Text         string
	Start        int // rune offset of the window start within the document
	End          int // rune offset one past the window end
	Seq          int // position in the document's chunk sequence
	PrevID       string // overlap-adjacent predecessor, "" for the first chunk
	NextID       string // overlap-adjacent successor, "" for the last chunk
}

// NewID derives a stable document ID from the source file name.
// Using the name rather than the absolute path keeps IDs identical when
// the same corpus is indexed from different checkout locations.
func NewID(name string) string {
	sum := sha256.Sum256([]byte(name))
	return "doc_" + hex.EncodeToString(sum[:16])
}

// HashText returns the content hash used for change detection.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

package chatbot

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat/internal/document"
	"github.com/docchat/docchat/internal/index"
)

func result(docID, docName, chunkID, text string, score float64) index.Result {
	return index.Result{
		Chunk: document.Chunk{
			ID:           chunkID,
			DocumentID:   docID,
			DocumentName: docName,
			Text:         text,
		},
		Score: score,
	}
}

func TestAssemble_HeadersAndOrder(t *testing.T) {
	results := []index.Result{
		result("d1", "policy.txt", "d1:0", "fifteen vacation days", 0.9),
		result("d2", "handbook.md", "d2:0", "remote work allowed", 0.8),
	}

	asm := Assemble(results, 10_000)

	assert.Contains(t, asm.Context, "[Document 1 - policy.txt]:\nfifteen vacation days")
	assert.Contains(t, asm.Context, "[Document 2 - handbook.md]:\nremote work allowed")
	assert.Less(t,
		strings.Index(asm.Context, "policy.txt"),
		strings.Index(asm.Context, "handbook.md"),
		"higher-scored chunk must come first")
	assert.Equal(t, 2, asm.Included)
}

func TestAssemble_SameDocumentSharesNumber(t *testing.T) {
	results := []index.Result{
		result("d1", "policy.txt", "d1:0", "first chunk", 0.9),
		result("d2", "handbook.md", "d2:0", "other doc", 0.8),
		result("d1", "policy.txt", "d1:450", "second chunk", 0.7),
	}

	asm := Assemble(results, 10_000)

	assert.Equal(t, 2, strings.Count(asm.Context, "[Document 1 - policy.txt]:"))
	require.Len(t, asm.Citations, 2, "citations dedupe by document")
	assert.Equal(t, "policy.txt", asm.Citations[0].DocumentName)
	assert.Equal(t, []string{"d1:0", "d1:450"}, asm.Citations[0].ChunkIDs)
	assert.Equal(t, []string{"d2:0"}, asm.Citations[1].ChunkIDs)
}

func TestAssemble_BudgetDropsLowestScored(t *testing.T) {
	long := strings.Repeat("x", 200)
	results := []index.Result{
		result("d1", "a.txt", "d1:0", long, 0.9),
		result("d2", "b.txt", "d2:0", long, 0.5),
		result("d3", "c.txt", "d3:0", "tiny", 0.2),
	}

	// Budget fits the first block but not the second.
	asm := Assemble(results, 260)

	assert.Equal(t, 1, asm.Included)
	assert.Equal(t, 2, asm.Dropped)
	assert.Contains(t, asm.Context, "a.txt")
	assert.NotContains(t, asm.Context, "b.txt")
	// The included set is a prefix of the relevance order: once a chunk
	// is dropped, nothing below it may slip in, however small.
	assert.NotContains(t, asm.Context, "c.txt")
	assert.NotContains(t, asm.Context, "tiny")
}

func TestAssemble_NoOrphanCitations(t *testing.T) {
	long := strings.Repeat("x", 200)
	results := []index.Result{
		result("d1", "a.txt", "d1:0", long, 0.9),
		result("d2", "b.txt", "d2:0", long, 0.5),
	}

	asm := Assemble(results, 260)

	require.Len(t, asm.Citations, 1, "dropped chunks must not be cited")
	assert.Equal(t, "d1", asm.Citations[0].DocumentID)
}

func TestAssemble_OversizedTopChunkTruncated(t *testing.T) {
	results := []index.Result{
		result("d1", "a.txt", "d1:0", strings.Repeat("y", 500), 0.9),
	}

	asm := Assemble(results, 100)

	assert.Equal(t, 1, asm.Included, "sole best chunk is truncated, not dropped")
	assert.LessOrEqual(t, len(asm.Context), 100)
	assert.Contains(t, asm.Context, "[Document 1 - a.txt]:")
}

func TestAssemble_TruncationKeepsValidUTF8(t *testing.T) {
	results := []index.Result{
		result("d1", "a.txt", "d1:0", strings.Repeat("日本語テキスト", 100), 0.9),
	}

	asm := Assemble(results, 64)

	assert.True(t, strings.ToValidUTF8(asm.Context, "") == asm.Context,
		"truncation must not split a rune")
}

func TestAssemble_Empty(t *testing.T) {
	asm := Assemble(nil, 1000)
	assert.Empty(t, asm.Context)
	assert.Empty(t, asm.Citations)
	assert.Zero(t, asm.Included)
}

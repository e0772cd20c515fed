package chatbot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/docchat/docchat/internal/index"
)

// Citation identifies a source document the answer drew on, with the
// chunks that actually made it into the prompt. No citation is emitted
// for a chunk the budget excluded.
type Citation struct {
	DocumentID   string
	DocumentName string
	ChunkIDs     []string
}

// Assembly is the prompt context built from retrieved chunks.
type Assembly struct {
	Context   string
	Citations []Citation
	Included  int // chunks that fit the budget
	Dropped   int // chunks truncated away
}

// Assemble formats retrieved chunks into a prompt context bounded by
// maxChars. Chunks are taken in relevance order; when the budget
// overflows, the lowest-scored chunks are dropped first. Each chunk is
// prefixed with a document header so the model can attribute statements.
//
// If even the single best chunk exceeds the budget it is truncated rather
// than dropped, so a non-empty retrieval always yields some context.
func Assemble(results []index.Result, maxChars int) Assembly {
	if len(results) == 0 || maxChars <= 0 {
		return Assembly{Dropped: len(results)}
	}

	var (
		b        strings.Builder
		asm      Assembly
		docOrder []string                 // first-seen document order
		byDoc    = map[string]*Citation{} // documentID -> citation
		docNum   = map[string]int{}       // documentID -> header number
	)

	for i, res := range results {
		n, seen := docNum[res.Chunk.DocumentID]
		if !seen {
			n = len(docNum) + 1
		}

		block := fmt.Sprintf("[Document %d - %s]:\n%s\n\n", n, res.Chunk.DocumentName, res.Chunk.Text)

		if b.Len()+len(block) > maxChars {
			// Truncation removes whole chunks from the lowest score
			// upward, so the included set is always a prefix of the
			// relevance order; a shorter low-scored chunk never displaces
			// a higher-scored one.
			if asm.Included > 0 {
				asm.Dropped += len(results) - i
				break
			}
			block = truncateBlock(block, maxChars)
			if block == "" {
				asm.Dropped += len(results) - i
				break
			}
		}

		b.WriteString(block)
		asm.Included++

		if !seen {
			docNum[res.Chunk.DocumentID] = n
			docOrder = append(docOrder, res.Chunk.DocumentID)
			byDoc[res.Chunk.DocumentID] = &Citation{
				DocumentID:   res.Chunk.DocumentID,
				DocumentName: res.Chunk.DocumentName,
			}
		}
		byDoc[res.Chunk.DocumentID].ChunkIDs = append(byDoc[res.Chunk.DocumentID].ChunkIDs, res.Chunk.ID)
	}

	asm.Context = strings.TrimRight(b.String(), "\n")
	for _, id := range docOrder {
		asm.Citations = append(asm.Citations, *byDoc[id])
	}
	return asm
}

// truncateBlock cuts block to at most maxChars bytes on a rune boundary.
func truncateBlock(block string, maxChars int) string {
	if len(block) <= maxChars {
		return block
	}
	cut := block[:maxChars]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

package document

import "strconv"

// Chunker splits document text into overlapping fixed-size windows.
// Windows slide by a fixed stride (size - overlap), so context at chunk
// boundaries is shared between neighbors. Splitting is deterministic:
// the same text always yields byte-identical chunk sequences.
type Chunker struct {
	size    int // window length in runes
	overlap int // shared runes between consecutive windows
}

// NewChunker creates a chunker. size must be positive and overlap must be
// in [0, size); the config layer validates this before construction.
func NewChunker(size, overlap int) *Chunker {
	return &Chunker{size: size, overlap: overlap}
}

// Split cuts doc.Text into chunks. An empty document yields nil (a no-op,
// not an error); a document shorter than one window yields exactly one
// chunk. The final chunk may be shorter than the nominal size.
//
// Offsets are rune-based so multi-byte text never splits inside a
// character.
func (c *Chunker) Split(doc Document) []Chunk {
	runes := []rune(doc.Text)
	if len(runes) == 0 {
		return nil
	}

	stride := c.size - c.overlap
	var chunks []Chunk

	for start := 0; start < len(runes); start += stride {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, Chunk{
			ID:           chunkID(doc.ID, start),
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			Text:         string(runes[start:end]),
			Start:        start,
			End:          end,
			Seq:          len(chunks),
		})

		if end == len(runes) {
			break
		}
	}

	// Link overlap-adjacent neighbors for traceability.
	for i := range chunks {
		if i > 0 {
			chunks[i].PrevID = chunks[i-1].ID
		}
		if i < len(chunks)-1 {
			chunks[i].NextID = chunks[i+1].ID
		}
	}

	return chunks
}

func chunkID(docID string, start int) string {
	return docID + ":" + strconv.Itoa(start)
}

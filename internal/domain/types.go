package domain

import "time"

// Page is one page of extracted text, produced by an external extraction
// step. Pages are immutable inputs to the pipeline.
type Page struct {
	FileID string
	PageNo int // 1-based
	Text   string
}

// Chunk is a retrieval-sized, token-bounded unit of a page's text. It is the
// atomic object embedded, indexed and retrieved. Embedding and CreatedAt are
// populated by the embedding batcher; until then the chunk is not eligible
// for indexing.
type Chunk struct {
	ChunkID   string    `json:"chunk_id"`
	FileID    string    `json:"file_id"`
	PageNo    int       `json:"page_no"`
	Ord       int       `json:"ord"` // 0-based position within the page
	NTokens   int       `json:"n_tokens"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Embedded reports whether the chunk has been assigned a vector.
func (c Chunk) Embedded() bool { return len(c.Embedding) > 0 }

// SearchResult is a matching chunk with a relevance score under the index's
// similarity metric. Higher scores mean more relevant.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// IngestReport summarizes one ingestion run. Failed IDs stay eligible for
// re-processing on the next run; identical content produces identical chunk
// IDs, so retries overwrite instead of duplicating.
type IngestReport struct {
	RunID           string
	Files           int
	Pages           int
	ChunksAttempted int
	ChunksEmbedded  int
	ChunksIndexed   int
	FailedEmbedIDs  []string
	FailedIndexIDs  []string
	SkippedIDs      []string
}

// Answer is the query-time output: generated text plus the retrieved context
// it was grounded on, in retrieval order.
type Answer struct {
	Text    string
	Sources []SearchResult
}

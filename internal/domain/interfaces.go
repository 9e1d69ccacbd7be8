package domain

import "context"

// Chunker splits extracted page text into ordered chunk records.
type Chunker interface {
	ChunkPage(fileID string, pageNo int, text string) []Chunk
	ChunkDocument(pages []Page) []Chunk
}

// Embedder converts text into fixed-length vectors via an external provider.
// EmbedBatch must return exactly one vector per input text, in input order.
type Embedder interface {
	Name() string
	Dimensions() int
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	EmbedQuery(ctx context.Context, text string) ([]float64, error)
}

// BatchEmbedder runs the embedding stage over a chunk set, mutating chunks
// in place. Failed batches are reported by chunk ID and do not abort the run.
type BatchEmbedder interface {
	EmbedChunks(ctx context.Context, chunks []Chunk) (embedded int, failedIDs []string, err error)
}

// BulkResult reports the outcome of one bulk upsert call.
type BulkResult struct {
	Indexed int
	Skipped []string // chunk IDs without an embedding, not sent
	Failed  []string // chunk IDs rejected by the engine
}

// VectorIndex is the contract against the vector search engine. The ANN
// implementation behind it is a black box; only the schema and the k-NN
// query semantics are relied upon.
type VectorIndex interface {
	// EnsureIndex creates the index with a vector field of the given
	// dimensionality if it does not exist. It never mutates an existing
	// index; a dimensionality conflict is a SchemaConflictError.
	EnsureIndex(ctx context.Context, dim int) error
	// BulkUpsert indexes all embedded chunks keyed by chunk ID. Per-item
	// failures are returned as a PartialBatchError alongside the result.
	BulkUpsert(ctx context.Context, chunks []Chunk) (BulkResult, error)
	// Search returns up to k results ranked by descending score. Results
	// below minScore are excluded when minScore > 0. An empty or missing
	// index yields an empty result, not an error.
	Search(ctx context.Context, vector []float64, k int, minScore float64) ([]SearchResult, error)
}

// Retriever answers a query string with ranked context chunks.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]SearchResult, error)
}

// Generator produces a grounded answer from a question and retrieved context.
type Generator interface {
	GenerateAnswer(ctx context.Context, question string, contextChunks []SearchResult) (string, error)
}

// EventLog records ingestion bookkeeping (files seen, per-stage outcomes).
// It is advisory: pipeline progress never depends on it succeeding.
type EventLog interface {
	RecordFile(ctx context.Context, fileID, path string) error
	RecordEvent(ctx context.Context, fileID, stage string, ok bool, message string) error
}

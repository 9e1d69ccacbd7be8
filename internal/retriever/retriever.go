package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"docrag/internal/domain"
)

// DefaultTopK is the number of context chunks fetched per query.
const DefaultTopK = 6

// Retriever embeds a query with the same embedding contract used at
// ingestion time and runs a k-NN search against the index. An empty result
// set is a valid outcome, not an error; provider exhaustion is surfaced as
// ErrRetrievalUnavailable, never silently answered with empty context.
type Retriever struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	topK     int
	minScore float64
	logger   *slog.Logger
}

// Config tunes retrieval depth and the optional score floor.
type Config struct {
	TopK     int
	MinScore float64
}

func New(embedder domain.Embedder, index domain.VectorIndex, cfg Config, logger *slog.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		topK:     cfg.TopK,
		minScore: cfg.MinScore,
		logger:   logger,
	}
}

// Retrieve returns up to TopK chunks ranked by descending similarity.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]domain.SearchResult, error) {
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", domain.ErrRetrievalUnavailable, err)
	}
	results, err := r.index.Search(ctx, vec, r.topK, r.minScore)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrRetrievalUnavailable, err)
	}
	r.logger.Debug("retrieved context", "results", len(results), "top_k", r.topK)
	return results, nil
}

var _ domain.Retriever = (*Retriever)(nil)

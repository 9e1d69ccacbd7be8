package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"docrag/internal/domain"
)

// Store is an in-memory vector index using brute-force cosine similarity.
// Upserts are keyed by chunk ID, so re-indexing identical content is a
// no-op. Meant for local runs and tests; real deployments use the
// OpenSearch store.
type Store struct {
	mu     sync.RWMutex
	dim    int
	slots  map[string]int
	chunks []domain.Chunk
}

func NewStore() *Store {
	return &Store{slots: make(map[string]int)}
}

func (s *Store) EnsureIndex(_ context.Context, dim int) error {
	if dim <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim != 0 && s.dim != dim {
		return &domain.SchemaConflictError{Index: "memory", Want: dim, Got: s.dim}
	}
	s.dim = dim
	return nil
}

func (s *Store) BulkUpsert(_ context.Context, chunks []domain.Chunk) (domain.BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res domain.BulkResult
	for _, ch := range chunks {
		if !ch.Embedded() {
			res.Skipped = append(res.Skipped, ch.ChunkID)
			continue
		}
		if len(ch.Embedding) != s.dim {
			res.Failed = append(res.Failed, ch.ChunkID)
			continue
		}
		if i, ok := s.slots[ch.ChunkID]; ok {
			s.chunks[i] = ch
		} else {
			s.slots[ch.ChunkID] = len(s.chunks)
			s.chunks = append(s.chunks, ch)
		}
		res.Indexed++
	}
	if len(res.Failed) > 0 {
		return res, &domain.PartialBatchError{Op: "bulk upsert", FailedIDs: res.Failed}
	}
	return res, nil
}

func (s *Store) Search(_ context.Context, vector []float64, k int, minScore float64) ([]domain.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 {
		k = 6
	}
	results := make([]domain.SearchResult, 0, len(s.chunks))
	for _, ch := range s.chunks {
		score := cosine(ch.Embedding, vector)
		if minScore > 0 && score < minScore {
			continue
		}
		results = append(results, domain.SearchResult{Chunk: ch, Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ domain.VectorIndex = (*Store)(nil)

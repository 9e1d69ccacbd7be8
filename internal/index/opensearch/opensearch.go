package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"docrag/internal/domain"
)

// Defaults mirror the engine's HNSW cosine setup used at index-build time.
const (
	DefaultIndex          = "doc-chunks"
	DefaultEngine         = "nmslib"
	DefaultEFSearch       = 128
	DefaultEFConstruction = 128
	DefaultM              = 16
)

// Store is a minimal REST client to an OpenSearch k-NN index. The ANN
// implementation behind the index is a black box; this client only manages
// the vector schema, idempotent bulk upserts keyed by chunk ID, and k-NN
// queries under cosine similarity.
type Store struct {
	url            string
	index          string
	username       string
	password       string
	engine         string
	efSearch       int
	efConstruction int
	m              int
	client         *http.Client
	maxAttempts    int
	logger         *slog.Logger
}

// Config configures the OpenSearch store. Credentials come from the
// environment variable named by PasswordEnv, never from config literals.
type Config struct {
	URL            string
	Index          string
	Username       string
	PasswordEnv    string
	Timeout        time.Duration
	Engine         string
	EFSearch       int
	EFConstruction int
	M              int
}

func NewStore(cfg Config, logger *slog.Logger) *Store {
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.Engine == "" {
		cfg.Engine = DefaultEngine
	}
	if cfg.EFSearch <= 0 {
		cfg.EFSearch = DefaultEFSearch
	}
	if cfg.EFConstruction <= 0 {
		cfg.EFConstruction = DefaultEFConstruction
	}
	if cfg.M <= 0 {
		cfg.M = DefaultM
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		url:            cfg.URL,
		index:          cfg.Index,
		username:       cfg.Username,
		password:       os.Getenv(cfg.PasswordEnv),
		engine:         cfg.Engine,
		efSearch:       cfg.EFSearch,
		efConstruction: cfg.EFConstruction,
		m:              cfg.M,
		client:         &http.Client{Timeout: timeout},
		maxAttempts:    3,
		logger:         logger,
	}
}

// EnsureIndex creates the index with a knn_vector field of the given
// dimensionality if it is absent. An existing index is never mutated: a
// matching dimension is a no-op, a different one is a SchemaConflictError.
func (s *Store) EnsureIndex(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	status, payload, err := s.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s/_mapping", s.url, s.index), "", nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusNotFound:
		return s.createIndex(ctx, dim)
	case status >= 300:
		return &domain.ProviderError{Provider: "opensearch", Status: status, Body: string(payload)}
	}
	got, err := embeddingDimension(payload)
	if err != nil {
		return fmt.Errorf("inspect index %s: %w", s.index, err)
	}
	if got != dim {
		return &domain.SchemaConflictError{Index: s.index, Want: dim, Got: got}
	}
	return nil
}

func (s *Store) createIndex(ctx context.Context, dim int) error {
	body := map[string]any{
		"settings": map[string]any{
			"index": map[string]any{
				"knn":                      true,
				"knn.algo_param.ef_search": s.efSearch,
			},
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				"chunk_id":   map[string]any{"type": "keyword"},
				"file_id":    map[string]any{"type": "keyword"},
				"page_no":    map[string]any{"type": "integer"},
				"ord":        map[string]any{"type": "integer"},
				"n_tokens":   map[string]any{"type": "integer"},
				"text":       map[string]any{"type": "text"},
				"created_at": map[string]any{"type": "date"},
				"embedding": map[string]any{
					"type":      "knn_vector",
					"dimension": dim,
					"method": map[string]any{
						"name":       "hnsw",
						"space_type": "cosinesimil",
						"engine":     s.engine,
						"parameters": map[string]any{
							"ef_construction": s.efConstruction,
							"m":               s.m,
						},
					},
				},
			},
		},
	}
	data, _ := json.Marshal(body)
	status, payload, err := s.do(ctx, http.MethodPut, fmt.Sprintf("%s/%s", s.url, s.index), "application/json", data)
	if err != nil {
		return err
	}
	if status >= 300 {
		return &domain.ProviderError{Provider: "opensearch", Status: status, Body: string(payload)}
	}
	s.logger.Info("created index", "index", s.index, "dimension", dim)
	return nil
}

// BulkUpsert sends all embedded chunks as one bulk call of index operations
// keyed by chunk ID. Unembedded chunks are skipped and reported. The engine
// guarantees per-document atomicity only, so individual rejections come back
// as a PartialBatchError with the failing IDs.
func (s *Store) BulkUpsert(ctx context.Context, chunks []domain.Chunk) (domain.BulkResult, error) {
	var res domain.BulkResult
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	sent := 0
	for _, ch := range chunks {
		if !ch.Embedded() {
			res.Skipped = append(res.Skipped, ch.ChunkID)
			continue
		}
		_ = enc.Encode(map[string]any{"index": map[string]any{"_index": s.index, "_id": ch.ChunkID}})
		_ = enc.Encode(ch)
		sent++
	}
	if sent == 0 {
		return res, nil
	}
	status, payload, err := s.do(ctx, http.MethodPost, s.url+"/_bulk", "application/x-ndjson", buf.Bytes())
	if err != nil {
		return res, err
	}
	if status >= 300 {
		return res, &domain.ProviderError{Provider: "opensearch", Status: status, Body: string(payload)}
	}
	var out struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string          `json:"_id"`
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return res, fmt.Errorf("parse bulk response: %w", err)
	}
	for _, item := range out.Items {
		for _, op := range item {
			if op.Status >= 300 {
				res.Failed = append(res.Failed, op.ID)
			} else {
				res.Indexed++
			}
		}
	}
	if len(res.Failed) > 0 {
		return res, &domain.PartialBatchError{Op: "bulk upsert", FailedIDs: res.Failed}
	}
	return res, nil
}

// Search issues a k-NN query and returns up to k results ranked by
// descending score. A missing index yields an empty result, not an error.
func (s *Store) Search(ctx context.Context, vector []float64, k int, minScore float64) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = 6
	}
	body := map[string]any{
		"size": k,
		"query": map[string]any{
			"knn": map[string]any{
				"embedding": map[string]any{"vector": vector, "k": k},
			},
		},
	}
	if minScore > 0 {
		body["min_score"] = minScore
	}
	data, _ := json.Marshal(body)
	status, payload, err := s.do(ctx, http.MethodPost, fmt.Sprintf("%s/%s/_search", s.url, s.index), "application/json", data)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status >= 300 {
		return nil, &domain.ProviderError{Provider: "opensearch", Status: status, Body: string(payload)}
	}
	var out struct {
		Hits struct {
			Hits []struct {
				Score  float64      `json:"_score"`
				Source domain.Chunk `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	results := make([]domain.SearchResult, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		results = append(results, domain.SearchResult{Chunk: h.Source, Score: h.Score})
	}
	return results, nil
}

// do performs one HTTP request with basic auth, retrying transient failures
// (network errors, 429, 5xx) a few times with a short linear backoff.
func (s *Store) do(ctx context.Context, method, url, contentType string, body []byte) (int, []byte, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(time.Duration(attempt) * 500 * time.Millisecond)
			select {
			case <-ctx.Done():
				timer.Stop()
				return 0, nil, ctx.Err()
			case <-timer.C:
			}
			s.logger.Warn("retrying search engine call", "method", method, "attempt", attempt+1)
		}
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return 0, nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if s.username != "" {
			req.SetBasicAuth(s.username, s.password)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = &domain.ProviderError{Provider: "opensearch", Body: err.Error()}
			continue
		}
		payload, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &domain.ProviderError{Provider: "opensearch", Body: "read response: " + err.Error()}
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &domain.ProviderError{Provider: "opensearch", Status: resp.StatusCode, Body: string(payload)}
			continue
		}
		return resp.StatusCode, payload, nil
	}
	return 0, nil, lastErr
}

// embeddingDimension extracts the knn_vector dimension from a _mapping response.
func embeddingDimension(payload []byte) (int, error) {
	var out map[string]struct {
		Mappings struct {
			Properties struct {
				Embedding struct {
					Dimension int `json:"dimension"`
				} `json:"embedding"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return 0, err
	}
	for _, idx := range out {
		return idx.Mappings.Properties.Embedding.Dimension, nil
	}
	return 0, fmt.Errorf("no mapping in response")
}

var _ domain.VectorIndex = (*Store)(nil)

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

type fakeChunker struct{ perPage int }

func (f *fakeChunker) ChunkPage(fileID string, pageNo int, text string) []domain.Chunk {
	chunks := make([]domain.Chunk, f.perPage)
	for i := range chunks {
		chunks[i] = domain.Chunk{
			ChunkID: fmt.Sprintf("%s-p%d-c%d", fileID, pageNo, i),
			FileID:  fileID,
			PageNo:  pageNo,
			Ord:     i,
			Text:    text,
		}
	}
	return chunks
}

func (f *fakeChunker) ChunkDocument(pages []domain.Page) []domain.Chunk {
	var out []domain.Chunk
	for _, p := range pages {
		out = append(out, f.ChunkPage(p.FileID, p.PageNo, p.Text)...)
	}
	return out
}

type fakeBatcher struct {
	failIDs []string
	err     error
}

func (f *fakeBatcher) EmbedChunks(_ context.Context, chunks []domain.Chunk) (int, []string, error) {
	if f.err != nil {
		return 0, nil, f.err
	}
	failSet := make(map[string]struct{}, len(f.failIDs))
	for _, id := range f.failIDs {
		failSet[id] = struct{}{}
	}
	embedded := 0
	for i := range chunks {
		if _, bad := failSet[chunks[i].ChunkID]; bad {
			continue
		}
		chunks[i].Embedding = []float64{1, 0}
		embedded++
	}
	return embedded, f.failIDs, nil
}

type fakeIndex struct {
	mu        sync.Mutex
	ensureErr error
	upsertErr error
	upserts   int
	indexed   int
}

func (f *fakeIndex) EnsureIndex(_ context.Context, _ int) error { return f.ensureErr }

func (f *fakeIndex) BulkUpsert(_ context.Context, chunks []domain.Chunk) (domain.BulkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upsertErr != nil {
		return domain.BulkResult{}, f.upsertErr
	}
	var res domain.BulkResult
	for _, ch := range chunks {
		if !ch.Embedded() {
			res.Skipped = append(res.Skipped, ch.ChunkID)
			continue
		}
		res.Indexed++
	}
	f.indexed += res.Indexed
	return res, nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float64, _ int, _ float64) ([]domain.SearchResult, error) {
	return nil, nil
}

type fakeRetriever struct {
	results []domain.SearchResult
	err     error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string) ([]domain.SearchResult, error) {
	return f.results, f.err
}

type fakeGenerator struct {
	text string
	err  error
}

func (f *fakeGenerator) GenerateAnswer(_ context.Context, _ string, _ []domain.SearchResult) (string, error) {
	return f.text, f.err
}

type memEvents struct {
	mu     sync.Mutex
	stages []string
}

func (m *memEvents) RecordFile(_ context.Context, _, _ string) error { return nil }

func (m *memEvents) RecordEvent(_ context.Context, _, stage string, _ bool, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
	return nil
}

func samplePages() []domain.Page {
	return []domain.Page{
		{FileID: "f1", PageNo: 1, Text: "alpha"},
		{FileID: "f1", PageNo: 2, Text: "beta"},
		{FileID: "f2", PageNo: 1, Text: "gamma"},
	}
}

func newTestPipeline(idx *fakeIndex, batcher *fakeBatcher, events domain.EventLog) *Pipeline {
	return NewPipeline(&fakeChunker{perPage: 2}, batcher, idx,
		&fakeRetriever{}, &fakeGenerator{}, events,
		Config{Dimensions: 2, UpsertShardSize: 2, UpsertWorkers: 2}, nil)
}

func TestIngestReportCounts(t *testing.T) {
	idx := &fakeIndex{}
	events := &memEvents{}
	p := newTestPipeline(idx, &fakeBatcher{}, events)

	report, err := p.Ingest(context.Background(), samplePages())
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 3, report.Pages)
	assert.Equal(t, 6, report.ChunksAttempted)
	assert.Equal(t, 6, report.ChunksEmbedded)
	assert.Equal(t, 6, report.ChunksIndexed)
	assert.Empty(t, report.FailedEmbedIDs)
	assert.Empty(t, report.FailedIndexIDs)
	assert.Equal(t, 3, idx.upserts, "6 chunks in shards of 2")
	assert.Contains(t, events.stages, "chunk")
	assert.Contains(t, events.stages, "embed")
	assert.Contains(t, events.stages, "index")
}

func TestIngestFailedEmbedsAreSkippedNotIndexed(t *testing.T) {
	idx := &fakeIndex{}
	batcher := &fakeBatcher{failIDs: []string{"f1-p1-c0", "f1-p1-c1"}}
	p := newTestPipeline(idx, batcher, nil)

	report, err := p.Ingest(context.Background(), samplePages())
	require.NoError(t, err)
	assert.Equal(t, 4, report.ChunksEmbedded)
	assert.Equal(t, 4, report.ChunksIndexed)
	assert.Len(t, report.FailedEmbedIDs, 2)
	assert.Len(t, report.SkippedIDs, 2, "unembedded chunks pass through as skipped")
}

func TestIngestSchemaConflictIsFatal(t *testing.T) {
	idx := &fakeIndex{ensureErr: &domain.SchemaConflictError{Index: "x", Want: 2, Got: 3}}
	p := newTestPipeline(idx, &fakeBatcher{}, nil)

	report, err := p.Ingest(context.Background(), samplePages())
	require.Error(t, err)
	var conflict *domain.SchemaConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Zero(t, report.ChunksIndexed)
}

func TestIngestShardTransportFailureIsReported(t *testing.T) {
	idx := &fakeIndex{upsertErr: errors.New("connection refused")}
	p := newTestPipeline(idx, &fakeBatcher{}, nil)

	report, err := p.Ingest(context.Background(), samplePages())
	require.NoError(t, err, "shard failures are reported, not fatal")
	assert.Zero(t, report.ChunksIndexed)
	assert.Len(t, report.FailedIndexIDs, 6)
}

func TestIngestNoPages(t *testing.T) {
	p := newTestPipeline(&fakeIndex{}, &fakeBatcher{}, nil)
	report, err := p.Ingest(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.ChunksAttempted)
}

func TestAskNoContext(t *testing.T) {
	p := NewPipeline(&fakeChunker{}, &fakeBatcher{}, &fakeIndex{},
		&fakeRetriever{}, &fakeGenerator{text: "should not run"}, nil, Config{}, nil)

	ans, err := p.Ask(context.Background(), "anything?")
	require.NoError(t, err)
	assert.Equal(t, NoContextAnswer, ans.Text)
	assert.Empty(t, ans.Sources)
}

func TestAskAnswersWithSources(t *testing.T) {
	sources := []domain.SearchResult{{Chunk: domain.Chunk{ChunkID: "c1", Text: "ctx"}, Score: 0.8}}
	p := NewPipeline(&fakeChunker{}, &fakeBatcher{}, &fakeIndex{},
		&fakeRetriever{results: sources}, &fakeGenerator{text: "the answer"}, nil, Config{}, nil)

	ans, err := p.Ask(context.Background(), "q?")
	require.NoError(t, err)
	assert.Equal(t, "the answer", ans.Text)
	assert.Equal(t, sources, ans.Sources)
}

func TestAskRetrievalUnavailable(t *testing.T) {
	retrErr := fmt.Errorf("%w: engine down", domain.ErrRetrievalUnavailable)
	p := NewPipeline(&fakeChunker{}, &fakeBatcher{}, &fakeIndex{},
		&fakeRetriever{err: retrErr}, &fakeGenerator{}, nil, Config{}, nil)

	_, err := p.Ask(context.Background(), "q?")
	assert.ErrorIs(t, err, domain.ErrRetrievalUnavailable)
}

func TestAskGenerationUnavailableKeepsSources(t *testing.T) {
	sources := []domain.SearchResult{{Chunk: domain.Chunk{ChunkID: "c1"}, Score: 0.8}}
	genErr := fmt.Errorf("%w: both tiers down", domain.ErrGenerationUnavailable)
	p := NewPipeline(&fakeChunker{}, &fakeBatcher{}, &fakeIndex{},
		&fakeRetriever{results: sources}, &fakeGenerator{err: genErr}, nil, Config{}, nil)

	ans, err := p.Ask(context.Background(), "q?")
	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
	assert.Equal(t, sources, ans.Sources, "sources survive so the caller can still show context")
}

var (
	_ domain.Chunker       = (*fakeChunker)(nil)
	_ domain.BatchEmbedder = (*fakeBatcher)(nil)
	_ domain.VectorIndex   = (*fakeIndex)(nil)
	_ domain.Retriever     = (*fakeRetriever)(nil)
	_ domain.Generator     = (*fakeGenerator)(nil)
	_ domain.EventLog      = (*memEvents)(nil)
)

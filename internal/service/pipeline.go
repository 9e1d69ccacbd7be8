package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docrag/internal/domain"
)

const (
	// DefaultUpsertShardSize splits large chunk sets into independent bulk
	// calls; DefaultUpsertWorkers bounds how many run concurrently so the
	// engine's ingest capacity is respected.
	DefaultUpsertShardSize = 500
	DefaultUpsertWorkers   = 2

	// NoContextAnswer is returned when retrieval finds nothing relevant.
	NoContextAnswer = "No relevant context was found for this question."
)

// Pipeline wires the ingestion stages (chunk, embed, index) and the
// query-time assembly (retrieve, generate). Partial failures inside a run
// are reported, not fatal: failed chunk IDs stay eligible for the next run,
// and deterministic IDs make that retry an idempotent upsert.
type Pipeline struct {
	chunker      domain.Chunker
	batcher      domain.BatchEmbedder
	index        domain.VectorIndex
	retriever    domain.Retriever
	generator    domain.Generator
	events       domain.EventLog
	dims         int
	shardSize    int
	shardWorkers int
	logger       *slog.Logger
}

// Config sizes the index-write stage. Dimensions must match the embedder.
type Config struct {
	Dimensions      int
	UpsertShardSize int
	UpsertWorkers   int
}

// NewPipeline assembles the pipeline. events may be nil when no metadata
// store is configured.
func NewPipeline(chunker domain.Chunker, batcher domain.BatchEmbedder, index domain.VectorIndex,
	retr domain.Retriever, gen domain.Generator, events domain.EventLog, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.UpsertShardSize <= 0 {
		cfg.UpsertShardSize = DefaultUpsertShardSize
	}
	if cfg.UpsertWorkers <= 0 {
		cfg.UpsertWorkers = DefaultUpsertWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		chunker:      chunker,
		batcher:      batcher,
		index:        index,
		retriever:    retr,
		generator:    gen,
		events:       events,
		dims:         cfg.Dimensions,
		shardSize:    cfg.UpsertShardSize,
		shardWorkers: cfg.UpsertWorkers,
		logger:       logger,
	}
}

// Ingest runs pages through chunking, batched embedding and sharded bulk
// upsert, and reports what happened. The returned error is non-nil only for
// run-fatal conditions (schema conflict, cancellation); per-batch and
// per-document failures land in the report instead.
func (p *Pipeline) Ingest(ctx context.Context, pages []domain.Page) (domain.IngestReport, error) {
	report := domain.IngestReport{RunID: uuid.NewString(), Pages: len(pages)}
	files := distinctFiles(pages)
	report.Files = len(files)

	chunks := p.chunker.ChunkDocument(pages)
	report.ChunksAttempted = len(chunks)
	p.recordStage(ctx, files, "chunk", true, fmt.Sprintf("%d chunks from %d pages", len(chunks), len(pages)))
	if len(chunks) == 0 {
		return report, nil
	}

	if err := p.index.EnsureIndex(ctx, p.dims); err != nil {
		p.recordStage(ctx, files, "index", false, err.Error())
		return report, fmt.Errorf("ensure index: %w", err)
	}

	embedded, failedEmbed, err := p.batcher.EmbedChunks(ctx, chunks)
	report.ChunksEmbedded = embedded
	report.FailedEmbedIDs = failedEmbed
	p.recordStage(ctx, files, "embed", len(failedEmbed) == 0,
		fmt.Sprintf("%d embedded, %d failed", embedded, len(failedEmbed)))
	if err != nil {
		return report, fmt.Errorf("embedding stage: %w", err)
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(p.shardWorkers)
	cancelled := false
	for lo := 0; lo < len(chunks); lo += p.shardSize {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}
		shard := chunks[lo:min(lo+p.shardSize, len(chunks))]
		g.Go(func() error {
			res, err := p.index.BulkUpsert(ctx, shard)
			mu.Lock()
			defer mu.Unlock()
			report.ChunksIndexed += res.Indexed
			report.SkippedIDs = append(report.SkippedIDs, res.Skipped...)
			report.FailedIndexIDs = append(report.FailedIndexIDs, res.Failed...)
			if err == nil {
				return nil
			}
			var pbe *domain.PartialBatchError
			if errors.As(err, &pbe) {
				// already recorded by ID; the rest of the shard landed
				p.logger.Warn("partial bulk failure", "failed", len(pbe.FailedIDs))
				return nil
			}
			// whole shard rejected at the transport level
			p.logger.Error("bulk upsert shard failed", "size", len(shard), "error", err)
			for _, ch := range shard {
				if ch.Embedded() {
					report.FailedIndexIDs = append(report.FailedIndexIDs, ch.ChunkID)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	if cancelled {
		return report, ctx.Err()
	}
	p.recordStage(ctx, files, "index", len(report.FailedIndexIDs) == 0,
		fmt.Sprintf("%d indexed, %d failed, %d skipped",
			report.ChunksIndexed, len(report.FailedIndexIDs), len(report.SkippedIDs)))
	p.logger.Info("ingestion run complete",
		"run_id", report.RunID,
		"files", report.Files,
		"chunks", report.ChunksAttempted,
		"embedded", report.ChunksEmbedded,
		"indexed", report.ChunksIndexed)
	return report, nil
}

// Ask embeds the question, retrieves context and generates a grounded
// answer. Zero retrieved context is a valid outcome answered with
// NoContextAnswer; provider exhaustion surfaces as a typed error.
func (p *Pipeline) Ask(ctx context.Context, question string) (domain.Answer, error) {
	results, err := p.retriever.Retrieve(ctx, question)
	if err != nil {
		return domain.Answer{}, err
	}
	if len(results) == 0 {
		return domain.Answer{Text: NoContextAnswer}, nil
	}
	text, err := p.generator.GenerateAnswer(ctx, question, results)
	if err != nil {
		return domain.Answer{Sources: results}, err
	}
	return domain.Answer{Text: text, Sources: results}, nil
}

// recordStage writes one advisory event per file; failures only log.
func (p *Pipeline) recordStage(ctx context.Context, fileIDs []string, stage string, ok bool, message string) {
	if p.events == nil {
		return
	}
	for _, id := range fileIDs {
		if err := p.events.RecordEvent(ctx, id, stage, ok, message); err != nil {
			p.logger.Warn("event log write failed", "stage", stage, "file_id", id, "error", err)
		}
	}
}

func distinctFiles(pages []domain.Page) []string {
	seen := make(map[string]struct{}, len(pages))
	var out []string
	for _, p := range pages {
		if _, ok := seen[p.FileID]; ok {
			continue
		}
		seen[p.FileID] = struct{}{}
		out = append(out, p.FileID)
	}
	return out
}

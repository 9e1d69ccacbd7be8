package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"docrag/internal/domain"
)

const (
	// DefaultBatchSize bounds the number of texts per provider call.
	DefaultBatchSize = 128
	// DefaultWorkers bounds concurrent in-flight batches.
	DefaultWorkers = 4
)

// Batcher runs the embedding stage: it groups chunks into fixed-size
// batches, embeds each batch through the provider, and assigns vectors and
// timestamps in place. Batches are independent, so they run concurrently up
// to the worker limit. A failed batch is logged and skipped; its chunks stay
// unembedded and eligible for the next ingestion pass.
type Batcher struct {
	embedder  domain.Embedder
	batchSize int
	workers   int
	logger    *slog.Logger
	now       func() time.Time
}

// BatcherConfig sizes the batching and its concurrency.
type BatcherConfig struct {
	BatchSize int
	Workers   int
}

func NewBatcher(e domain.Embedder, cfg BatcherConfig, logger *slog.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		embedder:  e,
		batchSize: cfg.BatchSize,
		workers:   cfg.Workers,
		logger:    logger,
		now:       time.Now,
	}
}

// EmbedChunks embeds all chunks in batches, mutating them in place. It
// returns the number of chunks embedded and the IDs of chunks whose batch
// failed. Cancellation is cooperative: in-flight batches finish, no new
// batch starts, and ctx.Err() is returned.
func (b *Batcher) EmbedChunks(ctx context.Context, chunks []domain.Chunk) (int, []string, error) {
	if len(chunks) == 0 {
		return 0, nil, nil
	}
	var (
		mu       sync.Mutex
		failed   []string
		embedded int
	)
	g := new(errgroup.Group)
	g.SetLimit(b.workers)

	cancelled := false
	for lo := 0; lo < len(chunks); lo += b.batchSize {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}
		batch := chunks[lo:min(lo+b.batchSize, len(chunks))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i := range batch {
				texts[i] = batch[i].Text
			}
			vecs, err := b.embedder.EmbedBatch(ctx, texts)
			if err == nil && len(vecs) != len(batch) {
				// never partially assign a misaligned response
				err = fmt.Errorf("provider returned %d vectors for %d texts", len(vecs), len(batch))
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				b.logger.Error("embedding batch failed",
					"batch_size", len(batch), "first_chunk", batch[0].ChunkID, "error", err)
				for i := range batch {
					failed = append(failed, batch[i].ChunkID)
				}
				return nil
			}
			at := b.now()
			for i := range batch {
				batch[i].Embedding = vecs[i]
				batch[i].CreatedAt = at
			}
			embedded += len(batch)
			return nil
		})
	}
	_ = g.Wait()
	if cancelled {
		return embedded, failed, ctx.Err()
	}
	b.logger.Info("embedding stage done",
		"chunks", len(chunks), "embedded", embedded, "failed", len(failed))
	return embedded, failed, nil
}

var _ domain.BatchEmbedder = (*Batcher)(nil)

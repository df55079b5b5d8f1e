package indexer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/codeindexer/pkg/models"
)

// DefaultBatchSize is the flush threshold used when none is configured.
const DefaultBatchSize = 100

// Sink receives flushed batches.
type Sink interface {
	Upsert(ctx context.Context, records []models.IndexRecord) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, records []models.IndexRecord) error

func (f SinkFunc) Upsert(ctx context.Context, records []models.IndexRecord) error {
	return f(ctx, records)
}

// Batcher accumulates records and hands them to a Sink in batches of at
// most threshold records, in the order they were added.
type Batcher struct {
	sink      Sink
	threshold int
	buf       []models.IndexRecord

	flushes int
	flushed int
}

func NewBatcher(sink Sink, threshold int) *Batcher {
	if threshold <= 0 {
		threshold = DefaultBatchSize
	}
	return &Batcher{
		sink:      sink,
		threshold: threshold,
		buf:       make([]models.IndexRecord, 0, threshold),
	}
}

// Add buffers r and flushes once the buffer reaches the threshold.
func (b *Batcher) Add(ctx context.Context, r models.IndexRecord) error {
	b.buf = append(b.buf, r)
	if len(b.buf) >= b.threshold {
		return b.Flush(ctx)
	}
	return nil
}

// Flush sends the buffered records, if any. The buffer is cleared whether
// or not the sink succeeds; a failed batch is not retried.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	b.buf = make([]models.IndexRecord, 0, b.threshold)

	log.Info().Int("batch_size", len(batch)).Msg("uploading batch")
	if err := b.sink.Upsert(ctx, batch); err != nil {
		return fmt.Errorf("%w: batch of %d records: %v", ErrUpsert, len(batch), err)
	}
	b.flushes++
	b.flushed += len(batch)
	return nil
}

// Pending returns the number of buffered records.
func (b *Batcher) Pending() int { return len(b.buf) }

// Flushes returns the number of successful flushes.
func (b *Batcher) Flushes() int { return b.flushes }

// Flushed returns the number of records delivered to the sink.
func (b *Batcher) Flushed() int { return b.flushed }

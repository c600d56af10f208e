package tsdb

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"meterseed/internal/datagen"
)

// DefaultBatchSize bounds how many points are held before a flush.
const DefaultBatchSize = 50000

// Buffer batches samples in memory and writes them through w once BatchSize points
// are pending or Flush is called.
type Buffer struct {
	w         Writer
	batchSize int
	logger    zerolog.Logger

	points  []datagen.Point
	tiers   []datagen.TierSample
	written int64
}

// NewBuffer wraps a writer. Non-positive batch sizes fall back to DefaultBatchSize.
func NewBuffer(w Writer, batchSize int, logger zerolog.Logger) *Buffer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Buffer{
		w:         w,
		batchSize: batchSize,
		logger:    logger.With().Str("component", "series_buffer").Logger(),
		points:    make([]datagen.Point, 0, min(batchSize, 4096)),
	}
}

// AddPoint queues a point and flushes when the batch is full.
func (b *Buffer) AddPoint(ctx context.Context, p datagen.Point) error {
	b.points = append(b.points, p)
	if len(b.points) >= b.batchSize {
		return b.Flush(ctx)
	}
	return nil
}

// AddTierSample queues a tier sample; it goes out with the next flush.
func (b *Buffer) AddTierSample(ctx context.Context, s datagen.TierSample) error {
	b.tiers = append(b.tiers, s)
	return nil
}

// Flush writes everything pending. Pending samples are kept when the write fails,
// unless the failure is ErrPublish: those samples are already stored and count as written.
func (b *Buffer) Flush(ctx context.Context) error {
	if len(b.points) > 0 {
		err := b.w.WritePoints(ctx, b.points)
		if err != nil && !errors.Is(err, ErrPublish) {
			return err
		}
		b.written += int64(len(b.points))
		b.logger.Debug().Int("points", len(b.points)).Int64("total", b.written).Msg("points flushed")
		b.points = b.points[:0]
		if err != nil {
			return err
		}
	}
	if len(b.tiers) > 0 {
		err := b.w.WriteTierSamples(ctx, b.tiers)
		if err != nil && !errors.Is(err, ErrPublish) {
			return err
		}
		b.tiers = b.tiers[:0]
		if err != nil {
			return err
		}
	}
	return nil
}

// Written is the number of points the writer has persisted.
func (b *Buffer) Written() int64 {
	return b.written
}

// Pending is the number of points not yet flushed.
func (b *Buffer) Pending() int {
	return len(b.points)
}

var _ datagen.Sink = (*Buffer)(nil)

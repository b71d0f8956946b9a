// Package janitor implements the periodic retention sweep: expired
// events, terminal messages, and stale rate-limit buckets (spec.md
// §4.9). Modeled on the chunked delete-with-pause style of
// velmie-outbox's mysql/cleanup.go and cmd/outbox-cleanup, adapted to
// Postgres and this engine's retention windows.
package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"deliveryengine/internal/db"
	"deliveryengine/internal/metrics"
)

const (
	eventRetention   = 30 * 24 * time.Hour
	messageRetention = 30 * 24 * time.Hour
	rateRetention    = 1 * time.Hour

	chunkSize  = 1000
	chunkPause = 100 * time.Millisecond

	firstRunDelay = 10 * time.Second
	interval      = 1 * time.Hour
)

// Janitor runs the retention sweep on a schedule. Failures are logged
// and never crash the worker (spec.md §4.9, §7).
type Janitor struct {
	store  *db.Store
	logger *zap.Logger
	now    func() time.Time
}

func New(store *db.Store, logger *zap.Logger) *Janitor {
	return &Janitor{store: store, logger: logger, now: time.Now}
}

// Run blocks, sweeping firstRunDelay after start and then every
// interval, until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	timer := time.NewTimer(firstRunDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			j.sweep(ctx)
			timer.Reset(interval)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	now := j.now()

	if n, err := j.chunkedDelete(ctx, "events", now.Add(-eventRetention), func(cutoff time.Time) (int64, error) {
		return j.store.DeleteOldEvents(ctx, cutoff, chunkSize)
	}); err != nil {
		j.logger.Error("janitor: event sweep failed", zap.Error(err))
	} else if n > 0 {
		j.logger.Info("janitor: deleted expired events", zap.Int64("count", n))
	}

	if n, err := j.chunkedDelete(ctx, "messages", now.Add(-messageRetention), func(cutoff time.Time) (int64, error) {
		return j.store.DeleteOldTerminalMessages(ctx, cutoff, chunkSize)
	}); err != nil {
		j.logger.Error("janitor: message sweep failed", zap.Error(err))
	} else if n > 0 {
		j.logger.Info("janitor: deleted expired terminal messages", zap.Int64("count", n))
	}

	rateCutoff := now.Add(-rateRetention)
	deleted, err := j.store.DeleteOldRateBuckets(ctx, rateCutoff)
	if err != nil {
		j.logger.Error("janitor: rate bucket sweep failed", zap.Error(err))
	} else if deleted > 0 {
		metrics.JanitorRowsDeleted.WithLabelValues("rate_limit_tracking").Add(float64(deleted))
		j.logger.Info("janitor: deleted stale rate buckets", zap.Int64("count", deleted))
	}
}

// chunkedDelete repeatedly deletes up to chunkSize rows, pausing
// between chunks to avoid holding locks for a long span, until a chunk
// comes back empty.
func (j *Janitor) chunkedDelete(ctx context.Context, table string, cutoff time.Time, deleteChunk func(time.Time) (int64, error)) (int64, error) {
	var total int64
	for {
		n, err := deleteChunk(cutoff)
		if err != nil {
			return total, err
		}
		total += n
		if n > 0 {
			metrics.JanitorRowsDeleted.WithLabelValues(table).Add(float64(n))
		}
		if n < chunkSize {
			return total, nil
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(chunkPause):
		}
	}
}

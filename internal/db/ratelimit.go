package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UpsertRateBucket performs the atomic tumbling-minute increment
// backing the durable RateLimiter: insert count=1, or increment on
// conflict, returning the new count (spec.md §4.3).
func (s *Store) UpsertRateBucket(ctx context.Context, projectID uuid.UUID, window time.Time) (int, error) {
	var count int
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO rate_limit_tracking (project_id, minute_window, count)
		VALUES ($1,$2,1)
		ON CONFLICT (project_id, minute_window)
		DO UPDATE SET count = rate_limit_tracking.count + 1
		RETURNING count`,
		projectID, window).Scan(&count)
	return count, err
}

// DeleteOldRateBuckets removes rate-limit windows older than cutoff.
// Rate buckets are disposable after one hour (spec.md §3).
func (s *Store) DeleteOldRateBuckets(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM rate_limit_tracking WHERE minute_window < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

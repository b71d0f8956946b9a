// Package ratelimit implements the durable per-tenant per-minute
// admission counter (spec.md §4.3). This is distinct from the
// process-level golang.org/x/time/rate throttle the provider broker
// uses to shape outbound calls — this package governs which tenant
// requests are admitted at all.
package ratelimit

import (
	"context"
	"time"

	"deliveryengine/internal/db"
	"deliveryengine/internal/models"
)

// Verdict is the outcome of an Acquire call.
type Verdict struct {
	Allowed bool
	Current int
	Limit   int
}

// Limiter performs the atomic tumbling-minute upsert described in
// spec.md §4.3: each admission consumes one token regardless of later
// success, which is intentional burst protection rather than fairness
// accounting.
type Limiter struct {
	store *db.Store
	now   func() time.Time
}

func New(store *db.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Acquire consumes one token for project's current minute window.
// Absent rate_limit_per_minute means unlimited, with no side effect.
func (l *Limiter) Acquire(ctx context.Context, project *models.Project) (Verdict, error) {
	if project.RateLimitPerMinute == nil {
		return Verdict{Allowed: true}, nil
	}

	window := l.now().UTC().Truncate(time.Minute)
	count, err := l.store.UpsertRateBucket(ctx, project.ID, window)
	if err != nil {
		return Verdict{}, err
	}

	limit := *project.RateLimitPerMinute
	return Verdict{
		Allowed: count <= limit,
		Current: count,
		Limit:   limit,
	}, nil
}

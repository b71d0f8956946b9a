// Package quota evaluates the monthly per-project message ceiling.
package quota

import (
	"context"
	"time"

	"deliveryengine/internal/db"
	"deliveryengine/internal/models"
)

// Verdict is the outcome of a Check call.
type Verdict struct {
	Allowed bool
	Current int64
	Limit   int
}

// Controller evaluates spec.md §4.2's admission rule: absent
// monthly_limit means unlimited; otherwise exceeded iff current >=
// limit. The check is advisory, not transactional with the subsequent
// enqueue — usage only increments on successful delivery, so the
// ceiling is a soft fairness boundary, not a billing gate.
type Controller struct {
	store *db.Store
	now   func() time.Time
}

func New(store *db.Store) *Controller {
	return &Controller{store: store, now: time.Now}
}

// Check reports whether project may still enqueue this period.
func (c *Controller) Check(ctx context.Context, project *models.Project) (Verdict, error) {
	if project.MonthlyLimit == nil {
		return Verdict{Allowed: true}, nil
	}

	period := c.now().UTC().Format("2006-01")
	current, err := c.store.SumUsageForPeriod(ctx, project.ID, period)
	if err != nil {
		return Verdict{}, err
	}

	limit := *project.MonthlyLimit
	return Verdict{
		Allowed: current < int64(limit),
		Current: current,
		Limit:   limit,
	}, nil
}

// Package usage implements the UsageLedger: the atomic monthly counter
// increment on successful delivery (spec.md §4.8).
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"deliveryengine/internal/db"
	"deliveryengine/internal/models"
)

// Ledger records successful deliveries. Record must only be called
// from inside the Dispatcher's claim transaction, after a provider
// verdict of success — never speculatively.
type Ledger struct {
	store *db.Store
	now   func() time.Time
}

func New(store *db.Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Record upserts the (project, current period, channel) bucket.
func (l *Ledger) Record(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, channel models.ChannelType) error {
	period := l.now().UTC().Format("2006-01")
	return l.store.IncrementUsage(ctx, tx, projectID, period, channel)
}

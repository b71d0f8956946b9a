// Package idempotency guards the (project, idempotency_key) uniqueness
// invariant at enqueue time.
package idempotency

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"deliveryengine/internal/db"
	"deliveryengine/internal/models"
)

// Result is the outcome of a Check call.
type Result struct {
	Fresh           bool
	ExistingID      uuid.UUID
	ExistingStatus  models.MessageStatus
}

// Guard consults the idempotency index. The eventual insert still
// relies on the unique partial index on (project_id, idempotency_key)
// to catch concurrent duplicates; Check is a best-effort read that
// short-circuits the common case.
type Guard struct {
	store *db.Store
}

func New(store *db.Store) *Guard {
	return &Guard{store: store}
}

// Check returns Fresh=true when key is empty, or when no existing
// message carries it. Otherwise it returns the winning message's id
// and status.
func (g *Guard) Check(ctx context.Context, projectID uuid.UUID, key string) (Result, error) {
	if key == "" {
		return Result{Fresh: true}, nil
	}

	msg, err := g.store.GetMessageByIdempotencyKey(ctx, projectID, key)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return Result{Fresh: true}, nil
		}
		return Result{}, err
	}
	return Result{Fresh: false, ExistingID: msg.ID, ExistingStatus: msg.Status}, nil
}

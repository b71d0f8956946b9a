package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"deliveryengine/internal/models"
)

// InsertEvent appends one immutable timeline entry. Events are never
// mutated or deleted except by the Janitor's retention sweep.
func (s *Store) InsertEvent(ctx context.Context, tx pgx.Tx, e *models.Event) error {
	return tx.QueryRow(ctx, `
		INSERT INTO events (id, message_id, project_id, event_type, provider_response, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
		RETURNING created_at`,
		e.ID, e.MessageID, e.ProjectID, e.EventType, nullableJSON(e.ProviderPayload),
	).Scan(&e.CreatedAt)
}

// ListEventsForMessage returns the timeline for one message, oldest
// first.
func (s *Store) ListEventsForMessage(ctx context.Context, messageID uuid.UUID) ([]*models.Event, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, message_id, project_id, event_type, provider_response, created_at
		FROM events WHERE message_id = $1 ORDER BY created_at ASC`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.MessageID, &e.ProjectID, &e.EventType, &e.ProviderPayload, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// DeleteOldEvents removes events older than cutoff, in a single chunk
// of at most limit rows.
func (s *Store) DeleteOldEvents(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `
		DELETE FROM events
		WHERE id IN (
			SELECT id FROM events WHERE created_at < $1 LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

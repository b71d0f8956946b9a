package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"deliveryengine/internal/models"
)

// InsertMessage inserts a new queued message. Callers run this inside
// WithTx alongside InsertEvent so the message and its requested event
// commit atomically (spec.md §4.4 step 5). A lost idempotency race
// surfaces here as a unique-violation on (project_id, idempotency_key);
// callers should check IsUniqueViolation and re-resolve via the
// IdempotencyGuard.
func (s *Store) InsertMessage(ctx context.Context, tx pgx.Tx, m *models.Message) error {
	return tx.QueryRow(ctx, `
		INSERT INTO messages
			(id, project_id, type, status, from_address, to_address, subject, body,
			 metadata, idempotency_key, attempts, max_attempts, next_attempt_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now(),now())
		RETURNING created_at, updated_at`,
		m.ID, m.ProjectID, m.Type, m.Status, m.FromAddress, m.ToAddress, m.Subject, m.Body,
		nullableJSON(m.Metadata), m.IdempotencyKey, m.Attempts, m.MaxAttempts, m.NextAttemptAt,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// GetMessageByIdempotencyKey backs the IdempotencyGuard's read-before-
// write check.
func (s *Store) GetMessageByIdempotencyKey(ctx context.Context, projectID uuid.UUID, key string) (*models.Message, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, project_id, type, status, from_address, to_address, subject, body,
		       metadata, idempotency_key, attempts, max_attempts, next_attempt_at, scheduled_for, created_at, updated_at
		FROM messages
		WHERE project_id = $1 AND idempotency_key = $2`, projectID, key)
	return scanMessage(row)
}

// GetMessage reads a single message by id.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, project_id, type, status, from_address, to_address, subject, body,
		       metadata, idempotency_key, attempts, max_attempts, next_attempt_at, scheduled_for, created_at, updated_at
		FROM messages WHERE id = $1`, id)
	return scanMessage(row)
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(
		&m.ID, &m.ProjectID, &m.Type, &m.Status, &m.FromAddress, &m.ToAddress, &m.Subject, &m.Body,
		&m.Metadata, &m.IdempotencyKey, &m.Attempts, &m.MaxAttempts, &m.NextAttemptAt, &m.ScheduledFor,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &m, nil
}

// ClaimQueuedMessages is the heart of the Dispatcher: it selects up to
// batchSize ready messages using row-level locks that skip already-
// locked rows, giving each concurrent worker a disjoint set without
// coordination (spec.md §4.5). Must be called inside a transaction that
// the caller commits only after every claimed message has been driven
// through the delivery state machine.
func (s *Store) ClaimQueuedMessages(ctx context.Context, tx pgx.Tx, batchSize int) ([]*models.Message, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, project_id, type, status, from_address, to_address, subject, body,
		       metadata, idempotency_key, attempts, max_attempts, next_attempt_at, scheduled_for, created_at, updated_at
		FROM messages
		WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= now())
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkDelivered transitions a message to its terminal delivered state.
func (s *Store) MarkDelivered(ctx context.Context, tx pgx.Tx, id uuid.UUID, attempts int) error {
	_, err := tx.Exec(ctx, `
		UPDATE messages SET status = 'delivered', attempts = $2, next_attempt_at = NULL, updated_at = now()
		WHERE id = $1`, id, attempts)
	return err
}

// MarkRetryable bumps attempts and schedules the next attempt, leaving
// the message queued.
func (s *Store) MarkRetryable(ctx context.Context, tx pgx.Tx, id uuid.UUID, attempts int, nextAttemptAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE messages SET attempts = $2, next_attempt_at = $3, updated_at = now()
		WHERE id = $1`, id, attempts, nextAttemptAt)
	return err
}

// MarkFailedTerminal transitions a message to terminal failed (non-
// retryable provider verdict).
func (s *Store) MarkFailedTerminal(ctx context.Context, tx pgx.Tx, id uuid.UUID, attempts int) error {
	_, err := tx.Exec(ctx, `
		UPDATE messages SET status = 'failed', attempts = $2, next_attempt_at = NULL, updated_at = now()
		WHERE id = $1`, id, attempts)
	return err
}

// MarkDead transitions a message to terminal dead (attempt ceiling
// reached). Attempts are left untouched: the ceiling check happens
// before any attempt is made on this poll.
func (s *Store) MarkDead(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE messages SET status = 'dead', next_attempt_at = NULL, updated_at = now()
		WHERE id = $1`, id)
	return err
}

// DeleteOldTerminalMessages removes terminal messages older than
// cutoff, in a single chunk of at most limit rows. The Janitor calls
// this repeatedly with pauses between chunks (spec.md §4.9).
func (s *Store) DeleteOldTerminalMessages(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `
		DELETE FROM messages
		WHERE id IN (
			SELECT id FROM messages
			WHERE status IN ('delivered','failed','dead') AND created_at < $1
			LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

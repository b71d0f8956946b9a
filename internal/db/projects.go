package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"deliveryengine/internal/models"
)

// GetProject reads a project by id. Returns ErrNotFound if absent.
func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return scanProject(s.Pool.QueryRow(ctx,
		`SELECT id, name, owner_email, status, monthly_limit, rate_limit_per_minute, created_at
		 FROM projects WHERE id = $1`, id))
}

func scanProject(row interface {
	Scan(dest ...any) error
}) (*models.Project, error) {
	var p models.Project
	err := row.Scan(&p.ID, &p.Name, &p.OwnerEmail, &p.Status, &p.MonthlyLimit, &p.RateLimitPerMinute, &p.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &p, nil
}

// GetAPIKeyAndProject resolves a hashed bearer key to its owning
// project in one round trip, matching spec.md §6's auth contract. It
// only returns active (non-revoked) keys.
func (s *Store) GetAPIKeyAndProject(ctx context.Context, keyHash string) (*models.APIKey, *models.Project, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT k.id, k.project_id, k.key_hash, k.name, k.created_at, k.last_used_at, k.revoked_at,
		       p.id, p.name, p.owner_email, p.status, p.monthly_limit, p.rate_limit_per_minute, p.created_at
		FROM api_keys k
		JOIN projects p ON p.id = k.project_id
		WHERE k.key_hash = $1 AND k.revoked_at IS NULL`, keyHash)

	var k models.APIKey
	var p models.Project
	err := row.Scan(
		&k.ID, &k.ProjectID, &k.KeyHash, &k.Name, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt,
		&p.ID, &p.Name, &p.OwnerEmail, &p.Status, &p.MonthlyLimit, &p.RateLimitPerMinute, &p.CreatedAt,
	)
	if err != nil {
		return nil, nil, mapNoRows(err)
	}
	return &k, &p, nil
}

// TouchAPIKey records last-used-at for a successful authentication.
// Failures here are non-fatal to the request.
func (s *Store) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	_, err := s.Pool.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}

// GetProjectStatusTx re-reads a project's status from inside the
// Dispatcher's claim transaction, backing the suspension re-check in
// spec.md §4.5 step 1 — a project may have been suspended after the
// message was enqueued.
func (s *Store) GetProjectStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (models.ProjectStatus, error) {
	var status models.ProjectStatus
	err := tx.QueryRow(ctx, `SELECT status FROM projects WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return "", mapNoRows(err)
	}
	return status, nil
}

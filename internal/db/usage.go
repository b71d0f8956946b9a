package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"deliveryengine/internal/models"
)

// SumUsageForPeriod sums the usage counter across every channel for a
// project's current billing period, backing the QuotaController.
func (s *Store) SumUsageForPeriod(ctx context.Context, projectID uuid.UUID, period string) (int64, error) {
	var total int64
	err := s.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(count), 0) FROM usage WHERE project_id = $1 AND period = $2`,
		projectID, period).Scan(&total)
	return total, err
}

// IncrementUsage atomically upserts the (project, period, channel)
// bucket, incrementing count by 1. Called only from inside the
// Dispatcher's transaction, only on successful delivery.
func (s *Store) IncrementUsage(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, period string, channel models.ChannelType) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO usage (project_id, period, message_type, count)
		VALUES ($1,$2,$3,1)
		ON CONFLICT (project_id, period, message_type)
		DO UPDATE SET count = usage.count + 1`,
		projectID, period, channel)
	return err
}

// UsageByChannel returns the per-channel breakdown for a project and
// period, used by the admin usage endpoint.
func (s *Store) UsageByChannel(ctx context.Context, projectID uuid.UUID, period string) ([]models.UsageBucket, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, project_id, period, message_type, count
		FROM usage WHERE project_id = $1 AND period = $2`, projectID, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UsageBucket
	for rows.Next() {
		var u models.UsageBucket
		if err := rows.Scan(&u.ID, &u.ProjectID, &u.Period, &u.MessageType, &u.Count); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

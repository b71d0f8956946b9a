//go:build integration

package db_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"deliveryengine/internal/db"
	"deliveryengine/internal/dbtest"
	"deliveryengine/internal/models"
)

func seedProject(t *testing.T, ctx context.Context, store *db.Store, monthlyLimit, rateLimit *int) *models.Project {
	t.Helper()
	id := uuid.New()
	_, err := store.Pool.Exec(ctx, `
		INSERT INTO projects (id, name, owner_email, status, monthly_limit, rate_limit_per_minute)
		VALUES ($1, 'acme', 'owner@acme.test', 'active', $2, $3)`, id, monthlyLimit, rateLimit)
	require.NoError(t, err)
	p, err := store.GetProject(ctx, id)
	require.NoError(t, err)
	return p
}

func newQueuedMessage(projectID uuid.UUID) *models.Message {
	return &models.Message{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Type:        models.ChannelEmail,
		Status:      models.MessageQueued,
		FromAddress: "from@x.test",
		ToAddress:   "to@x.test",
		Body:        "hello",
		Attempts:    0,
		MaxAttempts: models.DefaultMaxAttempts,
	}
}

func TestStoreMessageLifecycleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)
	project := seedProject(t, ctx, store, nil, nil)

	msg := newQueuedMessage(project.ID)
	err := store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := store.InsertMessage(ctx, tx, msg); err != nil {
			return err
		}
		return store.InsertEvent(ctx, tx, &models.Event{
			ID: uuid.New(), MessageID: msg.ID, ProjectID: project.ID, EventType: models.EventRequested,
		})
	})
	require.NoError(t, err)

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, models.MessageQueued, got.Status)
	require.Equal(t, 0, got.Attempts)

	events, err := store.ListEventsForMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.EventRequested, events[0].EventType)

	err = store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return store.MarkDelivered(ctx, tx, msg.ID, 1)
	})
	require.NoError(t, err)

	got, err = store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, models.MessageDelivered, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Nil(t, got.NextAttemptAt)
}

func TestStoreIdempotencyUniqueViolationIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)
	project := seedProject(t, ctx, store, nil, nil)

	key := "order-42"
	first := newQueuedMessage(project.ID)
	first.IdempotencyKey = &key
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return store.InsertMessage(ctx, tx, first)
	}))

	second := newQueuedMessage(project.ID)
	second.IdempotencyKey = &key
	err := store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return store.InsertMessage(ctx, tx, second)
	})
	require.Error(t, err)
	require.True(t, db.IsUniqueViolation(err))

	winner, err := store.GetMessageByIdempotencyKey(ctx, project.ID, key)
	require.NoError(t, err)
	require.Equal(t, first.ID, winner.ID)
}

func TestStoreClaimSkipsLockedRowsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)
	project := seedProject(t, ctx, store, nil, nil)

	const n = 6
	for i := 0; i < n; i++ {
		msg := newQueuedMessage(project.ID)
		require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			return store.InsertMessage(ctx, tx, msg)
		}))
	}

	// Two concurrent "workers" each claim batches of 3 inside their own
	// transaction. Skip-locked semantics must hand them disjoint rows
	// without either blocking on the other (testable property #6).
	const workers = 2
	const batchSize = 3

	var wg sync.WaitGroup
	claimedByWorker := make([][]uuid.UUID, workers)
	errs := make([]error, workers)

	start := make(chan struct{})
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
				claimed, err := store.ClaimQueuedMessages(ctx, tx, batchSize)
				if err != nil {
					return err
				}
				for _, m := range claimed {
					claimedByWorker[w] = append(claimedByWorker[w], m.ID)
				}
				// Hold the transaction open briefly so the other
				// worker's claim genuinely overlaps in time.
				time.Sleep(200 * time.Millisecond)
				return store.MarkFailedTerminal(ctx, tx, claimed[0].ID, 1)
			})
			errs[w] = err
		}()
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	seen := make(map[uuid.UUID]int)
	for _, ids := range claimedByWorker {
		for _, id := range ids {
			seen[id]++
		}
	}
	for id, count := range seen {
		require.Equalf(t, 1, count, "message %s claimed by more than one worker", id)
	}
	require.Equal(t, batchSize*workers, len(seen))
}

func TestStoreUsageAndRateBucketsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)
	project := seedProject(t, ctx, store, nil, nil)

	period := time.Now().UTC().Format("2006-01")
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return store.IncrementUsage(ctx, tx, project.ID, period, models.ChannelEmail)
	}))
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return store.IncrementUsage(ctx, tx, project.ID, period, models.ChannelEmail)
	}))

	total, err := store.SumUsageForPeriod(ctx, project.ID, period)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)

	window := time.Now().UTC().Truncate(time.Minute)
	count, err := store.UpsertRateBucket(ctx, project.ID, window)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	count, err = store.UpsertRateBucket(ctx, project.ID, window)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	deleted, err := store.DeleteOldRateBuckets(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)
}

func TestStoreRetentionSweepIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)
	project := seedProject(t, ctx, store, nil, nil)

	msg := newQueuedMessage(project.ID)
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := store.InsertMessage(ctx, tx, msg); err != nil {
			return err
		}
		return store.InsertEvent(ctx, tx, &models.Event{
			ID: uuid.New(), MessageID: msg.ID, ProjectID: project.ID, EventType: models.EventRequested,
		})
	}))
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return store.MarkFailedTerminal(ctx, tx, msg.ID, 3)
	}))

	// Backdate the message and its event past the retention window
	// directly through the pool, simulating 31-day-old rows.
	old := time.Now().UTC().Add(-31 * 24 * time.Hour)
	_, err := store.Pool.Exec(ctx, `UPDATE messages SET created_at = $1 WHERE id = $2`, old, msg.ID)
	require.NoError(t, err)
	_, err = store.Pool.Exec(ctx, `UPDATE events SET created_at = $1 WHERE message_id = $2`, old, msg.ID)
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	deletedEvents, err := store.DeleteOldEvents(ctx, cutoff, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1), deletedEvents)

	deletedMsgs, err := store.DeleteOldTerminalMessages(ctx, cutoff, 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1), deletedMsgs)

	_, err = store.GetMessage(ctx, msg.ID)
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestStoreAPIKeyLookupIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)
	project := seedProject(t, ctx, store, nil, nil)

	keyID := uuid.New()
	_, err := store.Pool.Exec(ctx, `
		INSERT INTO api_keys (id, project_id, key_hash, name) VALUES ($1, $2, 'deadbeef', 'ci-key')`,
		keyID, project.ID)
	require.NoError(t, err)

	key, p, err := store.GetAPIKeyAndProject(ctx, "deadbeef")
	require.NoError(t, err)
	require.Equal(t, keyID, key.ID)
	require.Equal(t, project.ID, p.ID)

	_, err = store.Pool.Exec(ctx, `UPDATE api_keys SET revoked_at = now() WHERE id = $1`, keyID)
	require.NoError(t, err)

	_, _, err = store.GetAPIKeyAndProject(ctx, "deadbeef")
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestStoreMetadataRoundTripIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)
	project := seedProject(t, ctx, store, nil, nil)

	msg := newQueuedMessage(project.ID)
	meta, err := json.Marshal(map[string]string{"template": "welcome"})
	require.NoError(t, err)
	msg.Metadata = meta

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return store.InsertMessage(ctx, tx, msg)
	}))

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.JSONEq(t, string(meta), string(got.Metadata))
}

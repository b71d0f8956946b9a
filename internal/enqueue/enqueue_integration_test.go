//go:build integration

package enqueue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"deliveryengine/internal/dbtest"
	"deliveryengine/internal/enqueue"
	"deliveryengine/internal/idempotency"
	"deliveryengine/internal/models"
	"deliveryengine/internal/quota"
	"deliveryengine/internal/ratelimit"
)

func currentPeriod() string {
	return time.Now().UTC().Format("2006-01")
}

func TestEnqueuerAcceptHappyPathIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)

	projectID := uuid.New()
	_, err := store.Pool.Exec(ctx, `
		INSERT INTO projects (id, name, owner_email, status, monthly_limit, rate_limit_per_minute)
		VALUES ($1, 'acme', 'owner@acme.test', 'active', 1000, 60)`, projectID)
	require.NoError(t, err)
	project, err := store.GetProject(ctx, projectID)
	require.NoError(t, err)

	e := enqueue.New(store, quota.New(store), ratelimit.New(store), idempotency.New(store))

	result, err := e.Accept(ctx, project, enqueue.Request{
		ProjectID: project.ID,
		Channel:   models.ChannelEmail,
		From:      "from@x.test",
		To:        "to@x.test",
		Body:      "hi",
	})
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	require.Equal(t, models.MessageQueued, result.Status)

	msg, err := store.GetMessage(ctx, result.MessageID)
	require.NoError(t, err)
	require.Equal(t, 0, msg.Attempts)

	events, err := store.ListEventsForMessage(ctx, result.MessageID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.EventRequested, events[0].EventType)
}

func TestEnqueuerRejectsSuspendedProjectIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)

	projectID := uuid.New()
	_, err := store.Pool.Exec(ctx, `
		INSERT INTO projects (id, name, owner_email, status) VALUES ($1, 'acme', 'o@x.test', 'suspended')`, projectID)
	require.NoError(t, err)
	project, err := store.GetProject(ctx, projectID)
	require.NoError(t, err)

	e := enqueue.New(store, quota.New(store), ratelimit.New(store), idempotency.New(store))
	_, err = e.Accept(ctx, project, enqueue.Request{ProjectID: project.ID, Channel: models.ChannelEmail, From: "a", To: "b", Body: "c"})
	require.Error(t, err)
	var rej *enqueue.Rejection
	require.ErrorAs(t, err, &rej)
	require.Equal(t, enqueue.RejectProjectSuspended, rej.Reason)
}

func TestEnqueuerRejectsMonthlyQuotaIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)

	projectID := uuid.New()
	_, err := store.Pool.Exec(ctx, `
		INSERT INTO projects (id, name, owner_email, status, monthly_limit) VALUES ($1, 'acme', 'o@x.test', 'active', 1)`, projectID)
	require.NoError(t, err)
	project, err := store.GetProject(ctx, projectID)
	require.NoError(t, err)

	period := currentPeriod()
	_, err = store.Pool.Exec(ctx, `
		INSERT INTO usage (project_id, period, message_type, count) VALUES ($1, $2, 'email', 1)`, projectID, period)
	require.NoError(t, err)

	e := enqueue.New(store, quota.New(store), ratelimit.New(store), idempotency.New(store))
	_, err = e.Accept(ctx, project, enqueue.Request{ProjectID: project.ID, Channel: models.ChannelEmail, From: "a", To: "b", Body: "c"})
	require.Error(t, err)
	var rej *enqueue.Rejection
	require.ErrorAs(t, err, &rej)
	require.Equal(t, enqueue.RejectMonthlyQuotaExceeded, rej.Reason)
	require.Equal(t, int64(1), rej.QuotaCurrent)
	require.Equal(t, 1, rej.QuotaLimit)

	// No message row should exist: rejection happens before insert.
	var count int
	require.NoError(t, store.Pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE project_id = $1`, projectID).Scan(&count))
	require.Equal(t, 0, count)
}

func TestEnqueuerRejectsRateLimitAndConsumesTokenIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)

	projectID := uuid.New()
	_, err := store.Pool.Exec(ctx, `
		INSERT INTO projects (id, name, owner_email, status, rate_limit_per_minute) VALUES ($1, 'acme', 'o@x.test', 'active', 3)`, projectID)
	require.NoError(t, err)
	project, err := store.GetProject(ctx, projectID)
	require.NoError(t, err)

	e := enqueue.New(store, quota.New(store), ratelimit.New(store), idempotency.New(store))

	var lastErr error
	for i := 0; i < 4; i++ {
		_, lastErr = e.Accept(ctx, project, enqueue.Request{
			ProjectID: project.ID, Channel: models.ChannelEmail, From: "a", To: "b", Body: "c",
		})
	}
	require.Error(t, lastErr)
	var rej *enqueue.Rejection
	require.ErrorAs(t, lastErr, &rej)
	require.Equal(t, enqueue.RejectRateLimitExceeded, rej.Reason)
	require.Equal(t, 4, rej.RateCurrent)
	require.Equal(t, 3, rej.RateLimit)
}

func TestEnqueuerIdempotentDuplicateIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)

	projectID := uuid.New()
	_, err := store.Pool.Exec(ctx, `
		INSERT INTO projects (id, name, owner_email, status) VALUES ($1, 'acme', 'o@x.test', 'active')`, projectID)
	require.NoError(t, err)
	project, err := store.GetProject(ctx, projectID)
	require.NoError(t, err)

	e := enqueue.New(store, quota.New(store), ratelimit.New(store), idempotency.New(store))

	req := enqueue.Request{ProjectID: project.ID, Channel: models.ChannelEmail, From: "a", To: "b", Body: "c", IdempotencyKey: "k1"}
	first, err := e.Accept(ctx, project, req)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := e.Accept(ctx, project, req)
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.MessageID, second.MessageID)
}

// TestEnqueuerConcurrentIdempotentAcceptIntegration drives testable
// property #3: N concurrent accept calls with the same idempotency key
// resolve to exactly one message id, with the unique index as the
// final arbiter and the losing transaction re-resolved via the guard.
func TestEnqueuerConcurrentIdempotentAcceptIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}
	ctx := context.Background()
	store := dbtest.StartPostgres(t)

	projectID := uuid.New()
	_, err := store.Pool.Exec(ctx, `
		INSERT INTO projects (id, name, owner_email, status) VALUES ($1, 'acme', 'o@x.test', 'active')`, projectID)
	require.NoError(t, err)
	project, err := store.GetProject(ctx, projectID)
	require.NoError(t, err)

	e := enqueue.New(store, quota.New(store), ratelimit.New(store), idempotency.New(store))

	const concurrency = 8
	ids := make([]uuid.UUID, concurrency)
	errs := make([]error, concurrency)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < concurrency; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			result, err := e.Accept(ctx, project, enqueue.Request{
				ProjectID: project.ID, Channel: models.ChannelEmail, From: "a", To: "b", Body: "c",
				IdempotencyKey: "race-key",
			})
			ids[i] = result.MessageID
			errs[i] = err
		}()
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	for i := 1; i < concurrency; i++ {
		require.Equal(t, ids[0], ids[i], "every concurrent accept must return the same message id")
	}

	var count int
	require.NoError(t, store.Pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE project_id = $1 AND idempotency_key = 'race-key'`, projectID).Scan(&count))
	require.Equal(t, 1, count)
}

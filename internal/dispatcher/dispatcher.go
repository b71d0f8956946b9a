// Package dispatcher implements the worker poll loop: claiming ready
// messages under row-level skip-locked semantics and driving each
// through the delivery state machine (spec.md §4.5).
package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"deliveryengine/internal/db"
	"deliveryengine/internal/metrics"
	"deliveryengine/internal/models"
	"deliveryengine/internal/provider"
	"deliveryengine/internal/retry"
	"deliveryengine/internal/usage"
)

// Dispatcher is one host's single polling loop. Multiple Dispatcher
// processes may run concurrently across hosts; within one process the
// loop is single-threaded — one batch at a time (spec.md §5).
type Dispatcher struct {
	store        *db.Store
	broker       *provider.Broker
	ledger       *usage.Ledger
	logger       *zap.Logger
	batchSize    int
	pollInterval time.Duration
	now          func() time.Time
	newID        func() uuid.UUID

	delivered uint64
	failed    uint64
	dead      uint64
	retried   uint64
	skipped   uint64
}

// New builds a Dispatcher. batchSize and pollInterval come from
// config.Config (WORKER_BATCH_SIZE / WORKER_POLL_INTERVAL_MS).
func New(store *db.Store, broker *provider.Broker, ledger *usage.Ledger, logger *zap.Logger, batchSize int, pollInterval time.Duration) *Dispatcher {
	return &Dispatcher{
		store:        store,
		broker:       broker,
		ledger:       ledger,
		logger:       logger,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		now:          time.Now,
		newID:        uuid.New,
	}
}

// Run blocks, polling every pollInterval until ctx is cancelled. On
// cancellation the loop exits after the in-flight poll's transaction
// commits — it never abandons a batch mid-transaction (spec.md §5).
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			if err := d.pollOnce(context.WithoutCancel(ctx)); err != nil {
				d.logger.Error("poll failed", zap.Error(err))
			}
		}
	}
}

// Counters returns the cumulative outcome counts since process start,
// used by the Supervisor's heartbeat log.
func (d *Dispatcher) Counters() (delivered, failed, dead, retried, skipped uint64) {
	return d.delivered, d.failed, d.dead, d.retried, d.skipped
}

// pollOnce runs exactly one claim-and-process transaction. Per spec.md
// §4.5's critical invariant, every provider call happens before the
// transaction commits: if the commit itself fails after a successful
// provider call, the message is recorded as still queued even though
// it was delivered. This is the engine's accepted at-least-once
// boundary, not a bug to be engineered away.
func (d *Dispatcher) pollOnce(ctx context.Context) error {
	start := d.now()

	err := d.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		claimed, err := d.store.ClaimQueuedMessages(ctx, tx, d.batchSize)
		if err != nil {
			return err
		}
		metrics.ClaimBatchSize.Observe(float64(len(claimed)))

		for _, msg := range claimed {
			if err := d.processOne(ctx, tx, msg); err != nil {
				return err
			}
		}
		return nil
	})

	metrics.ClaimDuration.Observe(d.now().Sub(start).Seconds())
	return err
}

func (d *Dispatcher) processOne(ctx context.Context, tx pgx.Tx, msg *models.Message) error {
	status, err := d.store.GetProjectStatusTx(ctx, tx, msg.ProjectID)
	if err != nil {
		return err
	}

	if status == models.ProjectSuspended {
		return d.skip(ctx, tx, msg, "Project suspended")
	}

	if msg.Attempts >= msg.MaxAttempts {
		return d.deadLetter(ctx, tx, msg)
	}

	return d.attempt(ctx, tx, msg)
}

// skip leaves the message untouched and claimable again — suspension
// pauses delivery without penalty or loss (spec.md §4.5 step 1).
func (d *Dispatcher) skip(ctx context.Context, tx pgx.Tx, msg *models.Message, reason string) error {
	evt := &models.Event{
		ID:              d.newID(),
		MessageID:       msg.ID,
		ProjectID:       msg.ProjectID,
		EventType:       models.EventSkipped,
		ProviderPayload: jsonPayload(map[string]any{"reason": reason}),
	}
	if err := d.store.InsertEvent(ctx, tx, evt); err != nil {
		return err
	}
	d.skipped++
	metrics.MessagesSkipped.WithLabelValues("project_suspended").Inc()
	return nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, tx pgx.Tx, msg *models.Message) error {
	if err := d.store.MarkDead(ctx, tx, msg.ID); err != nil {
		return err
	}
	evt := &models.Event{
		ID:        d.newID(),
		MessageID: msg.ID,
		ProjectID: msg.ProjectID,
		EventType: models.EventDead,
		ProviderPayload: jsonPayload(map[string]any{
			"reason":   "Max attempts exceeded",
			"attempts": msg.Attempts,
		}),
	}
	if err := d.store.InsertEvent(ctx, tx, evt); err != nil {
		return err
	}
	d.dead++
	metrics.MessagesDead.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

func (d *Dispatcher) attempt(ctx context.Context, tx pgx.Tx, msg *models.Message) error {
	attempts := msg.Attempts + 1

	// Critical invariant: the provider call happens before this
	// transaction commits.
	verdict := d.broker.Send(ctx, msg)

	switch {
	case verdict.Success:
		return d.handleSuccess(ctx, tx, msg, attempts, verdict)
	case verdict.Retryable:
		return d.handleRetryable(ctx, tx, msg, attempts, verdict)
	default:
		return d.handlePermanentFailure(ctx, tx, msg, attempts, verdict)
	}
}

func (d *Dispatcher) handleSuccess(ctx context.Context, tx pgx.Tx, msg *models.Message, attempts int, verdict provider.Verdict) error {
	if err := d.store.MarkDelivered(ctx, tx, msg.ID, attempts); err != nil {
		return err
	}
	evt := &models.Event{
		ID:              d.newID(),
		MessageID:       msg.ID,
		ProjectID:       msg.ProjectID,
		EventType:       models.EventDelivered,
		ProviderPayload: verdict.ProviderPayload,
	}
	if err := d.store.InsertEvent(ctx, tx, evt); err != nil {
		return err
	}
	if err := d.ledger.Record(ctx, tx, msg.ProjectID, msg.Type); err != nil {
		return err
	}
	d.delivered++
	metrics.MessagesDelivered.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

func (d *Dispatcher) handleRetryable(ctx context.Context, tx pgx.Tx, msg *models.Message, attempts int, verdict provider.Verdict) error {
	next := retry.NextAttemptAt(d.now(), attempts)
	if err := d.store.MarkRetryable(ctx, tx, msg.ID, attempts, next); err != nil {
		return err
	}
	evt := &models.Event{
		ID:        d.newID(),
		MessageID: msg.ID,
		ProjectID: msg.ProjectID,
		EventType: models.EventFailed,
		ProviderPayload: jsonPayload(map[string]any{
			"retryable":       true,
			"next_attempt_at": next,
			"backoff_seconds": int(retry.Backoff(attempts).Seconds()),
			"error":           verdict.ErrorMessage,
		}),
	}
	if err := d.store.InsertEvent(ctx, tx, evt); err != nil {
		return err
	}
	d.retried++
	metrics.MessagesRetried.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

func (d *Dispatcher) handlePermanentFailure(ctx context.Context, tx pgx.Tx, msg *models.Message, attempts int, verdict provider.Verdict) error {
	if err := d.store.MarkFailedTerminal(ctx, tx, msg.ID, attempts); err != nil {
		return err
	}
	evt := &models.Event{
		ID:        d.newID(),
		MessageID: msg.ID,
		ProjectID: msg.ProjectID,
		EventType: models.EventFailed,
		ProviderPayload: jsonPayload(map[string]any{
			"retryable": false,
			"error":     verdict.ErrorMessage,
		}),
	}
	if err := d.store.InsertEvent(ctx, tx, evt); err != nil {
		return err
	}
	d.failed++
	metrics.MessagesFailed.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

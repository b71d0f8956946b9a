// Package enqueue implements the Enqueuer: the admission pipeline that
// turns an accepted API request into a durable queued message
// (spec.md §4.4).
package enqueue

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"deliveryengine/internal/db"
	"deliveryengine/internal/idempotency"
	"deliveryengine/internal/models"
	"deliveryengine/internal/quota"
	"deliveryengine/internal/ratelimit"
)

// RejectionReason enumerates the admission failures spec.md §4.4 and
// §6 name.
type RejectionReason string

const (
	RejectProjectSuspended      RejectionReason = "project_suspended"
	RejectMonthlyQuotaExceeded  RejectionReason = "monthly_quota_exceeded"
	RejectRateLimitExceeded     RejectionReason = "rate_limit_exceeded"
)

// Rejection carries the reason and any metadata the HTTP layer needs
// to render spec.md §6's response bodies.
type Rejection struct {
	Reason       RejectionReason
	QuotaLimit   int
	QuotaCurrent int64
	RateLimit    int
	RateCurrent  int
}

func (r *Rejection) Error() string { return string(r.Reason) }

// Request is the caller-supplied admission input.
type Request struct {
	ProjectID      uuid.UUID
	Channel        models.ChannelType
	From           string
	To             string
	Subject        string
	Body           string
	Metadata       json.RawMessage
	IdempotencyKey string
}

// Result is the outcome of a successful Accept call.
type Result struct {
	MessageID uuid.UUID
	Status    models.MessageStatus
	Duplicate bool
}

// Enqueuer orchestrates admission in the exact order spec.md §4.4
// mandates: suspension (free, always fatal) → quota (read-only) →
// rate (consumes a token) → idempotency → atomic insert.
type Enqueuer struct {
	store   *db.Store
	quota   *quota.Controller
	rate    *ratelimit.Limiter
	guard   *idempotency.Guard
	newID   func() uuid.UUID
}

func New(store *db.Store, q *quota.Controller, r *ratelimit.Limiter, g *idempotency.Guard) *Enqueuer {
	return &Enqueuer{store: store, quota: q, rate: r, guard: g, newID: uuid.New}
}

// Accept runs the admission pipeline. project must already be loaded
// by the caller (the HTTP layer resolves it from the bearer key).
func (e *Enqueuer) Accept(ctx context.Context, project *models.Project, req Request) (Result, error) {
	if project.IsSuspended() {
		return Result{}, &Rejection{Reason: RejectProjectSuspended}
	}

	qv, err := e.quota.Check(ctx, project)
	if err != nil {
		return Result{}, err
	}
	if !qv.Allowed {
		return Result{}, &Rejection{Reason: RejectMonthlyQuotaExceeded, QuotaLimit: qv.Limit, QuotaCurrent: qv.Current}
	}

	rv, err := e.rate.Acquire(ctx, project)
	if err != nil {
		return Result{}, err
	}
	if !rv.Allowed {
		return Result{}, &Rejection{Reason: RejectRateLimitExceeded, RateLimit: rv.Limit, RateCurrent: rv.Current}
	}

	idem, err := e.guard.Check(ctx, project.ID, req.IdempotencyKey)
	if err != nil {
		return Result{}, err
	}
	if !idem.Fresh {
		return Result{MessageID: idem.ExistingID, Status: idem.ExistingStatus, Duplicate: true}, nil
	}

	msg := &models.Message{
		ID:          e.newID(),
		ProjectID:   project.ID,
		Type:        req.Channel,
		Status:      models.MessageQueued,
		FromAddress: req.From,
		ToAddress:   req.To,
		Body:        req.Body,
		Metadata:    req.Metadata,
		Attempts:    0,
		MaxAttempts: models.DefaultMaxAttempts,
	}
	if req.Subject != "" {
		msg.Subject = &req.Subject
	}
	if req.IdempotencyKey != "" {
		msg.IdempotencyKey = &req.IdempotencyKey
	}

	err = e.store.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := e.store.InsertMessage(ctx, tx, msg); err != nil {
			return err
		}
		evt := &models.Event{ID: e.newID(), MessageID: msg.ID, ProjectID: project.ID, EventType: models.EventRequested}
		return e.store.InsertEvent(ctx, tx, evt)
	})

	if err != nil {
		if db.IsUniqueViolation(err) {
			// Lost the race against a concurrent accept with the same
			// key; re-consult the guard to return the winner's id.
			idem, rerr := e.guard.Check(ctx, project.ID, req.IdempotencyKey)
			if rerr != nil {
				return Result{}, rerr
			}
			if !idem.Fresh {
				return Result{MessageID: idem.ExistingID, Status: idem.ExistingStatus, Duplicate: true}, nil
			}
		}
		return Result{}, err
	}

	return Result{MessageID: msg.ID, Status: msg.Status, Duplicate: false}, nil
}

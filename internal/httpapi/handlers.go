package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"deliveryengine/internal/db"
	"deliveryengine/internal/enqueue"
	"deliveryengine/internal/metrics"
	"deliveryengine/internal/models"
)

// createMessageRequest is the POST /v1/messages body (spec.md §6).
type createMessageRequest struct {
	To             string          `json:"to"`
	From           string          `json:"from"`
	Subject        string          `json:"subject,omitempty"`
	Body           string          `json:"body"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

func (a *API) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	project, ok := authFrom(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "missing auth context", nil)
		return
	}

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "request body is not valid JSON", nil)
		return
	}

	if err := validateCreateMessage(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	result, err := a.enqueuer.Accept(r.Context(), project, enqueue.Request{
		ProjectID:      project.ID,
		Channel:        models.ChannelEmail,
		From:           req.From,
		To:             req.To,
		Subject:        req.Subject,
		Body:           req.Body,
		Metadata:       req.Metadata,
		IdempotencyKey: req.IdempotencyKey,
	})

	if err != nil {
		a.writeEnqueueError(w, err)
		return
	}

	if result.Duplicate {
		writeJSON(w, http.StatusOK, map[string]any{
			"message_id": result.MessageID,
			"status":     result.Status,
			"duplicate":  true,
		})
		return
	}

	metrics.MessagesEnqueued.WithLabelValues(string(models.ChannelEmail)).Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id": result.MessageID,
		"status":     result.Status,
	})
}

func (a *API) writeEnqueueError(w http.ResponseWriter, err error) {
	var rej *enqueue.Rejection
	if !errors.As(err, &rej) {
		a.logger.Error("enqueue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to accept message", nil)
		return
	}

	metrics.AdmissionRejections.WithLabelValues(string(rej.Reason)).Inc()

	switch rej.Reason {
	case enqueue.RejectProjectSuspended:
		writeError(w, http.StatusForbidden, "project_suspended", "project is suspended", nil)
	case enqueue.RejectMonthlyQuotaExceeded:
		writeError(w, http.StatusTooManyRequests, "monthly_quota_exceeded", "monthly quota exceeded", map[string]any{
			"quota": map[string]any{"limit": rej.QuotaLimit, "current": rej.QuotaCurrent},
		})
	case enqueue.RejectRateLimitExceeded:
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "rate limit exceeded", map[string]any{
			"rate_limit": map[string]any{"limit": rej.RateLimit, "current": rej.RateCurrent, "window": "per_minute"},
		})
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to accept message", nil)
	}
}

func validateCreateMessage(req createMessageRequest) error {
	if req.To == "" {
		return errors.New("\"to\" is required")
	}
	if req.From == "" {
		return errors.New("\"from\" is required")
	}
	if req.Body == "" {
		return errors.New("\"body\" is required")
	}
	return nil
}

func (a *API) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	project, ok := authFrom(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "missing auth context", nil)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "invalid message id", nil)
		return
	}

	msg, err := a.store.GetMessage(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "message not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load message", nil)
		return
	}

	if msg.ProjectID != project.ID {
		writeError(w, http.StatusNotFound, "not_found", "message not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (a *API) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	project, ok := authFrom(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "missing auth context", nil)
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = currentPeriod()
	}

	buckets, err := a.store.UsageByChannel(r.Context(), project.ID, period)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load usage", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"period": period, "usage": buckets})
}

// Package httpapi is the HTTP transport layer: routing, authentication,
// and the request/response mapping for the core POST /v1/messages
// endpoint (spec.md §6). Router and middleware are grounded on
// Dobi-Vanish-5L3.1/cmd/api/main.go, the only example repo built on
// go-chi.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"deliveryengine/internal/db"
	"deliveryengine/internal/enqueue"
)

// API holds the process-wide resources HTTP handlers need, passed
// explicitly instead of read off package-level singletons (spec.md
// §9).
type API struct {
	store    *db.Store
	enqueuer *enqueue.Enqueuer
	logger   *zap.Logger

	// keyTouches is a bounded, drop-on-overflow job channel for the
	// fire-and-forget "last_used_at" audit write (spec.md §9): a full
	// channel means we'd rather skip the bookkeeping write than block
	// the request path on it.
	keyTouches chan uuid.UUID
}

// New builds an API. Call Drain during graceful shutdown to stop the
// key-touch worker.
func New(store *db.Store, enqueuer *enqueue.Enqueuer, logger *zap.Logger) *API {
	a := &API{
		store:      store,
		enqueuer:   enqueuer,
		logger:     logger,
		keyTouches: make(chan uuid.UUID, 256),
	}
	go a.drainKeyTouches()
	return a
}

func (a *API) touchAPIKey(id uuid.UUID) {
	select {
	case a.keyTouches <- id:
	default:
		// channel full: drop rather than block the caller.
	}
}

func (a *API) drainKeyTouches() {
	for id := range a.keyTouches {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.store.TouchAPIKey(ctx, id); err != nil {
			a.logger.Warn("failed to record api key usage", zap.Error(err))
		}
		cancel()
	}
}

// Drain closes the key-touch channel, after which the worker goroutine
// writes any touches still buffered and exits. Drain returns at once;
// it does not wait for those writes to finish. Call once, during
// graceful shutdown, after the HTTP server itself has stopped accepting
// new requests.
func (a *API) Drain() {
	close(a.keyTouches)
}

// Router builds the chi router for the API process. The caller (cmd/api)
// may mount additional routers, such as the admin control plane, onto
// the returned chi.Router before serving.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(maxBodyBytes(100 * 1024))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", a.requireAuth(a.handleCreateMessage))
		r.Get("/messages/{id}", a.requireAuth(a.handleGetMessage))
		r.Get("/usage", a.requireAuth(a.handleGetUsage))
	})

	r.Get("/healthz", a.handleHealth)

	return r
}

func maxBodyBytes(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Package admin implements the minimal control-plane read surface
// spec.md §6 names as existing (admin read/write static bearer
// tokens) without expanding into the full admin API, which spec.md §1
// places out of core.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"deliveryengine/internal/db"
)

// Admin exposes read-only operator endpoints gated by a static bearer
// token, distinct from per-project API keys.
type Admin struct {
	store      *db.Store
	readToken  string
	writeToken string
}

func New(store *db.Store, readToken, writeToken string) *Admin {
	return &Admin{store: store, readToken: readToken, writeToken: writeToken}
}

// Mount registers the admin routes under r.
func (a *Admin) Mount(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(a.requireReadToken)
		r.Get("/projects/{id}", a.handleGetProject)
		r.Get("/projects/{id}/usage", a.handleGetProjectUsage)
	})
}

func (a *Admin) requireReadToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if a.readToken == "" || token != a.readToken {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"}) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Admin) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	project, err := a.store.GetProject(r.Context(), id)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(project) //nolint:errcheck
}

func (a *Admin) handleGetProjectUsage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = time.Now().UTC().Format("2006-01")
	}

	buckets, err := a.store.UsageByChannel(r.Context(), id, period)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{"period": period, "usage": buckets}) //nolint:errcheck
}

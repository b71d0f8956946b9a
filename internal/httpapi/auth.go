package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"deliveryengine/internal/db"
	"deliveryengine/internal/models"
)

// authContextKey is the request-scoped replacement for attaching
// auth/scope onto a mutated request object (spec.md §9): handlers pull
// the authenticated project back out of the context explicitly via
// authFrom instead of reading it off a mutated *http.Request.
type authContextKey struct{}

func authFrom(ctx context.Context) (*models.Project, bool) {
	v := ctx.Value(authContextKey{})
	if v == nil {
		return nil, false
	}
	p := v.(*models.Project)
	return p, true
}

// requireAuth resolves the Authorization bearer token to a project,
// per spec.md §6: SHA-256-hex lookup, revoked/unknown keys reject with
// 401, a non-active project rejects with 403.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or malformed Authorization header", nil)
			return
		}

		hash := hashKey(token)
		key, project, err := a.store.GetAPIKeyAndProject(r.Context(), hash)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "unknown or revoked API key", nil)
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve API key", nil)
			return
		}

		if project.IsSuspended() {
			writeError(w, http.StatusForbidden, "project_suspended", "project is suspended", nil)
			return
		}

		a.touchAPIKey(key.ID)

		ctx := context.WithValue(r.Context(), authContextKey{}, project)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", errors.New("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

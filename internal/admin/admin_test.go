package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireReadTokenRejectsWrongToken(t *testing.T) {
	a := &Admin{readToken: "correct-token"}
	handler := a.requireReadToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run with the wrong token")
	}))

	r := httptest.NewRequest(http.MethodGet, "/admin/projects/x", nil)
	r.Header.Set("Authorization", "Bearer wrong-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireReadTokenRejectsEmptyConfiguredToken(t *testing.T) {
	a := &Admin{readToken: ""}
	handler := a.requireReadToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run when no read token is configured")
	}))

	r := httptest.NewRequest(http.MethodGet, "/admin/projects/x", nil)
	r.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRequireReadTokenAllowsMatchingToken(t *testing.T) {
	a := &Admin{readToken: "correct-token"}
	called := false
	handler := a.requireReadToken(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/admin/projects/x", nil)
	r.Header.Set("Authorization", "Bearer correct-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if !called {
		t.Fatal("expected the next handler to run with a matching token")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

package adminauth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bczopp/edda/internal/core/auth"
)

func TestMiddleware_NoCredentials_NoIdentity(t *testing.T) {
	var gotIdentity *auth.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = auth.FromContext(r.Context())
	})

	h := Middleware(nil, false, slog.Default())(next)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if gotIdentity != nil {
		t.Fatalf("expected no identity, got %+v", gotIdentity)
	}
}

func TestMiddleware_DevMode_ResolvesRealmSlug(t *testing.T) {
	var gotIdentity *auth.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = auth.FromContext(r.Context())
	})

	h := Middleware(nil, true, slog.Default())(next)
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Edda-Realm-Slug", "acme")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if gotIdentity == nil {
		t.Fatal("expected an identity to be resolved")
	}
	if gotIdentity.RealmSlug != "acme" {
		t.Errorf("RealmSlug = %q, want %q", gotIdentity.RealmSlug, "acme")
	}
	if gotIdentity.Role != auth.RoleAdmin {
		t.Errorf("Role = %q, want %q", gotIdentity.Role, auth.RoleAdmin)
	}
	if gotIdentity.Method != auth.MethodDev {
		t.Errorf("Method = %q, want %q", gotIdentity.Method, auth.MethodDev)
	}
}

func TestMiddleware_DevModeDisabled_IgnoresRealmHeader(t *testing.T) {
	var gotIdentity *auth.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = auth.FromContext(r.Context())
	})

	h := Middleware(nil, false, slog.Default())(next)
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Edda-Realm-Slug", "acme")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if gotIdentity != nil {
		t.Fatalf("expected dev-mode header to be ignored when devMode is false, got %+v", gotIdentity)
	}
}

func TestRequireAuth_RejectsAnonymous(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler should not be reached")
	})

	rec := httptest.NewRecorder()
	RequireAuth(next).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuth_AllowsAuthenticated(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	r := httptest.NewRequest("GET", "/", nil)
	r = r.WithContext(auth.NewContext(r.Context(), &auth.Identity{Subject: "dev:acme"}))

	RequireAuth(next).ServeHTTP(httptest.NewRecorder(), r)

	if !called {
		t.Fatal("expected next handler to be called for an authenticated request")
	}
}

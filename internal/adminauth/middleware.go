// Package adminauth authenticates requests to Edda's admin/control-plane
// API (device enrollment management, role/permission grants, capability
// registration, audit query). It is deliberately a two-tier scheme —
// API key or, in development, a realm-slug header — trimmed from the
// teacher's four-tier JWT/session/PAT/dev-header internal/auth.Middleware:
// Edda's control plane has no human-facing login UI of its own (device
// owners authenticate via internal/enroll's OIDC flow instead), so there is
// nothing here for a browser session or OIDC bearer token to do.
package adminauth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bczopp/edda/internal/core/auth"
	"github.com/bczopp/edda/pkg/apikey"
)

// Middleware resolves an Identity from either the X-API-Key header (looked
// up against store) or, when devMode is true, an unauthenticated
// X-Edda-Realm-Slug header naming the realm to impersonate as admin. It
// never itself rejects a request with no credentials — that is
// RequireAuth's job, mirroring the teacher's split between identity
// resolution and enforcement so handlers needing no auth (health checks)
// aren't forced through a 401 path.
func Middleware(store *apikey.Store, devMode bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := resolveAPIKey(r, store, logger); id != nil {
				next.ServeHTTP(w, r.WithContext(auth.NewContext(r.Context(), id)))
				return
			}

			if devMode {
				if id := resolveDevMode(r); id != nil {
					next.ServeHTTP(w, r.WithContext(auth.NewContext(r.Context(), id)))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func resolveAPIKey(r *http.Request, store *apikey.Store, logger *slog.Logger) *auth.Identity {
	raw := r.Header.Get("X-API-Key")
	if raw == "" {
		return nil
	}

	row, err := store.GetByHash(r.Context(), auth.HashAPIKey(raw))
	if err != nil {
		return nil
	}

	if row.ExpiresAt.Valid && row.ExpiresAt.Time.Before(time.Now()) {
		return nil
	}

	go func(id uuid.UUID) {
		if err := store.TouchLastUsed(context.Background(), id); err != nil {
			logger.Warn("adminauth: touching api key last_used", "error", err)
		}
	}(row.ID)

	keyID := row.ID
	return &auth.Identity{
		Subject:   "apikey:" + row.KeyPrefix,
		RealmSlug: row.RealmSlug,
		RealmID:   row.RealmID,
		Role:      row.Role,
		APIKeyID:  &keyID,
		Method:    auth.MethodAPIKey,
	}
}

// resolveDevMode trusts an explicit realm slug header with no credential
// check whatsoever. Operators must never set EDDA_DEV_MODE=true outside a
// local or CI environment.
func resolveDevMode(r *http.Request) *auth.Identity {
	slug := strings.TrimSpace(r.Header.Get("X-Edda-Realm-Slug"))
	if slug == "" {
		return nil
	}
	return &auth.Identity{
		Subject:   "dev:" + slug,
		RealmSlug: slug,
		Role:      auth.RoleAdmin,
		Method:    auth.MethodDev,
	}
}

// RequireAuth rejects any request that reached it without a resolved
// Identity, for mounting after Middleware on routes that must not be
// reachable anonymously.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.FromContext(r.Context()) == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","message":"authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Package auth carries the authenticated caller's identity through a
// request context. It deliberately does not implement any authentication
// mechanism itself (see internal/adminauth for that) — it is the shared,
// ambient Identity type that every realm-scoped handler reads, grounded on
// the teacher's own internal/core/auth.Identity/NewContext/FromContext.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Roles supported by Edda's RBAC system.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleReadonly = "readonly"
)

// ValidRoles lists all known roles in descending privilege order.
var ValidRoles = []string{RoleAdmin, RoleOperator, RoleReadonly}

// Method describes how the caller was authenticated.
const (
	MethodAPIKey = "apikey"
	MethodDev    = "dev"
)

// Identity represents the authenticated caller for the current request.
type Identity struct {
	Subject   string     // "apikey:<prefix>" or "dev:<realm-slug>"
	RealmSlug string     // Resolved realm slug
	RealmID   uuid.UUID  // Resolved realm ID
	Role      string     // One of the Role* constants
	APIKeyID  *uuid.UUID // Non-nil for API key authentication
	Method    string     // One of the Method* constants
}

type ctxKey string

const identityKey ctxKey = "auth_identity"

// NewContext stores the identity in the context.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext extracts the identity from the context.
// Returns nil if no identity is set.
func FromContext(ctx context.Context) *Identity {
	v, _ := ctx.Value(identityKey).(*Identity)
	return v
}

// IsValidRole reports whether role is a recognised RBAC role.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}

// HashAPIKey returns the SHA-256 hex digest of a raw API key.
func HashAPIKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

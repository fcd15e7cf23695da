// Package enroll implements device enrollment via OIDC single sign-on
// (a supplemented feature beyond spec.md's distilled scope, grounded on
// the teacher's internal/core/auth/oidc.go / oidc_flow.go / oidcadmin.go):
// an administrator authenticates through the realm's configured identity
// provider, and the resulting session is used to mint a short-lived,
// single-use device enrollment code that a new device redeems over
// Ratatoskr/Bifrost to receive its first Heimdall token.
package enroll

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Claims are the JWT claims extracted from the identity provider,
// adapted from internal/core/auth.OIDCClaims: "tenant_slug" becomes
// "realm_slug" and the role vocabulary is enrollment-specific
// (administrator vs. member) rather than Nightowl's on-call roles.
type Claims struct {
	Subject           string   `json:"sub"`
	Email             string   `json:"email"`
	Name              string   `json:"name"`
	PreferredUsername string   `json:"preferred_username"`
	RealmSlug         string   `json:"realm_slug"`
	Role              string   `json:"role"`
	Groups            []string `json:"groups"`
}

// DisplayName returns the best available display name.
func (c *Claims) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	if c.Email != "" {
		return c.Email
	}
	return c.Subject
}

const (
	RoleAdministrator = "administrator"
	RoleMember        = "member"
)

// resolveRole assigns a role from an explicit "role" claim or group
// membership, defaulting to the least-privileged role.
func (c *Claims) resolveRole() {
	if c.Role == RoleAdministrator || c.Role == RoleMember {
		return
	}
	for _, g := range c.Groups {
		if strings.TrimPrefix(g, "/") == "administrators" {
			c.Role = RoleAdministrator
			return
		}
	}
	c.Role = RoleMember
}

// Authenticator validates OIDC JWTs and extracts Claims, grounded on
// internal/core/auth.OIDCAuthenticator.
type Authenticator struct {
	Verifier *oidc.IDTokenVerifier
	provider *oidc.Provider
}

// NewAuthenticator performs OIDC discovery against issuerURL.
func NewAuthenticator(ctx context.Context, issuerURL, clientID string) (*Authenticator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("enroll: discovering OIDC provider %s: %w", issuerURL, err)
	}
	return &Authenticator{Verifier: provider.Verifier(&oidc.Config{ClientID: clientID}), provider: provider}, nil
}

// Endpoint returns the OAuth2 endpoint discovered from the OIDC provider.
func (a *Authenticator) Endpoint() oauth2.Endpoint { return a.provider.Endpoint() }

// AuthenticateCallbackToken validates an OIDC ID token from the
// Authorization Code flow and resolves a role.
func (a *Authenticator) AuthenticateCallbackToken(ctx context.Context, rawToken string) (*Claims, error) {
	idToken, err := a.Verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("enroll: verifying id_token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("enroll: extracting claims: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("enroll: id_token missing sub claim")
	}
	claims.resolveRole()
	return &claims, nil
}

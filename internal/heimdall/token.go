package heimdall

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenType enumerates the three token kinds of spec.md §3.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenSession TokenType = "session"
	TokenRefresh TokenType = "refresh"
)

// TokenPayload is the JSON object embedded in a token's wire form, field
// names matching spec.md §6 exactly.
type TokenPayload struct {
	TokenID     string    `json:"token_id"`
	DeviceID    string    `json:"device_id"`
	UserID      string    `json:"user_id"`
	TokenType   TokenType `json:"token_type"`
	IssuedAt    int64     `json:"issued_at"`
	ExpiresAt   int64     `json:"expires_at"`
	Permissions []string  `json:"permissions"`
}

// TokenGenerator mints signed tokens. Its method shape (constructor-injected
// signing key, Issue* methods returning a wire-form string) mirrors the
// teacher's internal/core/auth/session.go SessionManager, adapted from an
// HMAC-signed 3-segment JWT to the spec's own 2-segment Ed25519 format:
// base64(json_payload) '.' base64(ed25519_sig). Grounded on
// original_source/heimdall/src/token/generator.rs.
type TokenGenerator struct {
	signingKey ed25519.PrivateKey

	AccessTTL  time.Duration
	SessionTTL time.Duration
	RefreshTTL time.Duration
}

// NewTokenGenerator creates a TokenGenerator signing with signingKey.
func NewTokenGenerator(signingKey ed25519.PrivateKey, accessTTL, sessionTTL, refreshTTL time.Duration) *TokenGenerator {
	return &TokenGenerator{signingKey: signingKey, AccessTTL: accessTTL, SessionTTL: sessionTTL, RefreshTTL: refreshTTL}
}

func (g *TokenGenerator) ttlFor(t TokenType) time.Duration {
	switch t {
	case TokenSession:
		return g.SessionTTL
	case TokenRefresh:
		return g.RefreshTTL
	default:
		return g.AccessTTL
	}
}

// Mint creates and signs a new token of the given type for (deviceID,
// userID) carrying permissions, persisting nothing itself — callers persist
// (token_id, type, expires_at) via a Store for revocation bookkeeping.
func (g *TokenGenerator) Mint(deviceID, userID string, tokenType TokenType, permissions []string) (string, *TokenPayload, error) {
	now := time.Now()
	payload := &TokenPayload{
		TokenID:     uuid.NewString(),
		DeviceID:    deviceID,
		UserID:      userID,
		TokenType:   tokenType,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(g.ttlFor(tokenType)).Unix(),
		Permissions: permissions,
	}

	wire, err := encodeToken(payload, g.signingKey)
	if err != nil {
		return "", nil, err
	}
	return wire, payload, nil
}

func encodeToken(payload *TokenPayload, sk ed25519.PrivateKey) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("heimdall: marshaling token payload: %w", err)
	}

	b64Body := base64.RawURLEncoding.EncodeToString(body)
	sig := ed25519.Sign(sk, []byte(b64Body))
	b64Sig := base64.RawURLEncoding.EncodeToString(sig)

	return b64Body + "." + b64Sig, nil
}

// TokenValidationError is the taxonomy-typed error for token failures, per
// spec.md §6.
type TokenValidationError struct {
	Code    string
	Message string
}

func (e *TokenValidationError) Error() string {
	return fmt.Sprintf("heimdall: token %s: %s", e.Code, e.Message)
}

var (
	errMalformedToken  = &TokenValidationError{Code: "Malformed", Message: "token is not in base64(json).base64(sig) form"}
	errTokenSignature  = &TokenValidationError{Code: "InvalidSignature", Message: "token signature does not verify"}
	errTokenExpired    = &TokenValidationError{Code: "Expired", Message: "token has expired"}
	errTokenRevoked    = &TokenValidationError{Code: "Revoked", Message: "token has been revoked"}
)

// decodeToken splits and decodes a wire-form token without verifying it.
func decodeToken(wire string) (payload *TokenPayload, body, sig []byte, err error) {
	parts := strings.SplitN(wire, ".", 2)
	if len(parts) != 2 {
		return nil, nil, nil, errMalformedToken
	}
	body, err = base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, nil, nil, errMalformedToken
	}
	sig, err = base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, nil, errMalformedToken
	}
	var p TokenPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, nil, nil, errMalformedToken
	}
	return &p, []byte(parts[0]), sig, nil
}

package enroll

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// RealmResolver looks up the realm an enrollment login is scoped to, by
// slug. Realm selection happens via an explicit ?realm= query parameter
// (unlike the teacher's single-tenant-convenience fallback in
// oidc_flow.go's HandleLogin, Edda installs are expected to name their
// realm explicitly since cross-realm ambiguity would be a security bug,
// not just an inconvenience).
type RealmResolver interface {
	RealmExists(ctx context.Context, slug string) (bool, error)
}

// StateStore persists the short-lived state->realm mapping between
// HandleLogin and HandleCallback, and issued enrollment codes, per
// spec.md §5's "every suspension point" rule (these round-trip through
// Redis, not in-process memory, so a multi-replica deployment works).
type StateStore interface {
	PutState(ctx context.Context, state, realmSlug string, ttl time.Duration) error
	TakeState(ctx context.Context, state string) (realmSlug string, err error)

	PutCode(ctx context.Context, code string, rec CodeRecord, ttl time.Duration) error
	TakeCode(ctx context.Context, code string) (CodeRecord, error)
}

// CodeRecord is what an enrollment code resolves to: the authenticated
// administrator's identity, scoped to one realm, good for exactly one
// device redemption.
type CodeRecord struct {
	RealmSlug string
	Subject   string
	Email     string
	Role      string
}

// DeviceRegistrar creates the device record and mints its first Heimdall
// token once an enrollment code is redeemed. devicePubKey is the Ed25519
// public key the device itself generated and presents at redemption time —
// spec.md's Device type names this the device's immutable registered key.
// Injected per spec.md §9's trait-shaped dependency injection rule.
type DeviceRegistrar interface {
	RegisterDevice(ctx context.Context, realmSlug, ownerSubject, deviceName string, devicePubKey ed25519.PublicKey) (deviceID string, wireToken string, err error)
}

// Handler drives the OAuth2 Authorization Code flow for device
// enrollment, grounded on internal/core/auth/oidc_flow.go's
// OIDCFlowHandler.
type Handler struct {
	oauth2Cfg *oauth2.Config
	authn     *Authenticator
	realms    RealmResolver
	state     StateStore
	registrar DeviceRegistrar
	logger    *slog.Logger

	// SuccessPath is rendered after a successful login, with the issued
	// enrollment code the administrator reads aloud or scans into the
	// new device. Defaults to "/enroll/code" if empty.
	SuccessPath string
	CodeTTL     time.Duration
}

// NewHandler creates an enrollment flow Handler.
func NewHandler(oauth2Cfg *oauth2.Config, authn *Authenticator, realms RealmResolver, state StateStore, registrar DeviceRegistrar, logger *slog.Logger) *Handler {
	return &Handler{
		oauth2Cfg: oauth2Cfg,
		authn:     authn,
		realms:    realms,
		state:     state,
		registrar: registrar,
		logger:    logger,
		CodeTTL:   10 * time.Minute,
	}
}

// HandleLogin redirects the browser to the identity provider, scoped to
// the realm named by the required ?realm= query parameter.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	realmSlug := r.URL.Query().Get("realm")
	if realmSlug == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "missing realm query parameter")
		return
	}
	ok, err := h.realms.RealmExists(r.Context(), realmSlug)
	if err != nil || !ok {
		respondErr(w, http.StatusNotFound, "not_found", "unknown realm")
		return
	}

	state, err := randomToken()
	if err != nil {
		respondErr(w, http.StatusInternalServerError, "internal", "failed to generate state")
		return
	}
	if err := h.state.PutState(r.Context(), state, realmSlug, 10*time.Minute); err != nil {
		h.logger.Error("enroll: storing oauth state", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal", "failed to store state")
		return
	}

	http.Redirect(w, r, h.oauth2Cfg.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback handles the identity provider's redirect: exchanges the
// authorization code, verifies the ID token, and issues a one-time
// enrollment code for the authenticated administrator.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state := r.URL.Query().Get("state")
	if state == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "missing state parameter")
		return
	}
	realmSlug, err := h.state.TakeState(ctx, state)
	if err != nil || realmSlug == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "invalid or expired state")
		return
	}

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("enroll: identity provider returned error", "error", errParam)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "authentication failed: "+errParam)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "missing code parameter")
		return
	}

	oauth2Token, err := h.oauth2Cfg.Exchange(ctx, code)
	if err != nil {
		h.logger.Error("enroll: code exchange failed", "error", err)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "code exchange failed")
		return
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		respondErr(w, http.StatusUnauthorized, "unauthorized", "no id_token in response")
		return
	}

	claims, err := h.authn.AuthenticateCallbackToken(ctx, rawIDToken)
	if err != nil {
		h.logger.Error("enroll: token verification failed", "error", err)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid id_token")
		return
	}
	claims.RealmSlug = realmSlug

	enrollCode, err := randomToken()
	if err != nil {
		respondErr(w, http.StatusInternalServerError, "internal", "failed to generate enrollment code")
		return
	}
	rec := CodeRecord{RealmSlug: realmSlug, Subject: claims.Subject, Email: claims.Email, Role: claims.Role}
	if err := h.state.PutCode(ctx, enrollCode, rec, h.CodeTTL); err != nil {
		h.logger.Error("enroll: storing enrollment code", "error", err)
		respondErr(w, http.StatusInternalServerError, "internal", "failed to issue enrollment code")
		return
	}

	successPath := h.SuccessPath
	if successPath == "" {
		successPath = "/enroll/code"
	}
	http.Redirect(w, r, fmt.Sprintf("%s?code=%s", successPath, enrollCode), http.StatusFound)
}

// Redeem exchanges a one-time enrollment code for a registered device and
// its first Heimdall access token. The code is consumed on first use
// regardless of outcome, per spec.md §4.4's single-use challenge rule
// applied here to enrollment codes. devicePubKey is the Ed25519 key the
// device itself generated and will use to sign every Ratatoskr envelope
// and challenge/proof exchange from here on.
func (h *Handler) Redeem(ctx context.Context, code, deviceName string, devicePubKey ed25519.PublicKey) (deviceID, wireToken string, err error) {
	rec, err := h.state.TakeCode(ctx, code)
	if err != nil {
		return "", "", fmt.Errorf("enroll: redeeming code: %w", err)
	}
	return h.registrar.RegisterDevice(ctx, rec.RealmSlug, rec.Subject, deviceName, devicePubKey)
}

// redeemRequest is the device-facing wire body HandleRedeem accepts: the
// enrollment code read off HandleCallback's success page, a human-readable
// device name, and the device's freshly generated Ed25519 public key.
type redeemRequest struct {
	Code       string `json:"code"`
	DeviceName string `json:"device_name"`
	PublicKey  string `json:"public_key"` // base64-encoded, 32 raw bytes
}

type redeemResponse struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

// HandleRedeem is Redeem's HTTP transport: the device itself (not a
// browser) posts its enrollment code and generated public key here to
// complete registration and receive its first access token.
func (h *Handler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	if req.Code == "" || req.DeviceName == "" {
		respondErr(w, http.StatusBadRequest, "bad_request", "code and device_name are required")
		return
	}

	pub, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		respondErr(w, http.StatusBadRequest, "bad_request", "public_key must be a base64-encoded 32-byte Ed25519 key")
		return
	}

	deviceID, wireToken, err := h.Redeem(r.Context(), req.Code, req.DeviceName, ed25519.PublicKey(pub))
	if err != nil {
		h.logger.Warn("enroll: redeem failed", "error", err)
		respondErr(w, http.StatusUnauthorized, "unauthorized", "invalid or expired enrollment code")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(redeemResponse{DeviceID: deviceID, Token: wireToken})
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func respondErr(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(fmt.Sprintf(`{"error":%q,"message":%q}`, code, message)))
}

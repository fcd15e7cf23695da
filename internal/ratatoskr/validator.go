package ratatoskr

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"
)

// ValidationErrorKind distinguishes the four failure modes spec.md §4.2
// requires to be distinguishable and propagated verbatim to the caller.
type ValidationErrorKind string

const (
	KindSchema    ValidationErrorKind = "schema"
	KindNonce     ValidationErrorKind = "nonce"
	KindSignature ValidationErrorKind = "signature"
	KindTimestamp ValidationErrorKind = "timestamp"
)

// ValidationError is the taxonomy-typed error surfaced at the boundary; the
// original cause, if any, remains chained via errors.Unwrap.
type ValidationError struct {
	Kind    ValidationErrorKind
	Message string
	cause   error
}

func (e *ValidationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ratatoskr: %s validation failed: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("ratatoskr: %s validation failed: %s", e.Kind, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.cause }

func newValidationError(kind ValidationErrorKind, message string) *ValidationError {
	return &ValidationError{Kind: kind, Message: message}
}

const (
	minNonceSize   = 8
	signatureSize  = ed25519.SignatureSize // 64 bytes
	defaultSkewSec = 300
)

// Validator checks schema completeness, timestamp skew, nonce length/replay,
// and signature length/authenticity, in that order, per spec.md §4.2.
type Validator struct {
	nonces  *NonceCache
	skew    time.Duration
	nowFunc func() time.Time
}

// NewValidator creates a Validator. skew defaults to 300s (spec.md default)
// if zero.
func NewValidator(nonces *NonceCache, skew time.Duration) *Validator {
	if skew <= 0 {
		skew = defaultSkewSec * time.Second
	}
	return &Validator{nonces: nonces, skew: skew, nowFunc: time.Now}
}

// PublicKeyLookup resolves the current (and, during grace, deprecated)
// public key for a device, so the validator can accept signatures from
// either per the rotation-continuity invariant.
type PublicKeyLookup func(deviceID string) (current ed25519.PublicKey, deprecated ed25519.PublicKey, err error)

// Validate runs all four checks against req, short-circuiting on first
// failure in the order: schema, timestamp, nonce, signature. Schema and
// timestamp are cheap and checked before the nonce-cache round trip;
// signature verification happens last since it is the most expensive.
func (v *Validator) Validate(ctx context.Context, req *Request, lookup PublicKeyLookup) error {
	if err := v.validateSchema(req); err != nil {
		return err
	}
	if err := v.validateTimestamp(req); err != nil {
		return err
	}
	if err := v.validateNonce(ctx, req); err != nil {
		return err
	}
	return v.validateSignature(req, lookup)
}

func (v *Validator) validateSchema(req *Request) error {
	if req.RequestID == "" {
		return newValidationError(KindSchema, "request_id is empty")
	}
	if req.DeviceID == "" {
		return newValidationError(KindSchema, "device_id is empty")
	}
	if req.UserID == "" {
		return newValidationError(KindSchema, "user_id is empty")
	}
	if req.MessageType == MessageUnknown {
		return newValidationError(KindSchema, "message_type is unknown")
	}
	if len(req.Nonce) < minNonceSize {
		return newValidationError(KindNonce, "nonce shorter than 8 bytes")
	}
	if len(req.Signature) != signatureSize {
		return newValidationError(KindSignature, "signature is not 64 bytes")
	}
	return nil
}

func (v *Validator) validateTimestamp(req *Request) error {
	now := v.nowFunc().Unix()
	delta := now - req.Timestamp
	if delta < 0 {
		return newValidationError(KindTimestamp, "timestamp is in the future")
	}
	if delta > int64(v.skew.Seconds()) {
		return newValidationError(KindTimestamp, "timestamp is stale")
	}
	return nil
}

func (v *Validator) validateNonce(ctx context.Context, req *Request) error {
	fresh, err := v.nonces.CheckAndStore(ctx, req.DeviceID, req.Nonce)
	if err != nil {
		return newValidationError(KindNonce, "nonce cache unavailable")
	}
	if !fresh {
		return newValidationError(KindNonce, "nonce already seen")
	}
	return nil
}

func (v *Validator) validateSignature(req *Request, lookup PublicKeyLookup) error {
	current, deprecated, err := lookup(req.DeviceID)
	if err != nil {
		return &ValidationError{Kind: KindSignature, Message: "device key lookup failed", cause: err}
	}
	if req.VerifySignature(current) {
		return nil
	}
	if deprecated != nil && req.VerifySignature(deprecated) {
		return nil
	}
	return newValidationError(KindSignature, "signature does not verify")
}

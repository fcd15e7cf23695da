// Package heimdall implements the trust authority: challenge/proof device
// authentication and signed token issuance/validation (this file, token.go,
// validator.go, leakdetector.go), permission/role authorization (authz.go),
// and cross-user connection validation (connvalidator.go).
package heimdall

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// AuthenticationError is the taxonomy-typed error for challenge/proof
// failures, per spec.md §6.
type AuthenticationError struct {
	Code    string
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("heimdall: %s: %s", e.Code, e.Message)
}

var (
	errDeviceNotFound   = &AuthenticationError{Code: "DeviceNotFound", Message: "device is not registered"}
	errInvalidSignature = &AuthenticationError{Code: "InvalidSignature", Message: "request signature does not verify"}
	errChallengeExpired = &AuthenticationError{Code: "ChallengeExpired", Message: "challenge has expired"}
	errChallengeMismatch = &AuthenticationError{Code: "ChallengeMismatch", Message: "challenge does not match the pending one"}
	errInvalidProof     = &AuthenticationError{Code: "InvalidProof", Message: "proof does not verify against the device's public key"}
)

// DeviceLookup resolves a device's registered public key, returning
// ErrDeviceNotFound-shaped errors for unknown devices.
type DeviceLookup func(deviceID string) (ed25519.PublicKey, error)

type pendingChallenge struct {
	bytes     []byte
	deviceID  string
	expiresAt time.Time
}

// ChallengeManager implements the challenge/proof device-identity flow of
// spec.md §4.4. Grounded on
// original_source/heimdall/src/auth/challenge.rs.
type ChallengeManager struct {
	lookup DeviceLookup
	ttl    time.Duration

	mu      sync.Mutex
	pending map[string]*pendingChallenge // challenge hex -> state
	now     func() time.Time
}

// NewChallengeManager creates a ChallengeManager with the given TTL
// (spec.md default: 300s).
func NewChallengeManager(lookup DeviceLookup, ttl time.Duration) *ChallengeManager {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &ChallengeManager{lookup: lookup, ttl: ttl, pending: make(map[string]*pendingChallenge), now: time.Now}
}

// GenerateChallenge verifies requestSig over device_id || base64(pub) with
// the device's stored public key, then emits 32 random bytes (hex-encoded)
// bound to deviceID with the configured TTL.
func (c *ChallengeManager) GenerateChallenge(deviceID string, pub ed25519.PublicKey, requestSig []byte) (string, error) {
	stored, err := c.lookup(deviceID)
	if err != nil {
		return "", errDeviceNotFound
	}

	msg := append([]byte(deviceID), []byte(base64.StdEncoding.EncodeToString(pub))...)
	if !ed25519.Verify(stored, msg, requestSig) {
		return "", errInvalidSignature
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("heimdall: generating challenge: %w", err)
	}
	challenge := hex.EncodeToString(raw)

	c.mu.Lock()
	c.pending[challenge] = &pendingChallenge{
		bytes:     raw,
		deviceID:  deviceID,
		expiresAt: c.now().Add(c.ttl),
	}
	c.mu.Unlock()

	return challenge, nil
}

// ValidateProof checks that challenge matches a non-expired pending
// challenge for deviceID, and that proof is a valid Ed25519 signature over
// the raw challenge bytes under the device's public key. On success the
// challenge is consumed (single-use).
func (c *ChallengeManager) ValidateProof(deviceID, challenge string, proof []byte) error {
	c.mu.Lock()
	p, ok := c.pending[challenge]
	if ok {
		delete(c.pending, challenge) // single-use regardless of outcome
	}
	c.mu.Unlock()

	if !ok || p.deviceID != deviceID {
		return errChallengeMismatch
	}
	if c.now().After(p.expiresAt) {
		return errChallengeExpired
	}

	pub, err := c.lookup(deviceID)
	if err != nil {
		return errDeviceNotFound
	}
	if !ed25519.Verify(pub, p.bytes, proof) {
		return errInvalidProof
	}
	return nil
}


package heimdall

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func TestTokenLivenessAndRevocation(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	gen := NewTokenGenerator(priv, time.Hour, time.Hour, 24*time.Hour)
	revoke := NewInMemoryRevocationSet()
	keys := func() (ed25519.PublicKey, ed25519.PublicKey) { return pub, nil }
	v := NewTokenValidator(keys, revoke, 16, 10*time.Minute)

	wire, payload, err := gen.Mint("device-a", "user-1", TokenAccess, []string{"connection:establish"})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	got, err := v.Validate(wire)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.TokenID != payload.TokenID {
		t.Fatalf("payload mismatch")
	}

	if err := revoke.Revoke(payload.TokenID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := v.Validate(wire); err == nil {
		t.Fatalf("expected validation to fail after revocation")
	}
}

func TestTokenExpiry(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	gen := NewTokenGenerator(priv, time.Millisecond, time.Hour, time.Hour)
	keys := func() (ed25519.PublicKey, ed25519.PublicKey) { return pub, nil }
	v := NewTokenValidator(keys, NewInMemoryRevocationSet(), 16, time.Minute)

	wire, _, err := gen.Mint("device-a", "user-1", TokenAccess, nil)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// expires_at has one-second resolution; validate from a clock past it.
	v.now = func() time.Time { return time.Now().Add(2 * time.Second) }
	if _, err := v.Validate(wire); err == nil {
		t.Fatalf("expected expired token to fail validation")
	}
}

// TestRotationGrace mirrors spec.md §8 scenario 4.
func TestRotationGrace(t *testing.T) {
	pub1, priv1, _ := ed25519.GenerateKey(nil)
	pub2, _, _ := ed25519.GenerateKey(nil)

	gen := NewTokenGenerator(priv1, time.Hour, time.Hour, time.Hour)
	wire, _, err := gen.Mint("device-a", "user-1", TokenAccess, nil)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// During grace: current is K2, deprecated is K1 (the signing key).
	duringGrace := func() (ed25519.PublicKey, ed25519.PublicKey) { return pub2, pub1 }
	v := NewTokenValidator(duringGrace, NewInMemoryRevocationSet(), 16, time.Minute)
	if _, err := v.Validate(wire); err != nil {
		t.Fatalf("expected token signed by deprecated key to validate during grace: %v", err)
	}

	// After grace: only K2 remains.
	afterGrace := func() (ed25519.PublicKey, ed25519.PublicKey) { return pub2, nil }
	v2 := NewTokenValidator(afterGrace, NewInMemoryRevocationSet(), 16, time.Minute)
	if _, err := v2.Validate(wire); err == nil {
		t.Fatalf("expected token signed by old key to fail once grace has elapsed")
	}
}

func TestShouldRenew(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	gen := NewTokenGenerator(priv, time.Minute, time.Hour, time.Hour)
	keys := func() (ed25519.PublicKey, ed25519.PublicKey) { return pub, nil }
	v := NewTokenValidator(keys, NewInMemoryRevocationSet(), 16, 2*time.Minute)

	_, payload, _ := gen.Mint("device-a", "user-1", TokenAccess, nil)
	if !v.ShouldRenew(payload) {
		t.Fatalf("expected a 1-minute-TTL token with a 2-minute threshold to need renewal immediately")
	}
}

package heimdall

import (
	"crypto/ed25519"
	"log/slog"
	"testing"
	"time"

	"github.com/bczopp/edda/internal/ratatoskr"
)

func TestBifrostHandshake_AuthenticatesValidToken(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	gen := NewTokenGenerator(priv, time.Hour, time.Hour, 24*time.Hour)
	keys := func() (ed25519.PublicKey, ed25519.PublicKey) { return pub, nil }
	validator := NewTokenValidator(keys, NewInMemoryRevocationSet(), 16, 10*time.Minute)

	wire, _, err := gen.Mint("device-a", "user-1", TokenAccess, []string{"connection:establish"})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	req := &ratatoskr.Request{
		MessageType: ratatoskr.MessageConnectionRequest,
		DeviceID:    "device-a",
		UserID:      "user-1",
		Payload:     []byte(wire),
		Metadata:    map[string]string{"mesh_id": "mesh-1"},
	}
	frame, err := ratatoskr.SerializeRequest(req)
	if err != nil {
		t.Fatalf("SerializeRequest: %v", err)
	}

	h := &BifrostHandshake{Validator: validator, Logger: slog.Default()}
	deviceID, userID, meshID, err := h.Authenticate(frame)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if deviceID != "device-a" || userID != "user-1" || meshID != "mesh-1" {
		t.Fatalf("unexpected handshake result: device=%s user=%s mesh=%s", deviceID, userID, meshID)
	}
}

func TestBifrostHandshake_RejectsInvalidToken(t *testing.T) {
	otherPub, _, _ := ed25519.GenerateKey(nil)
	keys := func() (ed25519.PublicKey, ed25519.PublicKey) { return otherPub, nil }
	validator := NewTokenValidator(keys, NewInMemoryRevocationSet(), 16, 10*time.Minute)

	req := &ratatoskr.Request{
		DeviceID: "device-a",
		UserID:   "user-1",
		Payload:  []byte("not-a-real-token"),
		Metadata: map[string]string{"mesh_id": "mesh-1"},
	}
	frame, err := ratatoskr.SerializeRequest(req)
	if err != nil {
		t.Fatalf("SerializeRequest: %v", err)
	}

	h := &BifrostHandshake{Validator: validator, Logger: slog.Default()}
	if _, _, _, err := h.Authenticate(frame); err == nil {
		t.Fatalf("expected Authenticate to reject a malformed token")
	}
}

func TestBifrostHandshake_AuthenticatesWithoutLeakDetector(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	gen := NewTokenGenerator(priv, time.Hour, time.Hour, 24*time.Hour)
	keys := func() (ed25519.PublicKey, ed25519.PublicKey) { return pub, nil }
	validator := NewTokenValidator(keys, NewInMemoryRevocationSet(), 16, 10*time.Minute)

	wire, _, err := gen.Mint("device-a", "user-1", TokenAccess, nil)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	req := &ratatoskr.Request{DeviceID: "device-a", UserID: "user-1", Payload: []byte(wire), Metadata: map[string]string{"mesh_id": "mesh-1"}}
	frame, err := ratatoskr.SerializeRequest(req)
	if err != nil {
		t.Fatalf("SerializeRequest: %v", err)
	}

	// Leaks is nil here: this test only confirms a handshake without a
	// leak detector attached still authenticates, since Leaks is optional.
	h := &BifrostHandshake{Validator: validator, Logger: slog.Default()}
	if _, _, _, err := h.Authenticate(frame); err != nil {
		t.Fatalf("Authenticate without Leaks attached: %v", err)
	}
}

func TestBifrostHandshake_RejectsSchemaInvalidEnvelopeBeforeTokenCheck(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	gen := NewTokenGenerator(priv, time.Hour, time.Hour, 24*time.Hour)
	keys := func() (ed25519.PublicKey, ed25519.PublicKey) { return pub, nil }
	validator := NewTokenValidator(keys, NewInMemoryRevocationSet(), 16, 10*time.Minute)

	wire, _, err := gen.Mint("device-a", "user-1", TokenAccess, []string{"connection:establish"})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	// DeviceID/UserID omitted: fails the envelope's schema check, so
	// Authenticate must reject before it ever reaches h.Validator (a
	// perfectly well-formed token in Payload would otherwise pass).
	req := &ratatoskr.Request{
		MessageType: ratatoskr.MessageConnectionRequest,
		Payload:     []byte(wire),
		Metadata:    map[string]string{"mesh_id": "mesh-1"},
	}
	frame, err := ratatoskr.SerializeRequest(req)
	if err != nil {
		t.Fatalf("SerializeRequest: %v", err)
	}

	h := &BifrostHandshake{
		Validator: validator,
		Logger:    slog.Default(),
		Envelope:  ratatoskr.NewValidator(nil, time.Minute),
		DeviceKeys: func(deviceID string) (ed25519.PublicKey, ed25519.PublicKey, error) {
			t.Fatalf("public key lookup should not be reached for a schema-invalid envelope")
			return nil, nil, nil
		},
	}
	if _, _, _, err := h.Authenticate(frame); err == nil {
		t.Fatalf("expected Authenticate to reject a schema-invalid envelope before validating the token")
	}
}

package ratatoskr

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"
)

func testMessage(t *testing.T, kp *Keypair) *Request {
	t.Helper()
	req := &Request{
		MessageType: MessageBusinessRequest,
		RequestID:   "req-1",
		DeviceID:    "device-a",
		UserID:      "user-1",
		Timestamp:   time.Now().Unix(),
		Nonce:       []byte("01234567"),
		Payload:     []byte("hello"),
	}
	req.Sign(kp.Private)
	return req
}

func TestValidateSchema_RejectsEmptyFields(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	req := testMessage(t, kp)
	req.DeviceID = ""

	v := NewValidator(nil, 0)
	if err := v.validateSchema(req); err == nil {
		t.Fatalf("expected schema error for empty device_id")
	} else if ve, ok := err.(*ValidationError); !ok || ve.Kind != KindSchema {
		t.Fatalf("expected KindSchema, got %v", err)
	}
}

func TestValidateSchema_RejectsShortNonce(t *testing.T) {
	kp, _ := Generate()
	req := testMessage(t, kp)
	req.Nonce = []byte("short")

	v := NewValidator(nil, 0)
	err := v.validateSchema(req)
	ve, ok := err.(*ValidationError)
	if !ok || ve.Kind != KindNonce {
		t.Fatalf("expected KindNonce, got %v", err)
	}
}

func TestValidateTimestamp_RejectsStaleAndFuture(t *testing.T) {
	kp, _ := Generate()
	v := NewValidator(nil, 300*time.Second)

	stale := testMessage(t, kp)
	stale.Timestamp = time.Now().Add(-10 * time.Minute).Unix()
	if err := v.validateTimestamp(stale); err == nil {
		t.Fatalf("expected timestamp error for stale message")
	}

	future := testMessage(t, kp)
	future.Timestamp = time.Now().Add(10 * time.Minute).Unix()
	if err := v.validateTimestamp(future); err == nil {
		t.Fatalf("expected timestamp error for future message")
	}

	fresh := testMessage(t, kp)
	if err := v.validateTimestamp(fresh); err != nil {
		t.Fatalf("unexpected timestamp error: %v", err)
	}
}

func TestSignatureSoundness(t *testing.T) {
	kp, _ := Generate()
	req := testMessage(t, kp)

	if !req.VerifySignature(kp.Public) {
		t.Fatalf("expected signature to verify")
	}

	tampered := *req
	tampered.Payload = append([]byte(nil), req.Payload...)
	tampered.Payload[0] ^= 0xFF
	if tampered.VerifySignature(kp.Public) {
		t.Fatalf("expected signature to fail after payload tamper")
	}

	badSig := append([]byte(nil), req.Signature...)
	badSig[0] ^= 0xFF
	tampered2 := *req
	tampered2.Signature = badSig
	if tampered2.VerifySignature(kp.Public) {
		t.Fatalf("expected signature to fail after signature tamper")
	}

	other, _ := Generate()
	if req.VerifySignature(other.Public) {
		t.Fatalf("expected signature to fail under wrong public key")
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	kp, _ := Generate()
	req := testMessage(t, kp)
	req.Metadata = map[string]string{"target_device_id": "device-b"}

	b, err := SerializeRequest(req)
	if err != nil {
		t.Fatalf("SerializeRequest: %v", err)
	}
	got, err := DeserializeRequest(b)
	if err != nil {
		t.Fatalf("DeserializeRequest: %v", err)
	}
	if got.RequestID != req.RequestID || got.DeviceID != req.DeviceID || got.TargetDeviceID != "device-b" {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if !got.VerifySignature(kp.Public) {
		t.Fatalf("round-tripped request failed signature verification")
	}
}

func TestValidateSignature_AcceptsCurrentAndDeprecated(t *testing.T) {
	current, _ := Generate()
	deprecated, _ := Generate()
	req := testMessage(t, deprecated)

	v := NewValidator(nil, 300*time.Second)
	lookup := func(deviceID string) (ed25519.PublicKey, ed25519.PublicKey, error) {
		return current.Public, deprecated.Public, nil
	}
	if err := v.validateSignature(req, lookup); err != nil {
		t.Fatalf("expected deprecated-key signature to validate: %v", err)
	}

	lookupNoGrace := func(deviceID string) (ed25519.PublicKey, ed25519.PublicKey, error) {
		return current.Public, nil, nil
	}
	if err := v.validateSignature(req, lookupNoGrace); err == nil {
		t.Fatalf("expected signature error once grace key is gone")
	}
}

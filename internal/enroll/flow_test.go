package enroll

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type memStateStore struct {
	states map[string]string
	codes  map[string]CodeRecord
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: make(map[string]string), codes: make(map[string]CodeRecord)}
}

func (m *memStateStore) PutState(ctx context.Context, state, realmSlug string, ttl time.Duration) error {
	m.states[state] = realmSlug
	return nil
}

func (m *memStateStore) TakeState(ctx context.Context, state string) (string, error) {
	v := m.states[state]
	delete(m.states, state)
	return v, nil
}

func (m *memStateStore) PutCode(ctx context.Context, code string, rec CodeRecord, ttl time.Duration) error {
	m.codes[code] = rec
	return nil
}

func (m *memStateStore) TakeCode(ctx context.Context, code string) (CodeRecord, error) {
	rec, ok := m.codes[code]
	delete(m.codes, code)
	if !ok {
		return CodeRecord{}, errNotFound
	}
	return rec, nil
}

var errNotFound = fmt.Errorf("enroll: code not found")

type stubRegistrar struct {
	registered []string
}

func (s *stubRegistrar) RegisterDevice(ctx context.Context, realmSlug, ownerSubject, deviceName string, devicePubKey ed25519.PublicKey) (string, string, error) {
	s.registered = append(s.registered, realmSlug+"/"+ownerSubject+"/"+deviceName)
	return "device-1", "wire-token", nil
}

func TestRedeemConsumesCodeOnce(t *testing.T) {
	store := newMemStateStore()
	store.codes["abc123"] = CodeRecord{RealmSlug: "acme", Subject: "user-1", Role: RoleAdministrator}
	registrar := &stubRegistrar{}
	h := &Handler{state: store, registrar: registrar}

	pub, _, _ := ed25519.GenerateKey(nil)
	deviceID, wireToken, err := h.Redeem(context.Background(), "abc123", "kitchen-tablet", pub)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if deviceID != "device-1" || wireToken != "wire-token" {
		t.Fatalf("unexpected redeem result: %s %s", deviceID, wireToken)
	}

	if _, err := h.Redeem(context.Background(), "abc123", "kitchen-tablet", pub); err == nil {
		t.Fatalf("expected second redemption of the same code to fail")
	}
}

func TestHandleRedeem_SuccessfulRedemptionReturnsToken(t *testing.T) {
	store := newMemStateStore()
	store.codes["abc123"] = CodeRecord{RealmSlug: "acme", Subject: "user-1", Role: RoleAdministrator}
	h := &Handler{state: store, registrar: &stubRegistrar{}, logger: slog.Default()}

	pub, _, _ := ed25519.GenerateKey(nil)
	body, _ := json.Marshal(redeemRequest{
		Code:       "abc123",
		DeviceName: "kitchen-tablet",
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
	})

	r := httptest.NewRequest(http.MethodPost, "/enroll/redeem", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleRedeem(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp redeemResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.DeviceID != "device-1" || resp.Token != "wire-token" {
		t.Fatalf("unexpected redeem response: %+v", resp)
	}
}

func TestHandleRedeem_RejectsMalformedPublicKey(t *testing.T) {
	store := newMemStateStore()
	store.codes["abc123"] = CodeRecord{RealmSlug: "acme", Subject: "user-1", Role: RoleAdministrator}
	h := &Handler{state: store, registrar: &stubRegistrar{}, logger: slog.Default()}

	body, _ := json.Marshal(redeemRequest{
		Code:       "abc123",
		DeviceName: "kitchen-tablet",
		PublicKey:  "not-base64!!",
	})

	r := httptest.NewRequest(http.MethodPost, "/enroll/redeem", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleRedeem(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed public key, got %d", w.Code)
	}
}

func TestHandleRedeem_RejectsUnknownCode(t *testing.T) {
	store := newMemStateStore()
	h := &Handler{state: store, registrar: &stubRegistrar{}, logger: slog.Default()}

	pub, _, _ := ed25519.GenerateKey(nil)
	body, _ := json.Marshal(redeemRequest{
		Code:       "does-not-exist",
		DeviceName: "kitchen-tablet",
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
	})

	r := httptest.NewRequest(http.MethodPost, "/enroll/redeem", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleRedeem(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an unknown enrollment code, got %d", w.Code)
	}
}

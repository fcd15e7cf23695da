package bifrost

import (
	"crypto/ed25519"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bczopp/edda/internal/ratatoskr"
)

type recordingValidator struct {
	calls []bool // relay flag for each call
	err   error
}

func (v *recordingValidator) ValidateConnection(source, target *Connection, relay bool) error {
	v.calls = append(v.calls, relay)
	return v.err
}

func newTestServer() (*Server, *Table) {
	table := NewTable()
	monitor := NewMonitor(3, 3, 0, nil, nil)
	noRetry := RetryPolicy{BaseDelay: time.Millisecond, MaxRetries: 0}
	return &Server{Table: table, Router: NewRouter(table, nil, noRetry, 0), Monitor: monitor, Logger: slog.Default()}, table
}

func TestRouteFrameDropsMalformedPayload(t *testing.T) {
	s, _ := newTestServer()
	c := &Connection{ID: "c1", DeviceID: "d1"}

	s.routeFrame(c, []byte("not json"))

	// one malformed frame alone should not cross the threshold of 3
	if s.Monitor.ShouldBlockConnection("c1") {
		t.Fatalf("did not expect c1 blocked after a single malformed frame")
	}
}

func TestRouteFrameHeartbeatUpdatesLiveness(t *testing.T) {
	s, table := newTestServer()
	c := &Connection{ID: "c1", DeviceID: "d1"}
	table.Add(c)

	frame, err := ratatoskr.SerializeRequest(&ratatoskr.Request{MessageType: ratatoskr.MessageHeartbeat})
	if err != nil {
		t.Fatalf("SerializeRequest: %v", err)
	}

	before := c.LastHeartbeatAt
	s.routeFrame(c, frame)
	if !c.LastHeartbeatAt.After(before) {
		t.Fatalf("expected LastHeartbeatAt to advance past %v, got %v", before, c.LastHeartbeatAt)
	}
}

func TestRouteFrameConsultsValidatorWithRelayWhenTargetOffline(t *testing.T) {
	s, _ := newTestServer()
	validator := &recordingValidator{}
	s.Validator = validator

	c := &Connection{ID: "c1", DeviceID: "d1"}
	frame, err := ratatoskr.SerializeRequest(&ratatoskr.Request{
		MessageType: ratatoskr.MessageBusinessRequest,
		Metadata:    map[string]string{"target_device_id": "d2"},
	})
	if err != nil {
		t.Fatalf("SerializeRequest: %v", err)
	}

	s.routeFrame(c, frame)

	if len(validator.calls) != 1 || !validator.calls[0] {
		t.Fatalf("expected a single validation call with relay=true for an offline target, got %+v", validator.calls)
	}
}

func TestRouteFrameRejectedByValidatorCountsAsInvalidMessage(t *testing.T) {
	s, _ := newTestServer()
	s.Validator = &recordingValidator{err: errors.New("user isolation violation")}

	c := &Connection{ID: "c1", DeviceID: "d1"}
	frame, err := ratatoskr.SerializeRequest(&ratatoskr.Request{
		MessageType: ratatoskr.MessageBusinessRequest,
		Metadata:    map[string]string{"target_device_id": "d2"},
	})
	if err != nil {
		t.Fatalf("SerializeRequest: %v", err)
	}

	for i := 0; i < 3; i++ {
		s.routeFrame(c, frame)
	}

	if !s.Monitor.ShouldBlockConnection("c1") {
		t.Fatalf("expected connection blocked after repeated validator rejections")
	}
}

func TestRouteFrameValidatesEnvelopeBeforeHeartbeatDispatch(t *testing.T) {
	s, table := newTestServer()
	s.EnvelopeValidator = ratatoskr.NewValidator(nil, time.Minute)
	s.DeviceKeys = func(deviceID string) (ed25519.PublicKey, ed25519.PublicKey, error) {
		t.Fatalf("public key lookup should not be reached for a schema-invalid envelope")
		return nil, nil, nil
	}

	c := &Connection{ID: "c1", DeviceID: "d1"}
	table.Add(c)

	// Missing request_id/user_id: fails the envelope's schema check before
	// the nonce cache (nil here) or signature is ever touched.
	frame, err := ratatoskr.SerializeRequest(&ratatoskr.Request{MessageType: ratatoskr.MessageHeartbeat, DeviceID: "d1"})
	if err != nil {
		t.Fatalf("SerializeRequest: %v", err)
	}

	before := c.LastHeartbeatAt
	s.routeFrame(c, frame)
	if c.LastHeartbeatAt.After(before) {
		t.Fatalf("expected heartbeat liveness update to be skipped for a schema-invalid envelope")
	}
}

func TestRouteFrameRejectedByEnvelopeValidatorCountsAsInvalidMessage(t *testing.T) {
	s, _ := newTestServer()
	s.EnvelopeValidator = ratatoskr.NewValidator(nil, time.Minute)
	s.DeviceKeys = func(deviceID string) (ed25519.PublicKey, ed25519.PublicKey, error) {
		t.Fatalf("public key lookup should not be reached for a schema-invalid envelope")
		return nil, nil, nil
	}

	c := &Connection{ID: "c1", DeviceID: "d1"}
	// Missing request_id/user_id/nonce/signature: fails schema validation.
	frame, err := ratatoskr.SerializeRequest(&ratatoskr.Request{
		MessageType: ratatoskr.MessageBusinessRequest,
		DeviceID:    "d1",
		Metadata:    map[string]string{"target_device_id": "d2"},
	})
	if err != nil {
		t.Fatalf("SerializeRequest: %v", err)
	}

	for i := 0; i < 3; i++ {
		s.routeFrame(c, frame)
	}

	if !s.Monitor.ShouldBlockConnection("c1") {
		t.Fatalf("expected connection blocked after repeated envelope-validation rejections")
	}
}

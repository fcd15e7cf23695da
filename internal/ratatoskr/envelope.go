package ratatoskr

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// MessageType enumerates the Ratatoskr message kinds, wire-encoded as u32
// per spec.md §6.
type MessageType uint32

const (
	MessageUnknown           MessageType = 0
	MessageConnectionRequest MessageType = 1
	MessageConnectionResponse MessageType = 2
	MessageBusinessRequest   MessageType = 3
	MessageHeartbeat         MessageType = 4
	MessageDisconnect        MessageType = 5
	MessageError             MessageType = 6
)

// Request is the signed envelope every inter-device message travels in.
// Field order/semantics follow spec.md §3 exactly.
type Request struct {
	MessageType MessageType       `json:"message_type"`
	RequestID   string            `json:"request_id"`
	DeviceID    string            `json:"device_id"`
	UserID      string            `json:"user_id"`
	Timestamp   int64             `json:"timestamp"`
	Nonce       []byte            `json:"nonce"`
	Signature   []byte            `json:"signature"`
	Payload     []byte            `json:"payload"`
	Metadata    map[string]string `json:"metadata"`

	// TargetDeviceID is carried in Metadata["target_device_id"] on the wire
	// but surfaced here for routing convenience.
	TargetDeviceID string `json:"-"`
}

// Response mirrors Request but replaces signature/nonce with an outcome.
type Response struct {
	MessageType  MessageType       `json:"message_type"`
	RequestID    string            `json:"request_id"`
	Success      bool              `json:"success"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Payload      []byte            `json:"payload"`
	Metadata     map[string]string `json:"metadata"`
}

// SignedMessage is the byte sequence that gets Ed25519-signed:
// SHA-256(request_id || device_id || user_id || BE64(timestamp) || nonce || payload)
func SignedMessage(requestID, deviceID, userID string, timestamp int64, nonce, payload []byte) []byte {
	h := sha256.New()
	h.Write([]byte(requestID))
	h.Write([]byte(deviceID))
	h.Write([]byte(userID))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	h.Write(ts[:])
	h.Write(nonce)
	h.Write(payload)
	return h.Sum(nil)
}

// Sign computes and sets req.Signature using sk over the canonical signed
// message derived from req's other fields.
func (req *Request) Sign(sk ed25519.PrivateKey) {
	msg := SignedMessage(req.RequestID, req.DeviceID, req.UserID, req.Timestamp, req.Nonce, req.Payload)
	req.Signature = ed25519.Sign(sk, msg)
}

// VerifySignature reports whether req.Signature is valid under pub.
func (req *Request) VerifySignature(pub ed25519.PublicKey) bool {
	msg := SignedMessage(req.RequestID, req.DeviceID, req.UserID, req.Timestamp, req.Nonce, req.Payload)
	return Verify(pub, msg, req.Signature)
}

// SerializeRequest marshals req to its wire form (length-prefixing is
// handled by the transport framer in bifrost; this returns the JSON body).
func SerializeRequest(req *Request) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("serializing request: %w", err)
	}
	return b, nil
}

// DeserializeRequest parses a wire-form request body.
func DeserializeRequest(b []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, fmt.Errorf("deserializing request: %w", err)
	}
	if req.Metadata != nil {
		req.TargetDeviceID = req.Metadata["target_device_id"]
	}
	return &req, nil
}

// SerializeResponse marshals resp to its wire form.
func SerializeResponse(resp *Response) ([]byte, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("serializing response: %w", err)
	}
	return b, nil
}

// DeserializeResponse parses a wire-form response body.
func DeserializeResponse(b []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, fmt.Errorf("deserializing response: %w", err)
	}
	return &resp, nil
}

package heimdall

import (
	"context"
	"log/slog"
	"time"

	"github.com/bczopp/edda/internal/ratatoskr"
)

// BifrostHandshake adapts a TokenValidator to internal/bifrost.Handshake:
// the first frame on a connection is a ratatoskr connection-request
// envelope whose Payload carries the device's wire-form access token, and
// whose Metadata carries the mesh the device belongs to. When Leaks is
// set, every successful handshake is also recorded with the leak
// detector, so a token replayed from more devices than
// EDDA_MAX_DEVICES_PER_TOKEN allows surfaces a LeakAlert. The observation
// window lives in Redis; only the bifrost process performs handshakes, so
// only connections to bifrost are recorded.
type BifrostHandshake struct {
	Validator *TokenValidator
	Leaks     *LeakDetector
	Logger    *slog.Logger

	// Envelope validates the handshake frame itself (schema, nonce-replay,
	// signature, timestamp-skew) before the bearer token inside its
	// payload is even inspected, per spec.md §3/§4.2. Optional; nil skips
	// envelope validation. DeviceKeys resolves the connecting device's
	// registered public key and must be set whenever Envelope is.
	Envelope   *ratatoskr.Validator
	DeviceKeys ratatoskr.PublicKeyLookup
}

// Authenticate implements internal/bifrost.Handshake.
func (h *BifrostHandshake) Authenticate(frame []byte) (deviceID, userID, meshID string, err error) {
	req, err := ratatoskr.DeserializeRequest(frame)
	if err != nil {
		return "", "", "", err
	}

	if h.Envelope != nil {
		if err := h.Envelope.Validate(context.Background(), req, h.DeviceKeys); err != nil {
			return "", "", "", err
		}
	}

	payload, err := h.Validator.Validate(string(req.Payload))
	if err != nil {
		return "", "", "", err
	}

	if h.Leaks != nil {
		if alert, err := h.Leaks.Record(context.Background(), payload.TokenID, payload.DeviceID, time.Now()); err != nil {
			h.Logger.Error("heimdall: recording leak-detector observation", "error", err)
		} else if alert != nil {
			h.Logger.Warn("heimdall: token used from anomalous device count",
				"token_id", alert.TokenID, "device_count", alert.Count, "devices", alert.Devices)
		}
	}

	return payload.DeviceID, payload.UserID, req.Metadata["mesh_id"], nil
}

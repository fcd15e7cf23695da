package bifrost

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bczopp/edda/internal/ratatoskr"
)

// Handshake is the minimal capability Bifrost needs from Heimdall to
// validate a connecting device before it leaves the Unauthenticated state,
// injected per spec.md §9's trait-shaped dependency injection.
type Handshake interface {
	// Authenticate validates the first frame received on an
	// Unauthenticated connection and returns the device/user/mesh it
	// belongs to, or an error if the handshake frame is invalid.
	Authenticate(frame []byte) (deviceID, userID, meshID string, err error)
}

// ConnectionValidator is the minimal capability Bifrost needs from
// Heimdall to enforce cross-user connection isolation (spec.md §4.6)
// before a frame is handed to Router.Route, injected per spec.md §9.
type ConnectionValidator interface {
	ValidateConnection(source, target *Connection, relay bool) error
}

// upgrader matches the teacher's CORS posture (internal/core/httpserver):
// origin checking is left to the caller via CheckOrigin, defaulting here to
// same-origin-only unless explicitly relaxed by the caller.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Server accepts WebSocket upgrades and drives each connection's read loop,
// feeding authenticated frames to Router and unauthenticated ones to
// Handshake, and failed/invalid frames to Monitor. Grounded on the teacher's
// internal/httpserver.Server construction pattern (constructor-injected
// deps, a Routes()-style mount point), adapted from HTTP handlers to a
// long-lived WebSocket loop.
type Server struct {
	Table     *Table
	Router    *Router
	Monitor   *Monitor
	Handshake Handshake
	Validator ConnectionValidator // optional; nil skips cross-user isolation checks
	Logger    *slog.Logger

	// EnvelopeValidator checks schema, nonce-replay, signature, and
	// timestamp-skew on every post-handshake frame per spec.md §3's
	// "every request validates before being routed" invariant. Optional;
	// nil skips envelope validation (used by tests that exercise routing
	// in isolation). DeviceKeys resolves the signing device's public key
	// and must be set whenever EnvelopeValidator is.
	EnvelopeValidator *ratatoskr.Validator
	DeviceKeys        ratatoskr.PublicKeyLookup

	HeartbeatMaxIdle time.Duration
	ConnTTL          time.Duration
}

// ServeHTTP upgrades the request to a WebSocket and registers the resulting
// connection in Unauthenticated status, then runs its read loop until the
// socket closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Connection{
		ID:              uuid.NewString(),
		Status:          StatusUnauthenticated,
		LastHeartbeatAt: time.Now(),
		ExpiresAt:       time.Now().Add(s.ConnTTL),
		sink:            conn,
	}
	s.Table.Add(c)
	defer func() {
		s.Table.Remove(c.ID)
		_ = c.Close()
	}()

	s.readLoop(c)
}

func (s *Server) readLoop(c *Connection) {
	for {
		_, frame, err := c.sink.ReadMessage()
		if err != nil {
			return
		}

		if c.Status == StatusUnauthenticated {
			deviceID, userID, meshID, err := s.Handshake.Authenticate(frame)
			if err != nil {
				s.Monitor.RecordFailedAuth(c.ID, c.DeviceID, "")
				if s.Monitor.ShouldBlockConnection(c.ID) {
					return
				}
				continue
			}
			c.DeviceID = deviceID
			c.UserID = userID
			c.MeshID = meshID
			c.Status = StatusActive
			s.Table.Add(c) // re-index now that DeviceID is known
			continue
		}

		if s.Monitor.ShouldBlockConnection(c.ID) {
			return
		}

		c.LastMessageAt = time.Now()
		s.routeFrame(c, frame)
	}
}

// routeFrame dispatches a post-handshake frame: a heartbeat only refreshes
// c's liveness, a disconnect ends the loop, and anything else is validated
// for cross-user isolation (when a Validator is attached) and forwarded to
// the target device via Router. Malformed or disallowed frames count
// against the connection's invalid-message threshold rather than tearing
// the socket down outright, per spec.md §4.7.
func (s *Server) routeFrame(c *Connection, frame []byte) {
	req, err := ratatoskr.DeserializeRequest(frame)
	if err != nil {
		s.Monitor.RecordInvalidMessage(c.ID, c.DeviceID)
		return
	}

	if s.EnvelopeValidator != nil {
		if err := s.EnvelopeValidator.Validate(context.Background(), req, s.DeviceKeys); err != nil {
			s.Monitor.RecordInvalidMessage(c.ID, c.DeviceID)
			return
		}
	}

	switch req.MessageType {
	case ratatoskr.MessageHeartbeat:
		s.Heartbeat(c)
		return
	case ratatoskr.MessageDisconnect:
		return
	}

	if req.TargetDeviceID == "" {
		s.Monitor.RecordInvalidMessage(c.ID, c.DeviceID)
		return
	}

	if s.Validator != nil {
		targets := s.Table.ForDevice(req.TargetDeviceID)
		relay := len(targets) == 0 // no live direct connection: message travels via Router's relay fallback
		var target *Connection
		if len(targets) > 0 {
			target = targets[0]
		} else {
			target = &Connection{DeviceID: req.TargetDeviceID}
		}
		if err := s.Validator.ValidateConnection(c, target, relay); err != nil {
			s.Monitor.RecordInvalidMessage(c.ID, c.DeviceID)
			return
		}
	}

	if err := s.Router.Route(context.Background(), req.TargetDeviceID, frame); err != nil {
		s.Logger.Warn("bifrost: routing frame", "source", c.DeviceID, "target", req.TargetDeviceID, "error", err)
	}
}

// Heartbeat marks c's last-heartbeat timestamp as now, per spec.md §4.7.
func (s *Server) Heartbeat(c *Connection) {
	s.Table.RecordHeartbeat(c.ID, time.Now())
}

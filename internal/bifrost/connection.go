// Package bifrost implements the WebSocket relay and message router that
// terminates Ratatoskr sessions: the connection table (this file), routing
// with retry/backoff and relay fallback (router.go, relay.go), guest-mesh
// isolation and user confirmation (guest.go, confirmation.go), the WebSocket
// transport (ws.go), and the intrusion/connection monitor (intrusion.go).
package bifrost

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status is a connection's place in the state machine described by
// spec.md §4.7: Active initially, externally settable to Idle/Suspicious,
// and Blocked as a terminal state until explicit unblock or expiry.
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusActive          Status = "active"
	StatusIdle            Status = "idle"
	StatusSuspicious      Status = "suspicious"
	StatusBlocked         Status = "blocked"
)

// Connection is one live WebSocket session. Multiple Connections may share a
// DeviceID; routing fans out to all of them.
type Connection struct {
	ID       string
	DeviceID string
	UserID   string
	MeshID   string // "main" or "guest-<uuid>"

	Status Status

	LastHeartbeatAt time.Time
	LastMessageAt   time.Time
	ExpiresAt       time.Time

	sink *websocket.Conn
	mu   sync.Mutex
}

// Send writes a text frame to the underlying socket, serializing concurrent
// writers the way gorilla/websocket requires (one writer per connection at a
// time).
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink.Close()
}

// Table is the connection table keyed by both connection_id and device_id,
// guarded by a single RWMutex (readers-preferred for hot-path lookups,
// exclusive for mutation), per spec.md §5's shared-resource policy.
type Table struct {
	mu          sync.RWMutex
	byConn      map[string]*Connection
	byDevice    map[string]map[string]*Connection // device_id -> conn_id -> Connection
}

// NewTable creates an empty connection table.
func NewTable() *Table {
	return &Table{
		byConn:   make(map[string]*Connection),
		byDevice: make(map[string]map[string]*Connection),
	}
}

// Add registers a new connection.
func (t *Table) Add(c *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byConn[c.ID] = c
	if t.byDevice[c.DeviceID] == nil {
		t.byDevice[c.DeviceID] = make(map[string]*Connection)
	}
	t.byDevice[c.DeviceID][c.ID] = c
}

// Remove deregisters a connection by id, if present.
func (t *Table) Remove(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byConn[connID]
	if !ok {
		return
	}
	delete(t.byConn, connID)
	if byID := t.byDevice[c.DeviceID]; byID != nil {
		delete(byID, connID)
		if len(byID) == 0 {
			delete(t.byDevice, c.DeviceID)
		}
	}
}

// Get returns a connection by id.
func (t *Table) Get(connID string) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.byConn[connID]
	return c, ok
}

// ForDevice returns all live connections for a device, or nil if none.
func (t *Table) ForDevice(deviceID string) []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	byID := t.byDevice[deviceID]
	if len(byID) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	return out
}

// All returns every live connection. Used by Broadcast.
func (t *Table) All() []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Connection, 0, len(t.byConn))
	for _, c := range t.byConn {
		out = append(out, c)
	}
	return out
}

// RecordHeartbeat updates last_heartbeat_at for a connection.
func (t *Table) RecordHeartbeat(connID string, at time.Time) {
	t.mu.RLock()
	c, ok := t.byConn[connID]
	t.mu.RUnlock()
	if !ok {
		return
	}
	c.mu.Lock()
	c.LastHeartbeatAt = at
	c.mu.Unlock()
}

// IsHeartbeatValid reports whether now - last_heartbeat_at <= maxIdle.
func (c *Connection) IsHeartbeatValid(now time.Time, maxIdle time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.LastHeartbeatAt) <= maxIdle
}

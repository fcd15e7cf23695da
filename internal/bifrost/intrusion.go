package bifrost

import (
	"fmt"
	"sync"
	"time"
)

// AlertKind enumerates the SecurityAlert kinds the monitor can raise, per
// spec.md §4.7. Grounded on original_source/bifrost/src/security/intrusion.rs.
type AlertKind string

const (
	AlertRepeatedFailedAuth   AlertKind = "repeated_failed_auth"
	AlertRepeatedInvalidMsg   AlertKind = "repeated_invalid_message"
)

// SecurityAlert is emitted after the counter lock is released, per
// spec.md §5's "alert emission happens after the lock is released".
type SecurityAlert struct {
	Kind         AlertKind
	Message      string
	ConnectionID string
	DeviceID     string
}

// TokenRevoker is the minimal capability interface the monitor needs to
// optionally revoke tokens on block, injected per spec.md §9's
// trait-shaped dependency injection (no global state).
type TokenRevoker interface {
	Revoke(tokenID string) error
}

// AlertSink receives SecurityAlert values; production wiring delivers them
// to Slack (see internal/app's messagingAlertSink), tests supply a recording stub.
type AlertSink interface {
	Send(alert SecurityAlert)
}

type counterState struct {
	failedAuth     int
	invalidMessage int
	deviceID       string
}

// Monitor implements the per-connection failed-auth/invalid-message counter
// and status state machine described by spec.md §4.7/§8 ("block
// monotonicity"). Blocked is terminal until ExplicitUnblock or temporary
// expiry.
type Monitor struct {
	mu       sync.Mutex
	counters map[string]*counterState // connection id -> counters
	statuses map[string]Status        // connection id -> status

	blockedConns    map[string]*time.Time // conn id -> unblock_at (nil = permanent)
	blockedDevices  map[string]*time.Time // device id -> unblock_at (nil = permanent)

	failedAuthThreshold     int
	invalidMessageThreshold int
	tempBlockDuration       time.Duration

	revoker TokenRevoker
	sink    AlertSink
	now     func() time.Time
}

// NewMonitor creates a Monitor with the given per-type thresholds. revoker
// and sink may be nil (no-op).
func NewMonitor(failedAuthThreshold, invalidMessageThreshold int, tempBlockDuration time.Duration, revoker TokenRevoker, sink AlertSink) *Monitor {
	return &Monitor{
		counters:                make(map[string]*counterState),
		statuses:                make(map[string]Status),
		blockedConns:            make(map[string]*time.Time),
		blockedDevices:          make(map[string]*time.Time),
		failedAuthThreshold:     failedAuthThreshold,
		invalidMessageThreshold: invalidMessageThreshold,
		tempBlockDuration:       tempBlockDuration,
		revoker:                 revoker,
		sink:                    sink,
		now:                     time.Now,
	}
}

func (m *Monitor) counterFor(connID, deviceID string) *counterState {
	c, ok := m.counters[connID]
	if !ok {
		c = &counterState{deviceID: deviceID}
		m.counters[connID] = c
		m.statuses[connID] = StatusActive
	}
	return c
}

// RecordFailedAuth increments the failed-auth counter for connID and blocks
// the connection (and its device) once the threshold is crossed, emitting a
// SecurityAlert after the lock is released, per spec.md §8 scenario 5.
func (m *Monitor) RecordFailedAuth(connID, deviceID string, revokeTokenID string) {
	var alert *SecurityAlert

	m.mu.Lock()
	c := m.counterFor(connID, deviceID)
	c.failedAuth++
	crossed := c.failedAuth >= m.failedAuthThreshold && m.statuses[connID] != StatusBlocked
	if crossed {
		m.blockLocked(connID, deviceID)
		alert = &SecurityAlert{
			Kind:         AlertRepeatedFailedAuth,
			Message:      fmt.Sprintf("connection %s exceeded failed-auth threshold", connID),
			ConnectionID: connID,
			DeviceID:     deviceID,
		}
	}
	m.mu.Unlock()

	if alert != nil {
		if revokeTokenID != "" && m.revoker != nil {
			_ = m.revoker.Revoke(revokeTokenID)
		}
		if m.sink != nil {
			m.sink.Send(*alert)
		}
	}
}

// RecordInvalidMessage increments the invalid-message counter and blocks the
// connection once the threshold is crossed, by the same protocol as
// RecordFailedAuth (but never blocks the device, only the connection, per
// spec.md §4.7's enumeration of what is inserted on which threshold).
func (m *Monitor) RecordInvalidMessage(connID, deviceID string) {
	var alert *SecurityAlert

	m.mu.Lock()
	c := m.counterFor(connID, deviceID)
	c.invalidMessage++
	crossed := c.invalidMessage >= m.invalidMessageThreshold && m.statuses[connID] != StatusBlocked
	if crossed {
		m.statuses[connID] = StatusBlocked
		unblockAt := m.now().Add(m.tempBlockDuration)
		m.blockedConns[connID] = &unblockAt
		alert = &SecurityAlert{
			Kind:         AlertRepeatedInvalidMsg,
			Message:      fmt.Sprintf("connection %s exceeded invalid-message threshold", connID),
			ConnectionID: connID,
			DeviceID:     deviceID,
		}
	}
	m.mu.Unlock()

	if alert != nil && m.sink != nil {
		m.sink.Send(*alert)
	}
}

// blockLocked marks both the connection and device blocked permanently.
// Caller must hold m.mu.
func (m *Monitor) blockLocked(connID, deviceID string) {
	m.statuses[connID] = StatusBlocked
	m.blockedConns[connID] = nil
	m.blockedDevices[deviceID] = nil
}

// ShouldBlockConnection reports whether connID is currently blocked.
func (m *Monitor) ShouldBlockConnection(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blockedConns[connID]
	return ok
}

// ShouldBlockDevice reports whether deviceID is currently blocked.
func (m *Monitor) ShouldBlockDevice(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blockedDevices[deviceID]
	return ok
}

// Unblock explicitly lifts a block on a connection (and, if alsoDevice is
// set, its device), the only way out of Blocked besides temporary expiry.
func (m *Monitor) Unblock(connID, deviceID string, alsoDevice bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blockedConns, connID)
	if alsoDevice {
		delete(m.blockedDevices, deviceID)
	}
	if st, ok := m.statuses[connID]; ok && st == StatusBlocked {
		m.statuses[connID] = StatusActive
	}
	if c, ok := m.counters[connID]; ok {
		c.failedAuth = 0
		c.invalidMessage = 0
	}
}

// SweepTemporaryBlocks lifts any temporary block whose unblock_at has
// passed. Intended to be run by a periodic background task per spec.md §5.
func (m *Monitor) SweepTemporaryBlocks() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for connID, unblockAt := range m.blockedConns {
		if unblockAt != nil && !now.Before(*unblockAt) {
			delete(m.blockedConns, connID)
			if st, ok := m.statuses[connID]; ok && st == StatusBlocked {
				m.statuses[connID] = StatusActive
			}
		}
	}
}

// ConnStatus returns the current state-machine value for a connection.
func (m *Monitor) ConnStatus(connID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.statuses[connID]; ok {
		return st
	}
	return StatusActive
}

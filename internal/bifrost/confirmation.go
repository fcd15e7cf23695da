package bifrost

import (
	"sync"
	"time"
)

// ConfirmationOutcome is the result of submitting one Allow/Deny choice to a
// pending guest-to-owner data transfer, per spec.md §4.3 and scenario 3.
type ConfirmationOutcome string

const (
	OutcomePending ConfirmationOutcome = "pending"
	OutcomeTooSoon ConfirmationOutcome = "too_soon"
	OutcomeDenied  ConfirmationOutcome = "denied"
	OutcomeAllowed ConfirmationOutcome = "allowed"
)

type pendingTransfer struct {
	allowCount   int
	lastAllowAt  time.Time
	hasLastAllow bool
	denied       bool
}

// UserConfirmationManager gates a guest-initiated data transfer behind N
// consecutive Allow choices from the owner, each separated by at least
// minInterval; a single Deny aborts immediately. Grounded on
// original_source/bifrost/src/guest/user_confirmation.rs.
type UserConfirmationManager struct {
	mu          sync.Mutex
	pending     map[string]*pendingTransfer // request id -> state
	required    int
	minInterval time.Duration
	now         func() time.Time
}

// NewUserConfirmationManager creates a manager requiring `required`
// consecutive Allow choices (spec.md allows 2 or 3), each at least
// minInterval apart.
func NewUserConfirmationManager(required int, minInterval time.Duration) *UserConfirmationManager {
	if required != 2 && required != 3 {
		required = 2
	}
	return &UserConfirmationManager{
		pending:     make(map[string]*pendingTransfer),
		required:    required,
		minInterval: minInterval,
		now:         time.Now,
	}
}

// Begin registers a new pending transfer request, returning Pending with a
// count of zero confirmations so far.
func (m *UserConfirmationManager) Begin(requestID string) ConfirmationOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[requestID] = &pendingTransfer{}
	return OutcomePending
}

// Allow records an Allow choice at time t, returning TooSoon if it arrives
// before minInterval has elapsed since the previous Allow (and does not
// count toward the total), Allowed once the required count is reached, or
// Pending otherwise.
func (m *UserConfirmationManager) Allow(requestID string, t time.Time) ConfirmationOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[requestID]
	if !ok || p.denied {
		return OutcomeDenied
	}

	if p.hasLastAllow && t.Sub(p.lastAllowAt) < m.minInterval {
		return OutcomeTooSoon
	}

	p.allowCount++
	p.lastAllowAt = t
	p.hasLastAllow = true

	if p.allowCount >= m.required {
		delete(m.pending, requestID)
		return OutcomeAllowed
	}
	return OutcomePending
}

// Deny aborts a pending transfer immediately.
func (m *UserConfirmationManager) Deny(requestID string) ConfirmationOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pending[requestID]; ok {
		p.denied = true
	}
	delete(m.pending, requestID)
	return OutcomeDenied
}

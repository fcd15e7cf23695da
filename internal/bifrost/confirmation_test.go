package bifrost

import (
	"testing"
	"time"
)

// TestTwoConfirmationGuestTransfer mirrors spec.md §8 scenario 3 exactly.
func TestTwoConfirmationGuestTransfer(t *testing.T) {
	m := NewUserConfirmationManager(2, 5*time.Second)
	base := time.Unix(0, 0)

	if got := m.Begin("req-1"); got != OutcomePending {
		t.Fatalf("Begin: got %v, want Pending", got)
	}

	if got := m.Allow("req-1", base); got != OutcomePending {
		t.Fatalf("Allow at t=0: got %v, want Pending(1)", got)
	}

	if got := m.Allow("req-1", base.Add(4900*time.Millisecond)); got != OutcomeTooSoon {
		t.Fatalf("Allow at t=4.9s: got %v, want TooSoon", got)
	}

	if got := m.Allow("req-1", base.Add(5100*time.Millisecond)); got != OutcomeAllowed {
		t.Fatalf("Allow at t=5.1s: got %v, want Allowed", got)
	}
}

func TestSingleDenyAborts(t *testing.T) {
	m := NewUserConfirmationManager(3, time.Second)
	m.Begin("req-2")
	m.Allow("req-2", time.Now())

	if got := m.Deny("req-2"); got != OutcomeDenied {
		t.Fatalf("Deny: got %v", got)
	}
	if got := m.Allow("req-2", time.Now().Add(10*time.Second)); got != OutcomeDenied {
		t.Fatalf("Allow after deny: got %v, want Denied (request gone)", got)
	}
}

package bifrost

import (
	"testing"
	"time"
)

type recordingSink struct {
	alerts []SecurityAlert
}

func (s *recordingSink) Send(a SecurityAlert) { s.alerts = append(s.alerts, a) }

// TestFailedAuthBlocksConnection mirrors spec.md §8 scenario 5.
func TestFailedAuthBlocksConnection(t *testing.T) {
	sink := &recordingSink{}
	m := NewMonitor(3, 5, time.Minute, nil, sink)

	for i := 0; i < 3; i++ {
		m.RecordFailedAuth("c1", "d1", "")
	}

	if !m.ShouldBlockConnection("c1") {
		t.Fatalf("expected connection c1 to be blocked")
	}
	if !m.ShouldBlockDevice("d1") {
		t.Fatalf("expected device d1 to be blocked")
	}
	if len(sink.alerts) != 1 || sink.alerts[0].Kind != AlertRepeatedFailedAuth {
		t.Fatalf("expected one RepeatedFailedAuth alert, got %+v", sink.alerts)
	}
}

func TestBlockIsMonotonic(t *testing.T) {
	m := NewMonitor(1, 1, time.Hour, nil, nil)
	m.RecordFailedAuth("c1", "d1", "")
	if !m.ShouldBlockConnection("c1") {
		t.Fatalf("expected c1 blocked")
	}

	// Further failed-auth events must not change a blocked connection's
	// terminal state, nor spuriously unblock it.
	m.RecordFailedAuth("c1", "d1", "")
	m.RecordInvalidMessage("c1", "d1")
	if !m.ShouldBlockConnection("c1") {
		t.Fatalf("expected c1 to remain blocked")
	}

	m.Unblock("c1", "d1", true)
	if m.ShouldBlockConnection("c1") {
		t.Fatalf("expected c1 unblocked after explicit Unblock")
	}
}

func TestSweepTemporaryBlocksExpires(t *testing.T) {
	m := NewMonitor(1, 1, 10*time.Millisecond, nil, nil)
	m.RecordInvalidMessage("c1", "d1")
	if !m.ShouldBlockConnection("c1") {
		t.Fatalf("expected c1 blocked")
	}

	time.Sleep(20 * time.Millisecond)
	m.SweepTemporaryBlocks()
	if m.ShouldBlockConnection("c1") {
		t.Fatalf("expected temporary block to have expired")
	}
}

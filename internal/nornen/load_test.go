package nornen

import (
	"testing"
	"time"
)

func TestLoadTrackerUnderThresholdNotOverloaded(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tracker := NewLoadTracker(time.Minute, 10, 0.8)

	for i := 0; i < 7; i++ {
		tracker.RecordRequest("huginn", now)
	}

	if tracker.IsOverloaded("huginn", now) {
		t.Fatalf("expected 7/10 load to stay under the 0.8 threshold")
	}
}

func TestLoadTrackerThresholdCrossing(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tracker := NewLoadTracker(time.Minute, 10, 0.8)

	for i := 0; i < 8; i++ {
		tracker.RecordRequest("huginn", now)
	}
	if !tracker.IsOverloaded("huginn", now) {
		t.Fatalf("expected load of 0.8 to cross the threshold")
	}

	effective := tracker.EffectiveScore("huginn", 1.0, now)
	if effective >= 1.0 {
		t.Fatalf("expected overloaded provider's effective score to be penalized, got %f", effective)
	}
}

func TestLoadTrackerWindowExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tracker := NewLoadTracker(time.Minute, 10, 0.8)

	for i := 0; i < 8; i++ {
		tracker.RecordRequest("huginn", now)
	}
	later := now.Add(2 * time.Minute)
	if tracker.IsOverloaded("huginn", later) {
		t.Fatalf("expected load events older than the window to be pruned")
	}
}

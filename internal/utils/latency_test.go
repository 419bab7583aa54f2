package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{50 * time.Millisecond, 10 * time.Millisecond, 40 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	if tracker.Count() != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), tracker.Count())
	}
	if p := tracker.Percentile(50); p != 30*time.Millisecond {
		t.Fatalf("expected p50 30ms, got %v", p)
	}
	if p := tracker.Percentile(100); p != 50*time.Millisecond {
		t.Fatalf("expected p100 50ms, got %v", p)
	}
	if p := tracker.Percentile(0); p != 10*time.Millisecond {
		t.Fatalf("expected p0 10ms, got %v", p)
	}
}

func TestLatencyTrackerRingKeepsNewest(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
	summary := tracker.Summary()
	if summary.Samples != 3 || summary.Max != 10*time.Millisecond || summary.P50 != 9*time.Millisecond {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(0)
	if tracker.Percentile(95) != 0 {
		t.Fatalf("expected zero percentile with no samples")
	}
	if (tracker.Summary() != LatencySummary{}) {
		t.Fatalf("expected empty summary")
	}
}

package models

import (
	"slices"
	"time"
)

// HistoryCapacity bounds the per-device rolling window.
const HistoryCapacity = 1000

// HistoryEntry is the per-reading summary retained after a reading is discarded.
type HistoryEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	TrustScore   float64   `json:"trustScore"`
	Decision     Decision  `json:"decision"`
	GeneratedKWh float64   `json:"generatedKwh"`
	FlowRateM3S  float64   `json:"flowRate_m3s"`
}

// DeviceCounters are the lifetime counters of a device.
type DeviceCounters struct {
	TotalReadings    int64 `json:"totalReadings"`
	ApprovedReadings int64 `json:"approvedReadings"`
	FlaggedReadings  int64 `json:"flaggedReadings"`
	RejectedReadings int64 `json:"rejectedReadings"`
	AnomalyCount     int64 `json:"anomalyCount"`
}

// ApprovalRate returns approved/total, or 0 before the first reading.
func (c DeviceCounters) ApprovalRate() float64 {
	if c.TotalReadings == 0 {
		return 0
	}
	return float64(c.ApprovedReadings) / float64(c.TotalReadings)
}

// DeviceHistory is a point-in-time snapshot of a device's rolling window, oldest entry first.
type DeviceHistory struct {
	DeviceID string         `json:"deviceId"`
	Entries  []HistoryEntry `json:"entries"`
	Counters DeviceCounters `json:"counters"`
}

// Latest returns the most recent entry.
func (h DeviceHistory) Latest() (HistoryEntry, bool) {
	if len(h.Entries) == 0 {
		return HistoryEntry{}, false
	}
	return h.Entries[len(h.Entries)-1], true
}

// LatestAccepted returns the most recent entry that was not rejected.
func (h DeviceHistory) LatestAccepted() (HistoryEntry, bool) {
	for i := len(h.Entries) - 1; i >= 0; i-- {
		if h.Entries[i].Decision != DecisionRejected {
			return h.Entries[i], true
		}
	}
	return HistoryEntry{}, false
}

// RecentGeneration returns up to n most recent generatedKwh values, oldest first.
func (h DeviceHistory) RecentGeneration(n int) []float64 {
	entries := h.Entries
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	values := make([]float64, 0, len(entries))
	for _, e := range entries {
		values = append(values, e.GeneratedKWh)
	}
	return values
}

// RecentAcceptedGeneration is RecentGeneration over non-REJECTED entries only, so a rejected
// spike never widens the baseline that later readings are scored against.
func (h DeviceHistory) RecentAcceptedGeneration(n int) []float64 {
	values := make([]float64, 0, len(h.Entries))
	for i := len(h.Entries) - 1; i >= 0; i-- {
		if n > 0 && len(values) == n {
			break
		}
		if e := h.Entries[i]; e.Decision != DecisionRejected {
			values = append(values, e.GeneratedKWh)
		}
	}
	slices.Reverse(values)
	return values
}

// HistoryUpdate describes the outcome of one reading for DeviceHistoryStore.Update.
// When Entry is nil only the counters move (replayed or skewed readings must not shift the
// baseline).
type HistoryUpdate struct {
	Entry    *HistoryEntry
	Decision Decision
	Anomaly  bool
}

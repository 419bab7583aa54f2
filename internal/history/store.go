// Package history keeps the per-device rolling window that the temporal and statistical
// checks use as their baseline.
package history

import (
	"context"
	"sync"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// Store owns device histories. Callers serialize Snapshot→Update per device; the store itself
// only guarantees that each call is atomic.
type Store interface {
	Snapshot(ctx context.Context, deviceID string) (models.DeviceHistory, error)
	Update(ctx context.Context, deviceID string, update models.HistoryUpdate) error
}

type ring struct {
	entries  []models.HistoryEntry
	start    int
	counters models.DeviceCounters
}

func (r *ring) push(e models.HistoryEntry, capacity int) {
	if len(r.entries) < capacity {
		r.entries = append(r.entries, e)
		return
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % capacity
}

// ordered returns a copy of the entries, oldest first.
func (r *ring) ordered() []models.HistoryEntry {
	out := make([]models.HistoryEntry, 0, len(r.entries))
	out = append(out, r.entries[r.start:]...)
	out = append(out, r.entries[:r.start]...)
	return out
}

// MemoryStore is an in-memory Store with a fixed-capacity ring per device. Devices are
// created lazily and never removed.
type MemoryStore struct {
	mu       sync.RWMutex
	devices  map[string]*ring
	capacity int
}

// NewMemoryStore creates a store holding up to capacity entries per device.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = models.HistoryCapacity
	}
	return &MemoryStore{devices: make(map[string]*ring), capacity: capacity}
}

// Snapshot implements Store. An unknown device yields an empty history.
func (s *MemoryStore) Snapshot(ctx context.Context, deviceID string) (models.DeviceHistory, error) {
	if err := ctx.Err(); err != nil {
		return models.DeviceHistory{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := models.DeviceHistory{DeviceID: deviceID}
	if r, ok := s.devices[deviceID]; ok {
		h.Entries = r.ordered()
		h.Counters = r.counters
	}
	return h, nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, deviceID string, update models.HistoryUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.devices[deviceID]
	if !ok {
		r = &ring{}
		s.devices[deviceID] = r
	}

	r.counters.TotalReadings++
	switch update.Decision {
	case models.DecisionApproved:
		r.counters.ApprovedReadings++
	case models.DecisionFlagged:
		r.counters.FlaggedReadings++
	case models.DecisionRejected:
		r.counters.RejectedReadings++
	}
	if update.Anomaly {
		r.counters.AnomalyCount++
	}
	if update.Entry != nil {
		r.push(*update.Entry, s.capacity)
	}
	return nil
}

// Devices returns the IDs of all known devices.
func (s *MemoryStore) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.devices))
	for id := range s.devices {
		ids = append(ids, id)
	}
	return ids
}

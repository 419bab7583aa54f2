package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// MemoryStore keeps attestations and mined patterns in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]models.AttestationRecord
	patterns []models.FailurePattern
	clock    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.AttestationRecord), clock: time.Now}
}

// Save implements AttestationStore.
func (s *MemoryStore) Save(ctx context.Context, rec models.AttestationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.Attestation.ID]; exists {
		return nil
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.clock().UTC()
	}
	s.records[rec.Attestation.ID] = rec
	return nil
}

// FindByID implements AttestationStore.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (models.AttestationRecord, error) {
	if err := ctx.Err(); err != nil {
		return models.AttestationRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return models.AttestationRecord{}, ErrNotFound
	}
	return rec, nil
}

// FindByStatus implements AttestationStore.
func (s *MemoryStore) FindByStatus(ctx context.Context, status models.Decision, limit int) ([]models.AttestationRecord, error) {
	return s.filter(ctx, limit, func(rec models.AttestationRecord) bool {
		return rec.Attestation.VerificationStatus == status
	})
}

// FindByDevice implements AttestationStore.
func (s *MemoryStore) FindByDevice(ctx context.Context, deviceID string, limit int) ([]models.AttestationRecord, error) {
	return s.filter(ctx, limit, func(rec models.AttestationRecord) bool {
		return rec.Attestation.DeviceID == deviceID
	})
}

// FindByLedgerStatus implements AttestationStore.
func (s *MemoryStore) FindByLedgerStatus(ctx context.Context, status models.LedgerStatus, limit int) ([]models.AttestationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]models.AttestationRecord, 0)
	for _, rec := range s.records {
		if rec.LedgerStatus == status {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].Attestation.ID < out[j].Attestation.ID
	})
	if limit = normaliseLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateLedgerStatus implements AttestationStore.
func (s *MemoryStore) UpdateLedgerStatus(ctx context.Context, id string, status models.LedgerStatus, receipt *models.LedgerReceipt, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.LedgerStatus = status
	rec.LedgerError = errMsg
	rec.Receipt = receipt
	rec.UpdatedAt = s.clock().UTC()
	s.records[id] = rec
	return nil
}

// StorePatterns replaces the stored failure patterns.
func (s *MemoryStore) StorePatterns(ctx context.Context, patterns []models.FailurePattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append([]models.FailurePattern(nil), patterns...)
	return nil
}

// LoadPatterns returns the stored failure patterns.
func (s *MemoryStore) LoadPatterns(ctx context.Context) ([]models.FailurePattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.FailurePattern(nil), s.patterns...), nil
}

func (s *MemoryStore) filter(ctx context.Context, limit int, keep func(models.AttestationRecord) bool) ([]models.AttestationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]models.AttestationRecord, 0)
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Attestation, out[j].Attestation
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})
	if limit = normaliseLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Package repo persists signed attestations and their ledger state.
package repo

import (
	"context"
	"errors"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// ErrNotFound is returned when an attestation does not exist.
var ErrNotFound = errors.New("attestation not found")

// DefaultListLimit caps list queries that do not specify a limit.
const DefaultListLimit = 100

// AttestationStore is the persistence collaborator of the verifier.
type AttestationStore interface {
	// Save stores a new record. Saving an existing ID is a no-op.
	Save(ctx context.Context, rec models.AttestationRecord) error
	FindByID(ctx context.Context, id string) (models.AttestationRecord, error)
	// FindByStatus lists records with the given decision, newest reading first.
	FindByStatus(ctx context.Context, status models.Decision, limit int) ([]models.AttestationRecord, error)
	// FindByDevice lists a device's records, newest reading first.
	FindByDevice(ctx context.Context, deviceID string, limit int) ([]models.AttestationRecord, error)
	// FindByLedgerStatus lists records in the given ledger state, least recently updated first.
	FindByLedgerStatus(ctx context.Context, status models.LedgerStatus, limit int) ([]models.AttestationRecord, error)
	UpdateLedgerStatus(ctx context.Context, id string, status models.LedgerStatus, receipt *models.LedgerReceipt, errMsg string) error
}

func normaliseLimit(limit int) int {
	if limit <= 0 || limit > 10*DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}

package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// AttestationStore contract run against both implementations.
func exerciseStore(t *testing.T, store AttestationStore) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	records := []models.AttestationRecord{
		sampleRecord("att-1", "turbine-001", models.DecisionApproved, base),
		sampleRecord("att-2", "turbine-001", models.DecisionFlagged, base.Add(time.Minute)),
		sampleRecord("att-3", "turbine-002", models.DecisionFlagged, base.Add(2*time.Minute)),
	}
	for _, rec := range records {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", rec.Attestation.ID, err)
		}
	}
	dup := records[0]
	dup.Attestation.TrustScore = 0.1
	if err := store.Save(ctx, dup); err != nil {
		t.Fatalf("duplicate save should be a no-op: %v", err)
	}

	got, err := store.FindByID(ctx, "att-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Attestation.TrustScore != 0.95 || got.LedgerStatus != models.LedgerPending {
		t.Fatalf("unexpected record %+v", got)
	}

	byDevice, err := store.FindByDevice(ctx, "turbine-001", 10)
	if err != nil {
		t.Fatalf("find by device: %v", err)
	}
	if len(byDevice) != 2 || byDevice[0].Attestation.ID != "att-2" {
		t.Fatalf("expected newest first for turbine-001, got %+v", byDevice)
	}

	flagged, err := store.FindByStatus(ctx, models.DecisionFlagged, 1)
	if err != nil {
		t.Fatalf("find by status: %v", err)
	}
	if len(flagged) != 1 || flagged[0].Attestation.ID != "att-3" {
		t.Fatalf("expected att-3 only, got %+v", flagged)
	}

	receipt := &models.LedgerReceipt{TransactionID: "tx-1", SequenceNumber: 3, CommittedAt: base}
	if err := store.UpdateLedgerStatus(ctx, "att-1", models.LedgerCommitted, receipt, ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.FindByID(ctx, "att-1")
	if got.LedgerStatus != models.LedgerCommitted || got.Receipt == nil || got.Receipt.TransactionID != "tx-1" {
		t.Fatalf("ledger status not updated: %+v", got)
	}

	if err := store.UpdateLedgerStatus(ctx, "att-2", models.LedgerRetryable, nil, "transaction expired"); err != nil {
		t.Fatalf("update: %v", err)
	}
	retryable, err := store.FindByLedgerStatus(ctx, models.LedgerRetryable, 10)
	if err != nil {
		t.Fatalf("find by ledger status: %v", err)
	}
	if len(retryable) != 1 || retryable[0].Attestation.ID != "att-2" || retryable[0].LedgerError != "transaction expired" {
		t.Fatalf("expected att-2 only, got %+v", retryable)
	}
	pending, err := store.FindByLedgerStatus(ctx, models.LedgerPending, 10)
	if err != nil {
		t.Fatalf("find by ledger status: %v", err)
	}
	if len(pending) != 1 || pending[0].Attestation.ID != "att-3" {
		t.Fatalf("expected att-3 only, got %+v", pending)
	}

	if err := store.UpdateLedgerStatus(ctx, "nope", models.LedgerFailed, nil, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStoreContract(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	exerciseStore(t, store)

	patterns := []models.FailurePattern{
		{ID: "pattern-a", Name: "sediment_event", DominantFeature: "turbidity", Centroid: []float64{0.1, 0.9}, Size: 3, Prevalence: 0.75},
		{ID: "pattern-b", Name: "thermal_anomaly", DominantFeature: "temperature", Centroid: []float64{0.2}, Size: 1, Prevalence: 0.25},
	}
	if err := store.StorePatterns(ctx, patterns); err != nil {
		t.Fatalf("store patterns: %v", err)
	}
	loaded, err := store.LoadPatterns(ctx)
	if err != nil {
		t.Fatalf("load patterns: %v", err)
	}
	if len(loaded) != 2 || loaded[0].Name != "sediment_event" || loaded[0].Centroid[1] != 0.9 {
		t.Fatalf("unexpected patterns %+v", loaded)
	}
}

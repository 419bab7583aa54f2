package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

func sampleRecord(id, device string, decision models.Decision, ts time.Time) models.AttestationRecord {
	return models.AttestationRecord{
		Attestation: models.Attestation{
			ID:                 id,
			DeviceID:           device,
			Timestamp:          ts,
			VerificationStatus: decision,
			TrustScore:         0.95,
			Signature:          "abc",
		},
		LedgerStatus: models.LedgerPending,
	}
}

func TestSQLStoreSave(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := sampleRecord("att-1", "turbine-001", models.DecisionApproved, ts)

	mock.ExpectExec("INSERT INTO attestations").
		WithArgs("att-1", "turbine-001", "2026-05-01T12:00:00.000000Z", "APPROVED", 0.95, sqlmock.AnyArg(), "PENDING", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreFindByIDNotFound(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT body, ledger_status").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"body", "ledger_status", "ledger_error", "ledger_tx_id", "ledger_sequence", "ledger_committed_at", "updated_at"}))

	_, err := NewSQLStore(db).FindByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLStoreFindByDevice(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	rec := sampleRecord("att-1", "turbine-001", models.DecisionFlagged, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	body, _ := json.Marshal(rec.Attestation)
	rows := sqlmock.NewRows([]string{"body", "ledger_status", "ledger_error", "ledger_tx_id", "ledger_sequence", "ledger_committed_at", "updated_at"}).
		AddRow(string(body), "COMMITTED", "", "tx-9", int64(4), "2026-05-01T12:00:01.000000Z", "2026-05-01T12:00:01.000000Z")
	mock.ExpectQuery("SELECT body, ledger_status").
		WithArgs("turbine-001", DefaultListLimit).
		WillReturnRows(rows)

	got, err := NewSQLStore(db).FindByDevice(context.Background(), "turbine-001", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].LedgerStatus != models.LedgerCommitted || got[0].Receipt == nil || got[0].Receipt.SequenceNumber != 4 {
		t.Fatalf("unexpected ledger state %+v", got[0])
	}
	if got[0].Attestation.VerificationStatus != models.DecisionFlagged {
		t.Fatalf("expected FLAGGED, got %s", got[0].Attestation.VerificationStatus)
	}
}

func TestSQLStoreFindByLedgerStatus(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	rec := sampleRecord("att-7", "turbine-003", models.DecisionApproved, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	body, _ := json.Marshal(rec.Attestation)
	rows := sqlmock.NewRows([]string{"body", "ledger_status", "ledger_error", "ledger_tx_id", "ledger_sequence", "ledger_committed_at", "updated_at"}).
		AddRow(string(body), "RETRYABLE", "transaction expired", "", int64(0), "", "2026-05-01T12:00:02.000000Z")
	mock.ExpectQuery("WHERE ledger_status = \\$1 ORDER BY updated_at").
		WithArgs("RETRYABLE", 25).
		WillReturnRows(rows)

	got, err := NewSQLStore(db).FindByLedgerStatus(context.Background(), models.LedgerRetryable, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].LedgerStatus != models.LedgerRetryable || got[0].Receipt != nil {
		t.Fatalf("unexpected records %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLStoreUpdateLedgerStatusMissing(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectExec("UPDATE attestations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewSQLStore(db).UpdateLedgerStatus(context.Background(), "missing", models.LedgerFailed, nil, "boom")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLStorePatternsRollBackOnError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM failure_patterns").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO failure_patterns").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := NewSQLStore(db).StorePatterns(context.Background(), []models.FailurePattern{{ID: "pattern-a", Centroid: []float64{0.1}}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", ""); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

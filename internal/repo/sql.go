package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // Postgres driver
	_ "modernc.org/sqlite"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// timeLayout is fixed-width so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS attestations (
	id TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	reading_ts TEXT NOT NULL,
	decision TEXT NOT NULL,
	trust_score DOUBLE PRECISION NOT NULL,
	body TEXT NOT NULL,
	ledger_status TEXT NOT NULL,
	ledger_error TEXT NOT NULL DEFAULT '',
	ledger_tx_id TEXT NOT NULL DEFAULT '',
	ledger_sequence BIGINT NOT NULL DEFAULT 0,
	ledger_committed_at TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attestations_device ON attestations (device_id, reading_ts);
CREATE INDEX IF NOT EXISTS idx_attestations_decision ON attestations (decision, reading_ts);
CREATE INDEX IF NOT EXISTS idx_attestations_ledger ON attestations (ledger_status, updated_at);
CREATE TABLE IF NOT EXISTS failure_patterns (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	dominant_feature TEXT NOT NULL,
	centroid TEXT NOT NULL,
	size INTEGER NOT NULL,
	prevalence DOUBLE PRECISION NOT NULL,
	mined_at TEXT NOT NULL
);
`

const selectColumns = `SELECT body, ledger_status, ledger_error, ledger_tx_id, ledger_sequence, ledger_committed_at, updated_at FROM attestations`

// SQLStore implements AttestationStore on database/sql. The same statements run on Postgres
// (lib/pq) and SQLite (modernc).
type SQLStore struct {
	db    *sql.DB
	clock func() time.Time
}

// Open connects to driver at dsn and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite serializes writers and every :memory: connection is its own database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// NewSQLStore wraps db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, clock: time.Now}
}

// Init creates the schema if it does not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save implements AttestationStore.
func (s *SQLStore) Save(ctx context.Context, rec models.AttestationRecord) error {
	att := rec.Attestation
	body, err := json.Marshal(att)
	if err != nil {
		return fmt.Errorf("marshal attestation: %w", err)
	}
	now := s.clock().UTC().Format(timeLayout)
	query := `
		INSERT INTO attestations (id, device_id, reading_ts, decision, trust_score, body, ledger_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		att.ID, att.DeviceID, att.Timestamp.UTC().Format(timeLayout), string(att.VerificationStatus),
		att.TrustScore, string(body), string(rec.LedgerStatus), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert attestation %s: %w", att.ID, err)
	}
	return nil
}

// FindByID implements AttestationStore.
func (s *SQLStore) FindByID(ctx context.Context, id string) (models.AttestationRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AttestationRecord{}, ErrNotFound
	}
	return rec, err
}

// FindByStatus implements AttestationStore.
func (s *SQLStore) FindByStatus(ctx context.Context, status models.Decision, limit int) ([]models.AttestationRecord, error) {
	return s.list(ctx, selectColumns+` WHERE decision = $1 ORDER BY reading_ts DESC, id LIMIT $2`, string(status), normaliseLimit(limit))
}

// FindByDevice implements AttestationStore.
func (s *SQLStore) FindByDevice(ctx context.Context, deviceID string, limit int) ([]models.AttestationRecord, error) {
	return s.list(ctx, selectColumns+` WHERE device_id = $1 ORDER BY reading_ts DESC, id LIMIT $2`, deviceID, normaliseLimit(limit))
}

// FindByLedgerStatus implements AttestationStore.
func (s *SQLStore) FindByLedgerStatus(ctx context.Context, status models.LedgerStatus, limit int) ([]models.AttestationRecord, error) {
	return s.list(ctx, selectColumns+` WHERE ledger_status = $1 ORDER BY updated_at, id LIMIT $2`, string(status), normaliseLimit(limit))
}

// UpdateLedgerStatus implements AttestationStore.
func (s *SQLStore) UpdateLedgerStatus(ctx context.Context, id string, status models.LedgerStatus, receipt *models.LedgerReceipt, errMsg string) error {
	var (
		txID        string
		sequence    int64
		committedAt string
	)
	if receipt != nil {
		txID = receipt.TransactionID
		sequence = int64(receipt.SequenceNumber)
		committedAt = receipt.CommittedAt.UTC().Format(timeLayout)
	}
	query := `
		UPDATE attestations
		SET ledger_status = $1, ledger_error = $2, ledger_tx_id = $3, ledger_sequence = $4, ledger_committed_at = $5, updated_at = $6
		WHERE id = $7
	`
	res, err := s.db.ExecContext(ctx, query, string(status), errMsg, txID, sequence, committedAt, s.clock().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("update ledger status %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// StorePatterns replaces the stored failure patterns in one transaction.
func (s *SQLStore) StorePatterns(ctx context.Context, patterns []models.FailurePattern) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM failure_patterns`); err != nil {
		return fmt.Errorf("clear patterns: %w", err)
	}
	for _, p := range patterns {
		centroid, err := json.Marshal(p.Centroid)
		if err != nil {
			return fmt.Errorf("marshal centroid: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO failure_patterns (id, name, dominant_feature, centroid, size, prevalence, mined_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.ID, p.Name, p.DominantFeature, string(centroid), p.Size, p.Prevalence, p.MinedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert pattern %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// LoadPatterns returns the stored failure patterns ordered by prevalence.
func (s *SQLStore) LoadPatterns(ctx context.Context) ([]models.FailurePattern, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, dominant_feature, centroid, size, prevalence, mined_at FROM failure_patterns ORDER BY prevalence DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]models.FailurePattern, 0)
	for rows.Next() {
		var (
			p        models.FailurePattern
			centroid string
			minedAt  string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.DominantFeature, &centroid, &p.Size, &p.Prevalence, &minedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(centroid), &p.Centroid); err != nil {
			return nil, fmt.Errorf("decode centroid of %s: %w", p.ID, err)
		}
		p.MinedAt, _ = time.Parse(timeLayout, minedAt)
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *SQLStore) list(ctx context.Context, query string, args ...any) ([]models.AttestationRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]models.AttestationRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (models.AttestationRecord, error) {
	var (
		rec         models.AttestationRecord
		body        string
		status      string
		txID        string
		sequence    int64
		committedAt string
		updatedAt   string
	)
	if err := row.Scan(&body, &status, &rec.LedgerError, &txID, &sequence, &committedAt, &updatedAt); err != nil {
		return models.AttestationRecord{}, err
	}
	if err := json.Unmarshal([]byte(body), &rec.Attestation); err != nil {
		return models.AttestationRecord{}, fmt.Errorf("decode attestation: %w", err)
	}
	rec.LedgerStatus = models.LedgerStatus(status)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if txID != "" {
		committed, _ := time.Parse(timeLayout, committedAt)
		rec.Receipt = &models.LedgerReceipt{TransactionID: txID, SequenceNumber: uint64(sequence), CommittedAt: committed}
	}
	return rec, nil
}

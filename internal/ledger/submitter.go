// Package ledger commits signed attestations to an append-only ledger.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hydrotrust/hydro-verifier/internal/metrics"
	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// Transaction is one ledger submission. Validity is bound to the transaction at construction,
// so every attempt needs a new one.
type Transaction struct {
	ID             string
	Topic          string
	IdempotencyKey string
	Message        []byte
	ValidStart     time.Time
	ValidDuration  time.Duration
}

// ExpiresAt returns the end of the validity window.
func (t *Transaction) ExpiresAt() time.Time {
	return t.ValidStart.Add(t.ValidDuration)
}

// Client executes a single transaction against a ledger.
type Client interface {
	Execute(ctx context.Context, tx *Transaction) (models.LedgerReceipt, error)
}

// BuildFunc constructs a fresh transaction for the given 1-based attempt.
type BuildFunc func(attempt int) (*Transaction, error)

// SubmitterConfig controls the retry loop.
type SubmitterConfig struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseDelay   time.Duration `yaml:"baseDelay"`
	// Timeout bounds the whole retry loop, backoff included.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultSubmitterConfig returns 3 attempts, 500ms base delay and a 30s overall timeout.
func DefaultSubmitterConfig() SubmitterConfig {
	return SubmitterConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Timeout: 30 * time.Second}
}

// Submitter runs the build → submit → {success | expired → build | fatal} loop.
type Submitter struct {
	client Client
	cfg    SubmitterConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewSubmitter constructs a Submitter; unset config fields take defaults.
func NewSubmitter(client Client, cfg SubmitterConfig, logger *slog.Logger) *Submitter {
	def := DefaultSubmitterConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{client: client, cfg: cfg, logger: logger, sleep: sleepContext}
}

// Submit builds and executes a transaction, rebuilding it after each expiry. Only expiry is
// retried; any other failure returns *FatalError at once. Exhausted attempts and timeouts
// return *TransientError.
func (s *Submitter) Submit(ctx context.Context, build BuildFunc) (models.LedgerReceipt, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	submitted := make(map[*Transaction]struct{}, s.cfg.MaxAttempts)
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.LedgerReceipt{}, &TransientError{Attempts: attempt - 1, Err: err}
		}

		tx, err := build(attempt)
		if err != nil {
			return models.LedgerReceipt{}, &FatalError{Attempt: attempt, Err: fmt.Errorf("build transaction: %w", err)}
		}
		if tx == nil {
			return models.LedgerReceipt{}, &FatalError{Attempt: attempt, Err: errors.New("build returned nil transaction")}
		}
		if _, seen := submitted[tx]; seen {
			return models.LedgerReceipt{}, &FatalError{Attempt: attempt, Err: ErrTransactionReused}
		}
		submitted[tx] = struct{}{}

		receipt, err := s.client.Execute(ctx, tx)
		if err == nil {
			s.logger.Debug("ledger transaction committed", slog.String("transaction_id", receipt.TransactionID), slog.Int("attempt", attempt))
			return receipt, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.LedgerReceipt{}, &TransientError{Attempts: attempt, Err: err}
		}
		if !IsExpired(err) {
			s.logger.Error("ledger submit failed", slog.String("transaction_id", tx.ID), slog.Int("attempt", attempt), slog.Any("error", err))
			return models.LedgerReceipt{}, &FatalError{Attempt: attempt, Err: err}
		}

		s.logger.Warn("ledger transaction expired", slog.String("transaction_id", tx.ID), slog.Int("attempt", attempt))
		if attempt == s.cfg.MaxAttempts {
			break
		}
		metrics.ObserveLedgerRetry()
		if err := s.sleep(ctx, s.cfg.BaseDelay*time.Duration(attempt)); err != nil {
			return models.LedgerReceipt{}, &TransientError{Attempts: attempt, Err: lastErr}
		}
	}
	return models.LedgerReceipt{}, &TransientError{Attempts: s.cfg.MaxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

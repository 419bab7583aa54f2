package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// ExpiredCode is the status string ledgers return for a transaction whose validity window passed.
const ExpiredCode = "TRANSACTION_EXPIRED"

var (
	// ErrTransactionExpired is the only retryable ledger failure.
	ErrTransactionExpired = errors.New(ExpiredCode)
	// ErrTransactionReused is returned when a build function hands back a transaction that
	// was already submitted.
	ErrTransactionReused = errors.New("transaction object reused across attempts")
)

// IsExpired reports whether err means the transaction expired before the ledger accepted it.
func IsExpired(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransactionExpired) || strings.Contains(err.Error(), ExpiredCode)
}

// FatalError is a ledger failure that must not be retried (authorization, fee, validation).
type FatalError struct {
	Attempt int
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("ledger submit failed on attempt %d: %v", e.Attempt, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// TransientError means attempts or the overall timeout ran out. The attestation stays valid and
// may be resubmitted later.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("ledger submit gave up after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

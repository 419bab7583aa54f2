package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// scriptedClient fails with the scripted errors in order, then succeeds.
type scriptedClient struct {
	errs []error
	seen []*Transaction
}

func (c *scriptedClient) Execute(ctx context.Context, tx *Transaction) (models.LedgerReceipt, error) {
	c.seen = append(c.seen, tx)
	if n := len(c.seen); n <= len(c.errs) && c.errs[n-1] != nil {
		return models.LedgerReceipt{}, c.errs[n-1]
	}
	return models.LedgerReceipt{TransactionID: tx.ID, SequenceNumber: uint64(len(c.seen))}, nil
}

func countingBuilder(calls *int) BuildFunc {
	return func(attempt int) (*Transaction, error) {
		*calls++
		return &Transaction{ID: fmt.Sprintf("tx-%d", attempt), Message: []byte("{}"), ValidStart: time.Now(), ValidDuration: time.Minute}, nil
	}
}

func newTestSubmitter(client Client, cfg SubmitterConfig) *Submitter {
	s := NewSubmitter(client, cfg, nil)
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s
}

func TestSubmitRebuildsAfterExpiry(t *testing.T) {
	client := &scriptedClient{errs: []error{ErrTransactionExpired}}
	calls := 0

	receipt, err := newTestSubmitter(client, SubmitterConfig{}).Submit(context.Background(), countingBuilder(&calls))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "tx-2", receipt.TransactionID)
	require.Len(t, client.seen, 2)
	assert.NotSame(t, client.seen[0], client.seen[1])
}

func TestSubmitRecognisesExpiredMessage(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("precheck status TRANSACTION_EXPIRED")}}
	calls := 0

	_, err := newTestSubmitter(client, SubmitterConfig{}).Submit(context.Background(), countingBuilder(&calls))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestSubmitFatalIsNotRetried(t *testing.T) {
	cause := errors.New("INSUFFICIENT_PAYER_BALANCE")
	client := &scriptedClient{errs: []error{cause}}
	calls := 0

	_, err := newTestSubmitter(client, SubmitterConfig{}).Submit(context.Background(), countingBuilder(&calls))
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestSubmitExhaustsAttempts(t *testing.T) {
	client := &scriptedClient{errs: []error{ErrTransactionExpired, ErrTransactionExpired, ErrTransactionExpired, nil}}
	calls := 0

	_, err := newTestSubmitter(client, SubmitterConfig{MaxAttempts: 3}).Submit(context.Background(), countingBuilder(&calls))
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 3, transient.Attempts)
	assert.Equal(t, 3, calls)
}

func TestSubmitRejectsReusedTransaction(t *testing.T) {
	client := &scriptedClient{errs: []error{ErrTransactionExpired}}
	tx := &Transaction{ID: "same"}
	calls := 0

	_, err := newTestSubmitter(client, SubmitterConfig{}).Submit(context.Background(), func(int) (*Transaction, error) {
		calls++
		return tx, nil
	})
	assert.ErrorIs(t, err, ErrTransactionReused)
	assert.Equal(t, 2, calls)
	assert.Len(t, client.seen, 1)
}

func TestSubmitBuildErrorIsFatal(t *testing.T) {
	_, err := newTestSubmitter(&scriptedClient{}, SubmitterConfig{}).Submit(context.Background(), func(int) (*Transaction, error) {
		return nil, errors.New("no payer key")
	})
	var fatal *FatalError
	assert.ErrorAs(t, err, &fatal)
}

func TestSubmitTimeoutIsTransient(t *testing.T) {
	client := &scriptedClient{errs: []error{ErrTransactionExpired, ErrTransactionExpired}}
	s := NewSubmitter(client, SubmitterConfig{MaxAttempts: 3, BaseDelay: time.Second, Timeout: 20 * time.Millisecond}, nil)
	calls := 0

	start := time.Now()
	_, err := s.Submit(context.Background(), countingBuilder(&calls))
	var transient *TransientError
	require.ErrorAs(t, err, &transient)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, calls)
}

func TestSubmitLinearBackoff(t *testing.T) {
	client := &scriptedClient{errs: []error{ErrTransactionExpired, ErrTransactionExpired}}
	s := NewSubmitter(client, SubmitterConfig{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}, nil)
	var delays []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	calls := 0

	_, err := s.Submit(context.Background(), countingBuilder(&calls))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

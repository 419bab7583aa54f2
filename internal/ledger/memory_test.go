package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedgerChainsEntries(t *testing.T) {
	l := NewMemoryLedger()
	for i, key := range []string{"a", "b", "c"} {
		r, err := l.Execute(context.Background(), &Transaction{ID: "tx-" + key, IdempotencyKey: key, Message: []byte(key), ValidStart: time.Now(), ValidDuration: time.Minute})
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), r.SequenceNumber)
	}
	ok, msg := l.Verify()
	assert.True(t, ok, msg)

	second, err := l.Get(2)
	require.NoError(t, err)
	first, _ := l.Get(1)
	assert.Equal(t, first.ContentHash, second.PrevHash)

	l.entries[1].Topic = "tampered"
	ok, _ = l.Verify()
	assert.False(t, ok)
}

func TestMemoryLedgerIdempotency(t *testing.T) {
	l := NewMemoryLedger()
	first, err := l.Execute(context.Background(), &Transaction{ID: "tx-1", IdempotencyKey: "att-1", ValidStart: time.Now(), ValidDuration: time.Minute})
	require.NoError(t, err)
	again, err := l.Execute(context.Background(), &Transaction{ID: "tx-2", IdempotencyKey: "att-1", ValidStart: time.Now(), ValidDuration: time.Minute})
	require.NoError(t, err)

	assert.Equal(t, first, again)
	assert.Equal(t, 1, l.Length())
}

func TestMemoryLedgerExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLedger().WithClock(func() time.Time { return now })

	_, err := l.Execute(context.Background(), &Transaction{ID: "late", ValidStart: now.Add(-2 * time.Minute), ValidDuration: time.Minute})
	assert.ErrorIs(t, err, ErrTransactionExpired)
	assert.True(t, IsExpired(err))
	assert.Equal(t, 0, l.Length())
}

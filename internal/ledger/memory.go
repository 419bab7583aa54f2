package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

const genesisHash = "genesis"

// Entry is an immutable, hash-chained ledger record.
type Entry struct {
	Sequence       uint64    `json:"sequence"`
	TransactionID  string    `json:"transactionId"`
	Topic          string    `json:"topic"`
	IdempotencyKey string    `json:"idempotencyKey"`
	MessageHash    string    `json:"messageHash"`
	PrevHash       string    `json:"prevHash"`
	ContentHash    string    `json:"contentHash"`
	Timestamp      time.Time `json:"timestamp"`
}

// MemoryLedger is an append-only, hash-chained log held in memory. It enforces transaction
// validity windows and deduplicates by idempotency key.
type MemoryLedger struct {
	mu       sync.RWMutex
	entries  []Entry
	byKey    map[string]uint64
	headHash string
	clock    func() time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byKey:    make(map[string]uint64),
		headHash: genesisHash,
		clock:    time.Now,
	}
}

// WithClock overrides clock for testing.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

// Execute implements Client. A transaction presented after its validity window fails with
// ErrTransactionExpired; a repeated idempotency key returns the original receipt.
func (l *MemoryLedger) Execute(ctx context.Context, tx *Transaction) (models.LedgerReceipt, error) {
	if err := ctx.Err(); err != nil {
		return models.LedgerReceipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock().UTC()
	if tx.ValidDuration > 0 && now.After(tx.ExpiresAt()) {
		return models.LedgerReceipt{}, fmt.Errorf("transaction %s: %w", tx.ID, ErrTransactionExpired)
	}
	if tx.IdempotencyKey != "" {
		if seq, ok := l.byKey[tx.IdempotencyKey]; ok {
			return receiptOf(l.entries[seq-1]), nil
		}
	}

	msg := sha256.Sum256(tx.Message)
	entry := Entry{
		Sequence:       uint64(len(l.entries)) + 1,
		TransactionID:  tx.ID,
		Topic:          tx.Topic,
		IdempotencyKey: tx.IdempotencyKey,
		MessageHash:    hex.EncodeToString(msg[:]),
		PrevHash:       l.headHash,
		Timestamp:      now,
	}
	hash, err := contentHash(entry)
	if err != nil {
		return models.LedgerReceipt{}, err
	}
	entry.ContentHash = hash

	l.entries = append(l.entries, entry)
	l.headHash = hash
	if tx.IdempotencyKey != "" {
		l.byKey[tx.IdempotencyKey] = entry.Sequence
	}
	return receiptOf(entry), nil
}

// Get retrieves an entry by sequence number.
func (l *MemoryLedger) Get(seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq == 0 || seq > uint64(len(l.entries)) {
		return Entry{}, fmt.Errorf("entry %d not found", seq)
	}
	return l.entries[seq-1], nil
}

// Length returns the number of entries.
func (l *MemoryLedger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head returns the current head hash.
func (l *MemoryLedger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Verify checks the integrity of the entire chain.
func (l *MemoryLedger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := genesisHash
	for i, entry := range l.entries {
		if entry.PrevHash != prev {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prev, entry.PrevHash)
		}
		computed, err := contentHash(entry)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prev = entry.ContentHash
	}
	return true, "chain verified"
}

func contentHash(e Entry) (string, error) {
	e.ContentHash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	h := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

func receiptOf(e Entry) models.LedgerReceipt {
	return models.LedgerReceipt{
		TransactionID:  e.TransactionID,
		SequenceNumber: e.Sequence,
		CommittedAt:    e.Timestamp,
	}
}

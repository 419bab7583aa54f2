package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/hydrotrust/hydro-verifier/internal/metrics"
	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// StatusRecorder stores the ledger outcome of an attestation beside its signed body.
type StatusRecorder interface {
	UpdateLedgerStatus(ctx context.Context, id string, status models.LedgerStatus, receipt *models.LedgerReceipt, errMsg string) error
}

// CommitterConfig controls the asynchronous commit pool.
type CommitterConfig struct {
	Topic         string        `yaml:"topic"`
	ValidDuration time.Duration `yaml:"validDuration"`
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queueSize"`
	// RatePerSecond caps submissions across all workers; zero disables pacing.
	RatePerSecond float64 `yaml:"ratePerSecond"`
	// ResubmitInterval is how often serve sweeps unfinished records back into the queue.
	ResubmitInterval time.Duration `yaml:"resubmitInterval"`
	// ResubmitAfter is how long a PENDING record may sit untouched before it is resubmitted.
	ResubmitAfter time.Duration `yaml:"resubmitAfter"`
}

// DefaultCommitterConfig returns 4 workers, a 1024-deep queue and 2-minute validity windows.
// Unfinished records are swept every minute; PENDING ones once they are 5 minutes old.
func DefaultCommitterConfig() CommitterConfig {
	return CommitterConfig{
		Topic:            "hydro-attestations",
		ValidDuration:    2 * time.Minute,
		Workers:          4,
		QueueSize:        1024,
		ResubmitInterval: time.Minute,
		ResubmitAfter:    5 * time.Minute,
	}
}

var (
	// ErrQueueFull is returned by Enqueue when the backlog is at capacity.
	ErrQueueFull = errors.New("ledger commit queue full")
	// ErrCommitterClosed is returned by Enqueue after Close.
	ErrCommitterClosed = errors.New("ledger committer closed")
)

// PendingSource lists records by ledger state. The attestation stores implement it.
type PendingSource interface {
	FindByLedgerStatus(ctx context.Context, status models.LedgerStatus, limit int) ([]models.AttestationRecord, error)
}

// Committer hands signed attestations to the Submitter off the verification path.
type Committer struct {
	submitter *Submitter
	recorder  StatusRecorder
	cfg       CommitterConfig
	limiter   *rate.Limiter
	logger    *slog.Logger
	clock     func() time.Time

	// mu guards closed so Enqueue never sends on the closed queue.
	mu        sync.RWMutex
	closed    bool
	queue     chan models.Attestation
	wg        sync.WaitGroup
	startOnce sync.Once
}

// NewCommitter constructs a Committer; recorder may be nil.
func NewCommitter(submitter *Submitter, recorder StatusRecorder, cfg CommitterConfig, logger *slog.Logger) *Committer {
	def := DefaultCommitterConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.ValidDuration <= 0 {
		cfg.ValidDuration = def.ValidDuration
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.ResubmitInterval <= 0 {
		cfg.ResubmitInterval = def.ResubmitInterval
	}
	if cfg.ResubmitAfter <= 0 {
		cfg.ResubmitAfter = def.ResubmitAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Committer{
		submitter: submitter,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
		clock:     time.Now,
		queue:     make(chan models.Attestation, cfg.QueueSize),
	}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(1, int(cfg.RatePerSecond)))
	}
	return c
}

// Start launches the worker pool. Workers exit when ctx is cancelled or Close drains the queue.
// Attestations left in the queue on cancellation stay PENDING in the store and are picked up by
// Resubmit once they are older than ResubmitAfter.
func (c *Committer) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		for i := 0; i < c.cfg.Workers; i++ {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				for {
					select {
					case <-ctx.Done():
						return
					case att, ok := <-c.queue:
						if !ok {
							return
						}
						c.Commit(ctx, att)
					}
				}
			}()
		}
	})
}

// Enqueue schedules an attestation for commit without blocking.
func (c *Committer) Enqueue(att models.Attestation) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCommitterClosed
	}
	select {
	case c.queue <- att:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued commits to finish.
func (c *Committer) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// ResubmitInterval reports how often Resubmit should run.
func (c *Committer) ResubmitInterval() time.Duration {
	return c.cfg.ResubmitInterval
}

// Resubmit puts RETRYABLE records, and PENDING records untouched for ResubmitAfter, back on the
// queue. Each record is marked PENDING as it is queued, so a record is not picked up again
// before its commit has had ResubmitAfter to finish. It returns how many records were queued
// and stops early when the queue fills.
func (c *Committer) Resubmit(ctx context.Context, source PendingSource) (int, error) {
	cutoff := c.clock().UTC().Add(-c.cfg.ResubmitAfter)
	queued := 0
	for _, status := range []models.LedgerStatus{models.LedgerRetryable, models.LedgerPending} {
		records, err := source.FindByLedgerStatus(ctx, status, c.cfg.QueueSize)
		if err != nil {
			return queued, fmt.Errorf("list %s records: %w", status, err)
		}
		for _, rec := range records {
			if status == models.LedgerPending && rec.UpdatedAt.After(cutoff) {
				// Oldest first, so the rest are fresher still.
				break
			}
			if c.recorder != nil {
				if err := c.recorder.UpdateLedgerStatus(ctx, rec.Attestation.ID, models.LedgerPending, nil, ""); err != nil {
					return queued, fmt.Errorf("mark %s pending: %w", rec.Attestation.ID, err)
				}
			}
			if err := c.Enqueue(rec.Attestation); err != nil {
				if errors.Is(err, ErrQueueFull) {
					c.logger.Warn("ledger queue full, resubmission deferred", slog.Int("queued", queued))
					return queued, nil
				}
				return queued, err
			}
			queued++
		}
	}
	if queued > 0 {
		c.logger.Info("unfinished ledger commits resubmitted", slog.Int("count", queued))
	}
	return queued, nil
}

// Commit submits one attestation synchronously and records the outcome.
func (c *Committer) Commit(ctx context.Context, att models.Attestation) (models.LedgerStatus, *models.LedgerReceipt, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return c.record(ctx, att.ID, models.LedgerRetryable, nil, err)
		}
	}

	message, err := json.Marshal(att)
	if err != nil {
		return c.record(ctx, att.ID, models.LedgerFailed, nil, fmt.Errorf("marshal attestation: %w", err))
	}

	receipt, err := c.submitter.Submit(ctx, c.BuildFunc(att.ID, message))
	if err != nil {
		var transient *TransientError
		if errors.As(err, &transient) {
			return c.record(ctx, att.ID, models.LedgerRetryable, nil, err)
		}
		return c.record(ctx, att.ID, models.LedgerFailed, nil, err)
	}
	return c.record(ctx, att.ID, models.LedgerCommitted, &receipt, nil)
}

// BuildFunc returns a factory that creates a new transaction, with its own ID and validity
// window, on every call.
func (c *Committer) BuildFunc(attestationID string, message []byte) BuildFunc {
	return func(attempt int) (*Transaction, error) {
		if len(message) == 0 {
			return nil, errors.New("empty ledger message")
		}
		return &Transaction{
			ID:             uuid.NewString(),
			Topic:          c.cfg.Topic,
			IdempotencyKey: attestationID,
			Message:        message,
			ValidStart:     c.clock().UTC(),
			ValidDuration:  c.cfg.ValidDuration,
		}, nil
	}
}

func (c *Committer) record(ctx context.Context, id string, status models.LedgerStatus, receipt *models.LedgerReceipt, cause error) (models.LedgerStatus, *models.LedgerReceipt, error) {
	metrics.ObserveLedgerOutcome(status)
	msg := ""
	if cause != nil {
		msg = cause.Error()
		c.logger.Warn("ledger commit not completed", slog.String("attestation_id", id), slog.String("status", string(status)), slog.Any("error", cause))
	}
	if c.recorder != nil {
		// A cancelled commit still records its status.
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.recorder.UpdateLedgerStatus(recCtx, id, status, receipt, msg); err != nil {
			c.logger.Error("ledger status update failed", slog.String("attestation_id", id), slog.Any("error", err))
		}
	}
	return status, receipt, cause
}

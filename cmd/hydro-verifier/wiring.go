package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hydrotrust/hydro-verifier/internal/attestation"
	"github.com/hydrotrust/hydro-verifier/internal/cache"
	"github.com/hydrotrust/hydro-verifier/internal/config"
	"github.com/hydrotrust/hydro-verifier/internal/engine"
	"github.com/hydrotrust/hydro-verifier/internal/history"
	"github.com/hydrotrust/hydro-verifier/internal/ledger"
	"github.com/hydrotrust/hydro-verifier/internal/ml"
	"github.com/hydrotrust/hydro-verifier/internal/models"
	"github.com/hydrotrust/hydro-verifier/internal/patterns"
	"github.com/hydrotrust/hydro-verifier/internal/repo"
)

// patternStore is implemented by both attestation stores.
type patternStore interface {
	repo.AttestationStore
	patterns.Store
	LoadPatterns(ctx context.Context) ([]models.FailurePattern, error)
}

// components owns everything the verifier needs and releases it on close.
type components struct {
	verifier  *engine.Verifier
	committer *ledger.Committer
	store     patternStore
	closers   []func()
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func engineOptions(cfg *config.Config) engine.Options {
	return engine.Options{
		Thresholds:    cfg.Verification.Thresholds,
		Weights:       cfg.Verification.Weights,
		Checks:        cfg.Verification.Checks,
		MaxReadingAge: cfg.Verification.MaxReadingAge,
		MaxClockSkew:  cfg.Verification.MaxClockSkew,
		MLFlaggedOnly: cfg.Verification.SamplingStrategy == config.SamplingFlagged,
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (patternStore, func(), error) {
	if cfg.Driver == "" || cfg.Driver == config.StoreMemory {
		return repo.NewMemoryStore(), func() {}, nil
	}
	db, err := repo.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	store := repo.NewSQLStore(db)
	if err := store.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init %s schema: %w", cfg.Driver, err)
	}
	logger.Info("attestation store ready", slog.String("driver", cfg.Driver))
	return store, func() { _ = db.Close() }, nil
}

// openReplayCache connects the shared replay cache. An enabled but unreachable Redis is an error:
// an in-process cache would let every replica accept the same reading once.
func openReplayCache(cfg config.CacheConfig, logger *slog.Logger) (cache.Provider, error) {
	if !cfg.Enabled {
		return cache.NewMemoryProvider(), nil
	}
	provider, err := cache.NewRedisProvider(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("replay cache %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("replay cache connected", slog.String("addr", cfg.Redis.Addr))
	return cache.WithPrefix(provider, cfg.KeyPrefix), nil
}

// resubmitLoop sweeps unfinished ledger records back into the committer until ctx ends.
func resubmitLoop(ctx context.Context, committer *ledger.Committer, source ledger.PendingSource, logger *slog.Logger) {
	ticker := time.NewTicker(committer.ResubmitInterval())
	defer ticker.Stop()
	for {
		if _, err := committer.Resubmit(ctx, source); err != nil && ctx.Err() == nil {
			logger.Warn("ledger resubmission failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// buildComponents wires the verification pipeline. The committer is returned unstarted.
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{}
	ok := false
	defer func() {
		if !ok {
			c.close()
		}
	}()

	store, closeStore, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, closeStore)
	c.store = store

	replay, err := openReplayCache(cfg.Cache, logger)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() { _ = replay.Close() })

	signer, err := attestation.NewSigner()
	if err != nil {
		return nil, err
	}
	logger.Info("signing key generated", slog.String("fingerprint", signer.Fingerprint()))

	var detector *ml.Detector
	if cfg.ML.Enabled {
		detector, err = ml.NewDetector(cfg.ML.Detector, logger)
		if err != nil {
			return nil, fmt.Errorf("anomaly detector: %w", err)
		}
	}

	miner := patterns.NewMiner(logger, cfg.Clustering, store)
	if stored, err := store.LoadPatterns(ctx); err != nil {
		logger.Warn("failed to load stored failure patterns", slog.Any("error", err))
	} else if n := miner.Restore(stored); n > 0 {
		logger.Info("failure patterns restored", slog.Int("patterns", n))
	}

	profiles, err := config.LoadProfiles(cfg.Profiles.Path, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Ledger.Enabled {
		var client ledger.Client
		if cfg.Ledger.Endpoint != "" {
			client = ledger.NewHTTPClient(cfg.Ledger.Endpoint, cfg.Ledger.HTTPTimeout)
			logger.Info("ledger gateway configured", slog.String("endpoint", cfg.Ledger.Endpoint))
		} else {
			client = ledger.NewMemoryLedger()
			logger.Info("using in-memory ledger")
		}
		submitter := ledger.NewSubmitter(client, cfg.Ledger.Retry, logger)
		c.committer = ledger.NewCommitter(submitter, store, cfg.Ledger.Committer, logger)
	}

	deps := engine.Deps{
		Logger:    logger,
		History:   history.NewMemoryStore(0),
		Store:     store,
		Signer:    signer,
		Replay:    replay,
		Detector:  detector,
		Miner:     miner,
		Committer: c.committer,
	}
	// A nil registry must not reach the interface as a typed nil.
	if profiles != nil {
		deps.Profiles = profiles
	}
	c.verifier, err = engine.NewVerifier(engineOptions(cfg), deps)
	if err != nil {
		return nil, err
	}
	ok = true
	return c, nil
}

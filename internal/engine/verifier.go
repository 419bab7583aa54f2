// Package engine runs the verification pipeline: guard, checks, scoring, signing, history
// update and hand-off to storage and the ledger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hydrotrust/hydro-verifier/internal/attestation"
	"github.com/hydrotrust/hydro-verifier/internal/cache"
	"github.com/hydrotrust/hydro-verifier/internal/checks"
	"github.com/hydrotrust/hydro-verifier/internal/history"
	"github.com/hydrotrust/hydro-verifier/internal/ledger"
	"github.com/hydrotrust/hydro-verifier/internal/metrics"
	"github.com/hydrotrust/hydro-verifier/internal/ml"
	"github.com/hydrotrust/hydro-verifier/internal/models"
	"github.com/hydrotrust/hydro-verifier/internal/patterns"
	"github.com/hydrotrust/hydro-verifier/internal/repo"
	"github.com/hydrotrust/hydro-verifier/internal/scoring"
	"github.com/hydrotrust/hydro-verifier/internal/utils"
)

// Verification methods recorded on attestations.
const (
	MethodGuard  = "replay-skew-guard"
	MethodChecks = "weighted-checks"
)

const latencyLogEvery = 50

// ProfileSource resolves a device's static profile. Lookup returns nil for unknown devices.
type ProfileSource interface {
	Lookup(deviceID string) *models.DeviceProfile
}

// Options holds the calibration of the verifier.
type Options struct {
	Thresholds scoring.Thresholds
	Weights    scoring.Weights
	Checks     checks.Config
	// MaxReadingAge and MaxClockSkew bound the accepted timestamp window around now.
	MaxReadingAge time.Duration
	MaxClockSkew  time.Duration
	// MLFlaggedOnly runs the anomaly detector only when the rule-based decision is not APPROVED.
	MLFlaggedOnly bool
}

// DefaultOptions returns the built-in calibration.
func DefaultOptions() Options {
	return Options{
		Thresholds:    scoring.DefaultThresholds(),
		Weights:       scoring.DefaultWeights(),
		Checks:        checks.DefaultConfig(),
		MaxReadingAge: 24 * time.Hour,
		MaxClockSkew:  5 * time.Minute,
	}
}

// Deps are the collaborators of the verifier. History, Store and Signer are required; the
// rest are optional.
type Deps struct {
	Logger    *slog.Logger
	History   history.Store
	Store     repo.AttestationStore
	Signer    *attestation.Signer
	Replay    cache.Provider
	Detector  *ml.Detector
	Miner     *patterns.Miner
	Committer *ledger.Committer
	Profiles  ProfileSource
	Clock     func() time.Time
}

// Verifier turns telemetry readings into signed attestations.
type Verifier struct {
	opts       Options
	logger     *slog.Logger
	history    history.Store
	store      repo.AttestationStore
	signer     *attestation.Signer
	replay     cache.Provider
	detector   *ml.Detector
	miner      *patterns.Miner
	committer  *ledger.Committer
	profiles   ProfileSource
	clock      func() time.Time
	runner     *checks.Runner
	aggregator *scoring.Aggregator
	decider    *scoring.DecisionEngine
	scales     ml.Scales
	locks      *keyedMutex
	latency    *utils.LatencyTracker
	verified   atomic.Int64
}

// NewVerifier validates the calibration and wires the pipeline.
func NewVerifier(opts Options, deps Deps) (*Verifier, error) {
	if deps.History == nil || deps.Store == nil || deps.Signer == nil {
		return nil, errors.New("verifier requires history, store and signer")
	}
	aggregator, err := scoring.NewAggregator(opts.Weights)
	if err != nil {
		return nil, fmt.Errorf("weights: %w", err)
	}
	decider, err := scoring.NewDecisionEngine(opts.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	if err := opts.Checks.Environmental.Validate(); err != nil {
		return nil, fmt.Errorf("environmental bands: %w", err)
	}
	def := DefaultOptions()
	if opts.MaxReadingAge <= 0 {
		opts.MaxReadingAge = def.MaxReadingAge
	}
	if opts.MaxClockSkew < 0 {
		opts.MaxClockSkew = def.MaxClockSkew
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	replay := deps.Replay
	if replay == nil {
		replay = cache.NewMemoryProvider()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Verifier{
		opts:       opts,
		logger:     logger,
		history:    deps.History,
		store:      deps.Store,
		signer:     deps.Signer,
		replay:     replay,
		detector:   deps.Detector,
		miner:      deps.Miner,
		committer:  deps.Committer,
		profiles:   deps.Profiles,
		clock:      clock,
		runner:     checks.NewDefaultRunner(logger, opts.Checks),
		aggregator: aggregator,
		decider:    decider,
		scales:     ml.DefaultScales(),
		locks:      newKeyedMutex(),
		latency:    utils.NewLatencyTracker(512),
	}, nil
}

// VerifyPayload validates a wire payload and verifies it.
func (v *Verifier) VerifyPayload(ctx context.Context, payload models.ReadingPayload) (models.VerificationResult, error) {
	reading, err := payload.ToReading()
	if err != nil {
		return models.VerificationResult{}, err
	}
	return v.Verify(ctx, reading, nil)
}

// Verify runs the full pipeline for one reading. profile overrides the registered profile of
// the device when non-nil. Replayed or out-of-window readings yield a signed REJECTED
// attestation rather than an error; malformed readings return *models.InputError.
func (v *Verifier) Verify(ctx context.Context, reading models.TelemetryReading, profile *models.DeviceProfile) (models.VerificationResult, error) {
	if err := reading.Validate(); err != nil {
		return models.VerificationResult{}, err
	}
	start := v.clock()

	unlock := v.locks.Lock(reading.DeviceID)
	att, err := v.verifyLocked(ctx, reading, profile, start)
	unlock()
	if err != nil {
		return models.VerificationResult{}, err
	}

	status := v.persist(ctx, att)

	elapsed := v.clock().Sub(start)
	metrics.ObserveVerification(elapsed, att.VerificationStatus)
	v.observeLatency(elapsed)
	v.logger.Debug("reading verified",
		slog.String("device_id", att.DeviceID),
		slog.String("decision", string(att.VerificationStatus)),
		slog.Float64("trust_score", att.TrustScore),
		slog.String("ledger_status", string(status)),
	)

	return models.VerificationResult{Attestation: att, LedgerStatus: status}, nil
}

func (v *Verifier) verifyLocked(ctx context.Context, reading models.TelemetryReading, profile *models.DeviceProfile, now time.Time) (_ models.Attestation, err error) {
	guardErr, err := v.guard(ctx, reading, now)
	if err != nil {
		return models.Attestation{}, err
	}
	if guardErr != nil {
		return v.reject(ctx, reading, guardErr)
	}
	// The reading has claimed its replay key. Until it has a decision the claim is released on
	// failure, otherwise a retry of the same reading would be rejected as a replay.
	defer func() {
		if err != nil {
			v.releaseReplayKey(ctx, reading)
		}
	}()

	snapshot, err := v.history.Snapshot(ctx, reading.DeviceID)
	if err != nil {
		return models.Attestation{}, utils.NewAppError("verify", "load device history", err)
	}
	if profile == nil && v.profiles != nil {
		profile = v.profiles.Lookup(reading.DeviceID)
	}

	set := v.runner.Run(checks.Input{Reading: reading, History: snapshot, Profile: profile})
	score := v.aggregator.Score(set)
	decision := v.decider.Decide(score)
	assessment := v.assess(reading, decision)

	att := models.Attestation{
		ID:                 uuid.NewString(),
		DeviceID:           reading.DeviceID,
		Timestamp:          reading.Timestamp,
		VerificationStatus: decision,
		VerificationMethod: v.method(),
		TrustScore:         score,
		Checks:             set,
		Anomaly:            assessment,
		Readings:           reading,
	}
	if decision != models.DecisionApproved {
		att.RejectionReasons = scoring.Reasons(set)
	}
	signed, err := v.signer.Sign(att)
	if err != nil {
		return models.Attestation{}, utils.NewAppError("verify", "sign attestation", err)
	}

	update := models.HistoryUpdate{
		Entry: &models.HistoryEntry{
			Timestamp:    reading.Timestamp,
			TrustScore:   score,
			Decision:     decision,
			GeneratedKWh: reading.GeneratedKWh,
			FlowRateM3S:  reading.FlowRateM3S,
		},
		Decision: decision,
		Anomaly:  assessment.IsAnomaly,
	}
	if err := v.history.Update(ctx, reading.DeviceID, update); err != nil {
		return models.Attestation{}, utils.NewAppError("verify", "update device history", err)
	}
	return signed, nil
}

// guard enforces the timestamp window and rejects repeated (deviceId, timestamp) pairs.
func (v *Verifier) guard(ctx context.Context, reading models.TelemetryReading, now time.Time) (*models.ReplayOrSkewError, error) {
	window := utils.Window{Past: v.opts.MaxReadingAge, Future: v.opts.MaxClockSkew}
	if !window.Contains(reading.Timestamp, now) {
		oldest, newest := window.Bounds(now)
		return &models.ReplayOrSkewError{
			DeviceID: reading.DeviceID,
			Reason:   models.ReasonTimestampOutOfWindow,
			Detail:   fmt.Sprintf("timestamp %s outside [%s, %s]", reading.Timestamp.Format(time.RFC3339), oldest.UTC().Format(time.RFC3339), newest.UTC().Format(time.RFC3339)),
		}, nil
	}

	key := replayKey(reading)
	// Anything older than the window is rejected above, so the key only has to outlive it.
	ttl := window.Span()
	fresh, err := v.replay.SetNX(ctx, key, []byte(now.UTC().Format(time.RFC3339Nano)), ttl)
	if err != nil {
		return nil, utils.NewAppError("verify", "replay guard", err)
	}
	if !fresh {
		return &models.ReplayOrSkewError{
			DeviceID: reading.DeviceID,
			Reason:   models.ReasonReplayDetected,
			Detail:   "timestamp " + reading.Timestamp.Format(time.RFC3339Nano) + " already seen",
		}, nil
	}
	return nil, nil
}

func (v *Verifier) releaseReplayKey(ctx context.Context, reading models.TelemetryReading) {
	if derr := v.replay.Del(context.WithoutCancel(ctx), replayKey(reading)); derr != nil {
		v.logger.Error("failed to release replay key", slog.String("device_id", reading.DeviceID), slog.Any("error", derr))
	}
}

func replayKey(r models.TelemetryReading) string {
	return "replay:" + r.DeviceID + ":" + r.Timestamp.UTC().Format(time.RFC3339Nano)
}

// reject signs a guard rejection. Only the counters move; the baseline is untouched.
func (v *Verifier) reject(ctx context.Context, reading models.TelemetryReading, cause *models.ReplayOrSkewError) (models.Attestation, error) {
	metrics.ObserveGuardRejection(cause.Reason)
	v.logger.Warn("reading rejected by guard", slog.String("device_id", reading.DeviceID), slog.String("reason", cause.Reason), slog.Any("error", cause))

	att := models.Attestation{
		ID:                 uuid.NewString(),
		DeviceID:           reading.DeviceID,
		Timestamp:          reading.Timestamp,
		VerificationStatus: models.DecisionRejected,
		VerificationMethod: MethodGuard,
		TrustScore:         0,
		Readings:           reading,
		RejectionReasons:   []string{cause.Reason},
	}
	signed, err := v.signer.Sign(att)
	if err != nil {
		return models.Attestation{}, utils.NewAppError("verify", "sign attestation", err)
	}
	if err := v.history.Update(ctx, reading.DeviceID, models.HistoryUpdate{Decision: models.DecisionRejected}); err != nil {
		return models.Attestation{}, utils.NewAppError("verify", "update device counters", err)
	}
	return signed, nil
}

func (v *Verifier) assess(reading models.TelemetryReading, decision models.Decision) models.AnomalyAssessment {
	var assessment models.AnomalyAssessment
	if v.detector != nil && (!v.opts.MLFlaggedOnly || decision != models.DecisionApproved) {
		a, err := v.detector.Assess(reading)
		switch {
		case err == nil:
			assessment = a
			if a.IsAnomaly {
				metrics.ObserveAnomaly()
			}
		case errors.Is(err, ml.ErrNotTrained):
			v.logger.Debug("anomaly model not trained", slog.String("device_id", reading.DeviceID))
		default:
			v.logger.Warn("anomaly assessment failed", slog.String("device_id", reading.DeviceID), slog.Any("error", err))
		}
	}
	if decision != models.DecisionApproved && v.miner != nil {
		features := assessment.Features
		if len(features) == 0 {
			features = v.features(reading)
		}
		if name, ok := v.miner.Assign(features); ok {
			assessment.Pattern = name
		}
	}
	return assessment
}

func (v *Verifier) features(r models.TelemetryReading) []float64 {
	if v.detector != nil {
		return v.detector.Features(r)
	}
	return v.scales.Extract(r)
}

func (v *Verifier) method() string {
	if v.detector == nil {
		return MethodChecks
	}
	if v.opts.MLFlaggedOnly {
		return MethodChecks + "+isolation-forest:flagged"
	}
	return MethodChecks + "+isolation-forest:all"
}

// persist stores the attestation and hands it to the ledger committer. A failure here never
// changes the decision; it only shows in the returned ledger status.
func (v *Verifier) persist(ctx context.Context, att models.Attestation) models.LedgerStatus {
	status := models.LedgerSkipped
	if v.committer != nil {
		status = models.LedgerPending
	}
	rec := models.AttestationRecord{Attestation: att, LedgerStatus: status, UpdatedAt: v.clock().UTC()}
	if err := v.store.Save(ctx, rec); err != nil {
		v.logger.Error("attestation save failed", slog.String("attestation_id", att.ID), slog.String("device_id", att.DeviceID), slog.Any("error", err))
	}
	if v.committer == nil {
		return status
	}
	if err := v.committer.Enqueue(att); err != nil {
		v.logger.Warn("ledger enqueue failed", slog.String("attestation_id", att.ID), slog.Any("error", err))
		status = models.LedgerRetryable
		if uerr := v.store.UpdateLedgerStatus(ctx, att.ID, status, nil, err.Error()); uerr != nil && !errors.Is(uerr, repo.ErrNotFound) {
			v.logger.Error("ledger status update failed", slog.String("attestation_id", att.ID), slog.Any("error", uerr))
		}
	}
	return status
}

func (v *Verifier) observeLatency(d time.Duration) {
	v.latency.Observe(d)
	if n := v.verified.Add(1); n%latencyLogEvery == 0 {
		v.logger.Info("verification latency", slog.Any("window", v.latency.Summary()), slog.Int64("verifications", n))
	}
}

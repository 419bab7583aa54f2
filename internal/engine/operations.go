package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hydrotrust/hydro-verifier/internal/attestation"
	"github.com/hydrotrust/hydro-verifier/internal/ml"
	"github.com/hydrotrust/hydro-verifier/internal/models"
	"github.com/hydrotrust/hydro-verifier/internal/patterns"
	"github.com/hydrotrust/hydro-verifier/internal/utils"
)

// ErrMinerDisabled is returned by TrainClusters when no clusterer is configured.
var ErrMinerDisabled = errors.New("anomaly clustering disabled")

// ErrDetectorDisabled is returned by RetrainDetector when no detector is configured.
var ErrDetectorDisabled = errors.New("anomaly detector disabled")

// DeviceStats summarises a device's lifetime outcome.
type DeviceStats struct {
	DeviceID     string                `json:"deviceId"`
	Counters     models.DeviceCounters `json:"counters"`
	ApprovalRate float64               `json:"approvalRate"`
	Window       int                   `json:"window"`
	LastScore    float64               `json:"lastScore"`
}

// DeviceStats returns the counters and window size of deviceID.
func (v *Verifier) DeviceStats(ctx context.Context, deviceID string) (DeviceStats, error) {
	snapshot, err := v.history.Snapshot(ctx, deviceID)
	if err != nil {
		return DeviceStats{}, utils.NewAppError("device stats", "load device history", err)
	}
	stats := DeviceStats{
		DeviceID:     deviceID,
		Counters:     snapshot.Counters,
		ApprovalRate: snapshot.Counters.ApprovalRate(),
		Window:       len(snapshot.Entries),
	}
	if last, ok := snapshot.Latest(); ok {
		stats.LastScore = last.TrustScore
	}
	return stats, nil
}

// Attestation returns a stored attestation record.
func (v *Verifier) Attestation(ctx context.Context, id string) (models.AttestationRecord, error) {
	return v.store.FindByID(ctx, id)
}

// Attestations lists stored records by device, or by decision when deviceID is empty.
func (v *Verifier) Attestations(ctx context.Context, deviceID string, decision models.Decision, limit int) ([]models.AttestationRecord, error) {
	if deviceID != "" {
		return v.store.FindByDevice(ctx, deviceID, limit)
	}
	if decision == "" {
		return nil, errors.New("deviceId or decision is required")
	}
	return v.store.FindByStatus(ctx, decision, limit)
}

// VerifyStored re-checks the signature of a stored attestation. Tampering yields false and an
// error wrapping attestation.ErrSignatureIntegrity.
func (v *Verifier) VerifyStored(ctx context.Context, id string) (bool, error) {
	rec, err := v.store.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	ok, err := v.signer.VerifySignature(rec.Attestation)
	if err != nil && errors.Is(err, attestation.ErrSignatureIntegrity) {
		v.logger.Error("stored attestation failed signature verification", slog.String("attestation_id", id), slog.Any("error", err))
	}
	return ok, err
}

// TrainClusters mines failure patterns from up to limit FLAGGED and limit REJECTED
// attestations. Guard rejections carry no check evidence and are skipped.
func (v *Verifier) TrainClusters(ctx context.Context, limit int) ([]models.FailurePattern, error) {
	if v.miner == nil {
		return nil, ErrMinerDisabled
	}
	var samples [][]float64
	for _, decision := range []models.Decision{models.DecisionFlagged, models.DecisionRejected} {
		records, err := v.store.FindByStatus(ctx, decision, limit)
		if err != nil {
			return nil, utils.NewAppError("train clusters", "load attestations", err)
		}
		for _, rec := range records {
			att := rec.Attestation
			if att.VerificationMethod == MethodGuard {
				continue
			}
			features := att.Anomaly.Features
			if len(features) != ml.FeatureCount {
				features = v.features(att.Readings)
			}
			samples = append(samples, features)
		}
	}

	mined, err := v.miner.Mine(ctx, samples)
	if err != nil {
		if errors.Is(err, patterns.ErrTooFewSamples) {
			return nil, err
		}
		return nil, utils.NewAppError("train clusters", "mine patterns", err)
	}
	v.logger.Info("failure patterns mined", slog.Int("samples", len(samples)), slog.Int("patterns", len(mined)))
	return mined, nil
}

// RetrainDetector refits the isolation forest on up to limit APPROVED readings.
func (v *Verifier) RetrainDetector(ctx context.Context, limit int) (int, error) {
	if v.detector == nil {
		return 0, ErrDetectorDisabled
	}
	records, err := v.store.FindByStatus(ctx, models.DecisionApproved, limit)
	if err != nil {
		return 0, utils.NewAppError("retrain detector", "load attestations", err)
	}
	readings := make([]models.TelemetryReading, 0, len(records))
	for _, rec := range records {
		readings = append(readings, rec.Attestation.Readings)
	}
	if err := v.detector.Retrain(readings); err != nil {
		return 0, fmt.Errorf("retrain detector: %w", err)
	}
	return len(readings), nil
}

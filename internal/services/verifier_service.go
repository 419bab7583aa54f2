package services

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hydrotrust/hydro-verifier/internal/api"
	"github.com/hydrotrust/hydro-verifier/internal/attestation"
	"github.com/hydrotrust/hydro-verifier/internal/engine"
	"github.com/hydrotrust/hydro-verifier/internal/ml"
	"github.com/hydrotrust/hydro-verifier/internal/models"
	"github.com/hydrotrust/hydro-verifier/internal/patterns"
	"github.com/hydrotrust/hydro-verifier/internal/repo"
	"github.com/hydrotrust/hydro-verifier/internal/utils"
)

// Verifier is the engine behaviour exposed over gRPC.
type Verifier interface {
	Verify(ctx context.Context, reading models.TelemetryReading, profile *models.DeviceProfile) (models.VerificationResult, error)
	Attestation(ctx context.Context, id string) (models.AttestationRecord, error)
	Attestations(ctx context.Context, deviceID string, decision models.Decision, limit int) ([]models.AttestationRecord, error)
	VerifyStored(ctx context.Context, id string) (bool, error)
	TrainClusters(ctx context.Context, limit int) ([]models.FailurePattern, error)
	RetrainDetector(ctx context.Context, limit int) (int, error)
	DeviceStats(ctx context.Context, deviceID string) (engine.DeviceStats, error)
}

// VerifierService implements api.VerifierServer.
type VerifierService struct {
	logger   *slog.Logger
	verifier Verifier
}

var _ api.VerifierServer = (*VerifierService)(nil)

// NewVerifierService constructs the gRPC facade.
func NewVerifierService(logger *slog.Logger, verifier Verifier) *VerifierService {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerifierService{logger: logger, verifier: verifier}
}

// Verify verifies one reading and returns the signed attestation with its ledger status.
func (s *VerifierService) Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body api.VerifyRequest
	if err := decode(req, &body); err != nil {
		return nil, err
	}
	reading, err := body.Reading.ToReading()
	if err != nil {
		return nil, s.toStatus("verify", err)
	}
	result, err := s.verifier.Verify(ctx, reading, body.Profile)
	if err != nil {
		return nil, s.toStatus("verify", err)
	}
	return encode(result)
}

// GetAttestation returns a stored attestation record.
func (s *VerifierService) GetAttestation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body api.IDRequest
	if err := decode(req, &body); err != nil {
		return nil, err
	}
	if body.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	rec, err := s.verifier.Attestation(ctx, body.ID)
	if err != nil {
		return nil, s.toStatus("get attestation", err)
	}
	return encode(rec)
}

// ListAttestations lists records by device or decision.
func (s *VerifierService) ListAttestations(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body api.ListRequest
	if err := decode(req, &body); err != nil {
		return nil, err
	}
	if body.DeviceID == "" && body.Decision == "" {
		return nil, status.Error(codes.InvalidArgument, "deviceId or decision is required")
	}
	switch body.Decision {
	case "", models.DecisionApproved, models.DecisionFlagged, models.DecisionRejected:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown decision %q", body.Decision)
	}
	records, err := s.verifier.Attestations(ctx, body.DeviceID, body.Decision, body.Limit)
	if err != nil {
		return nil, s.toStatus("list attestations", err)
	}
	return encode(api.ListResponse{Attestations: records})
}

// VerifyAttestation re-checks the signature of a stored attestation. Tampering is reported as
// valid=false, not as an RPC error.
func (s *VerifierService) VerifyAttestation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body api.IDRequest
	if err := decode(req, &body); err != nil {
		return nil, err
	}
	if body.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	valid, err := s.verifier.VerifyStored(ctx, body.ID)
	resp := api.VerifyAttestationResponse{ID: body.ID, Valid: valid}
	if err != nil {
		if !errors.Is(err, attestation.ErrSignatureIntegrity) {
			return nil, s.toStatus("verify attestation", err)
		}
		resp.Error = err.Error()
	}
	return encode(resp)
}

// TrainClusters mines failure patterns from stored FLAGGED and REJECTED attestations.
func (s *VerifierService) TrainClusters(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body api.TrainRequest
	if err := decode(req, &body); err != nil {
		return nil, err
	}
	mined, err := s.verifier.TrainClusters(ctx, body.Limit)
	if err != nil {
		return nil, s.toStatus("train clusters", err)
	}
	return encode(api.TrainClustersResponse{Patterns: mined})
}

// RetrainDetector refits the isolation forest from stored APPROVED readings.
func (s *VerifierService) RetrainDetector(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body api.TrainRequest
	if err := decode(req, &body); err != nil {
		return nil, err
	}
	n, err := s.verifier.RetrainDetector(ctx, body.Limit)
	if err != nil {
		return nil, s.toStatus("retrain detector", err)
	}
	return encode(api.RetrainResponse{Samples: n})
}

// DeviceStats returns a device's lifetime counters.
func (s *VerifierService) DeviceStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var body api.DeviceRequest
	if err := decode(req, &body); err != nil {
		return nil, err
	}
	if body.DeviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "deviceId is required")
	}
	stats, err := s.verifier.DeviceStats(ctx, body.DeviceID)
	if err != nil {
		return nil, s.toStatus("device stats", err)
	}
	return encode(stats)
}

func decode(req *structpb.Struct, out any) error {
	if req == nil {
		return status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if err := api.FromStruct(req, out); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	out, err := api.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func (s *VerifierService) toStatus(op string, err error) error {
	var inputErr *models.InputError
	switch {
	case errors.As(err, &inputErr):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, patterns.ErrTooFewSamples), errors.Is(err, ml.ErrInsufficientSamples),
		errors.Is(err, engine.ErrMinerDisabled), errors.Is(err, engine.ErrDetectorDisabled):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		attrs := []any{slog.String("op", op), slog.Any("error", err)}
		if inner, ok := utils.OpOf(err); ok && inner != op {
			attrs = append(attrs, slog.String("failed_op", inner))
		}
		s.logger.Error("request failed", attrs...)
		return status.Error(codes.Internal, op+" failed")
	}
}

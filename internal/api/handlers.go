package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// VerifyRequest is the body of Verify.
type VerifyRequest struct {
	Reading models.ReadingPayload `json:"reading"`
	Profile *models.DeviceProfile `json:"profile,omitempty"`
}

// IDRequest is the body of GetAttestation and VerifyAttestation.
type IDRequest struct {
	ID string `json:"id"`
}

// ListRequest is the body of ListAttestations. DeviceID takes precedence over Decision.
type ListRequest struct {
	DeviceID string          `json:"deviceId,omitempty"`
	Decision models.Decision `json:"decision,omitempty"`
	Limit    int             `json:"limit,omitempty"`
}

// ListResponse is the reply of ListAttestations.
type ListResponse struct {
	Attestations []models.AttestationRecord `json:"attestations"`
}

// VerifyAttestationResponse is the reply of VerifyAttestation.
type VerifyAttestationResponse struct {
	ID    string `json:"id"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// TrainRequest is the body of TrainClusters and RetrainDetector.
type TrainRequest struct {
	Limit int `json:"limit,omitempty"`
}

// TrainClustersResponse is the reply of TrainClusters.
type TrainClustersResponse struct {
	Patterns []models.FailurePattern `json:"patterns"`
}

// RetrainResponse is the reply of RetrainDetector.
type RetrainResponse struct {
	Samples int `json:"samples"`
}

// DeviceRequest is the body of DeviceStats.
type DeviceRequest struct {
	DeviceID string `json:"deviceId"`
}

// ToStruct converts any JSON-serialisable value into a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("message is not an object: %w", err)
	}
	return structpb.NewStruct(fields)
}

// FromStruct decodes a protobuf Struct into out.
func FromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return fmt.Errorf("request is nil")
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("marshal struct: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

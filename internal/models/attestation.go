package models

import "time"

// Decision is the final verification outcome.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionFlagged  Decision = "FLAGGED"
	DecisionRejected Decision = "REJECTED"
)

// AnomalyAssessment carries the advisory machine-learning view of a reading. It never
// contributes to the trust score.
type AnomalyAssessment struct {
	Evaluated bool      `json:"evaluated"`
	Score     float64   `json:"score"`
	IsAnomaly bool      `json:"isAnomaly"`
	Threshold float64   `json:"threshold"`
	Features  []float64 `json:"features,omitempty"`
	// Pattern is the post-hoc failure pattern assigned by the clusterer, if trained.
	Pattern string `json:"pattern,omitempty"`
}

// Attestation binds a telemetry reading to its verification outcome. Every field except
// Signature is covered by the signature.
type Attestation struct {
	ID                   string            `json:"id"`
	DeviceID             string            `json:"deviceId"`
	Timestamp            time.Time         `json:"timestamp"`
	VerificationStatus   Decision          `json:"verificationStatus"`
	VerificationMethod   string            `json:"verificationMethod"`
	TrustScore           float64           `json:"trustScore"`
	Checks               CheckSet          `json:"checks"`
	Anomaly              AnomalyAssessment `json:"anomaly"`
	Readings             TelemetryReading  `json:"readings"`
	RejectionReasons     []string          `json:"rejectionReasons,omitempty"`
	SignedAt             time.Time         `json:"signedAt"`
	PublicKeyFingerprint string            `json:"publicKeyFingerprint"`
	Signature            string            `json:"signature"`
}

// LedgerStatus tracks the commit of an attestation to the external ledger. It is kept beside
// the attestation, never inside the signed body.
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "PENDING"
	LedgerCommitted LedgerStatus = "COMMITTED"
	// LedgerRetryable means attempts or the timeout ran out on transient errors; the
	// attestation stays valid and may be resubmitted.
	LedgerRetryable LedgerStatus = "RETRYABLE"
	LedgerFailed    LedgerStatus = "FAILED"
	LedgerSkipped   LedgerStatus = "SKIPPED"
)

// LedgerReceipt identifies a committed ledger transaction.
type LedgerReceipt struct {
	TransactionID  string    `json:"transactionId"`
	SequenceNumber uint64    `json:"sequenceNumber"`
	CommittedAt    time.Time `json:"committedAt"`
}

// AttestationRecord is the stored form of an attestation plus its ledger state.
type AttestationRecord struct {
	Attestation  Attestation    `json:"attestation"`
	LedgerStatus LedgerStatus   `json:"ledgerStatus"`
	LedgerError  string         `json:"ledgerError,omitempty"`
	Receipt      *LedgerReceipt `json:"receipt,omitempty"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// VerificationResult is what callers of the verifier receive: the signed attestation and the
// ledger commit state, reported separately so a ledger failure never changes the decision.
type VerificationResult struct {
	Attestation  Attestation  `json:"attestation"`
	LedgerStatus LedgerStatus `json:"ledgerStatus"`
}

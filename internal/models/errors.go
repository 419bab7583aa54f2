package models

import "fmt"

// Rejection reasons that are decided independently of the trust score.
const (
	ReasonReplayDetected       = "REPLAY_DETECTED"
	ReasonTimestampOutOfWindow = "TIMESTAMP_OUT_OF_WINDOW"
)

// InputError reports a malformed or missing required reading field. It is the caller's fault
// and no check runs for the reading.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid reading: %s %s", e.Field, e.Reason)
}

// ReplayOrSkewError reports a duplicate (deviceId, timestamp) pair or a timestamp outside the
// accepted window around now.
type ReplayOrSkewError struct {
	DeviceID string
	Reason   string
	Detail   string
}

func (e *ReplayOrSkewError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: device %s", e.Reason, e.DeviceID)
	}
	return fmt.Sprintf("%s: device %s: %s", e.Reason, e.DeviceID, e.Detail)
}

// CheckComputationError wraps a failure raised while computing a single check.
type CheckComputationError struct {
	Check CheckName
	Err   error
}

func (e *CheckComputationError) Error() string {
	return fmt.Sprintf("check %s: %v", e.Check, e.Err)
}

func (e *CheckComputationError) Unwrap() error {
	return e.Err
}

package models

// CheckStatus is the outcome class of a single validation check.
type CheckStatus string

const (
	StatusPerfect    CheckStatus = "PERFECT"
	StatusPass       CheckStatus = "PASS"
	StatusWarn       CheckStatus = "WARN"
	StatusFail       CheckStatus = "FAIL"
	StatusOutlier    CheckStatus = "OUTLIER"
	StatusExceeds    CheckStatus = "EXCEEDS"
	StatusOutOfRange CheckStatus = "OUT_OF_RANGE"
)

// Severity orders statuses from best (0) to worst. OUTLIER, EXCEEDS and OUT_OF_RANGE
// rank alongside FAIL.
func (s CheckStatus) Severity() int {
	switch s {
	case StatusPerfect:
		return 0
	case StatusPass:
		return 1
	case StatusWarn:
		return 2
	default:
		return 3
	}
}

// Worse returns the more severe of the two statuses, preferring s on ties.
func (s CheckStatus) Worse(other CheckStatus) CheckStatus {
	if other.Severity() > s.Severity() {
		return other
	}
	return s
}

// CheckName identifies one of the rule-based checks.
type CheckName string

const (
	CheckPhysics       CheckName = "physics"
	CheckTemporal      CheckName = "temporal"
	CheckEnvironmental CheckName = "environmental"
	CheckStatistical   CheckName = "statistical"
	CheckConsistency   CheckName = "consistency"
)

// AllChecks lists the rule-based checks in aggregation order.
var AllChecks = []CheckName{CheckPhysics, CheckTemporal, CheckEnvironmental, CheckStatistical, CheckConsistency}

// CheckResult is the uniform shape returned by every validator.
type CheckResult struct {
	IsValid bool           `json:"isValid"`
	Status  CheckStatus    `json:"status"`
	Score   float64        `json:"score"`
	Details map[string]any `json:"details,omitempty"`
}

// FailedResult builds the FAIL result used when a check cannot be computed.
func FailedResult(reason string) CheckResult {
	return CheckResult{
		IsValid: false,
		Status:  StatusFail,
		Score:   0,
		Details: map[string]any{"error": reason},
	}
}

// CheckSet groups the five rule-based results carried in an attestation.
type CheckSet struct {
	Physics       CheckResult `json:"physics"`
	Temporal      CheckResult `json:"temporal"`
	Environmental CheckResult `json:"environmental"`
	Statistical   CheckResult `json:"statistical"`
	Consistency   CheckResult `json:"consistency"`
}

// Get returns the result for the named check.
func (c CheckSet) Get(name CheckName) CheckResult {
	switch name {
	case CheckPhysics:
		return c.Physics
	case CheckTemporal:
		return c.Temporal
	case CheckEnvironmental:
		return c.Environmental
	case CheckStatistical:
		return c.Statistical
	case CheckConsistency:
		return c.Consistency
	default:
		return CheckResult{}
	}
}

// Set stores the result for the named check.
func (c *CheckSet) Set(name CheckName, result CheckResult) {
	switch name {
	case CheckPhysics:
		c.Physics = result
	case CheckTemporal:
		c.Temporal = result
	case CheckEnvironmental:
		c.Environmental = result
	case CheckStatistical:
		c.Statistical = result
	case CheckConsistency:
		c.Consistency = result
	}
}

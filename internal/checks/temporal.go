package checks

import (
	"math"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// TemporalThresholds are relative change limits against the previous accepted reading.
type TemporalThresholds struct {
	Warn float64 `yaml:"warn"`
	Fail float64 `yaml:"fail"`
}

// DefaultTemporalThresholds returns WARN above 50% and FAIL above 100%.
func DefaultTemporalThresholds() TemporalThresholds {
	return TemporalThresholds{Warn: 0.5, Fail: 1.0}
}

// TemporalConsistencyChecker flags step changes in generation or flow. Run-of-river output
// varies smoothly, so jumps point at meter tampering or a sensor fault.
type TemporalConsistencyChecker struct {
	thresholds TemporalThresholds
}

// NewTemporalConsistencyChecker creates a checker; invalid thresholds fall back to defaults.
func NewTemporalConsistencyChecker(t TemporalThresholds) *TemporalConsistencyChecker {
	if t.Warn <= 0 || t.Fail <= t.Warn {
		t = DefaultTemporalThresholds()
	}
	return &TemporalConsistencyChecker{thresholds: t}
}

// Name implements Check.
func (c *TemporalConsistencyChecker) Name() models.CheckName { return models.CheckTemporal }

// Evaluate implements Check.
func (c *TemporalConsistencyChecker) Evaluate(in Input) (models.CheckResult, error) {
	prev, ok := in.History.LatestAccepted()
	if !ok {
		return models.CheckResult{
			IsValid: true,
			Status:  models.StatusPass,
			Score:   1,
			Details: map[string]any{"baseline": "none"},
		}, nil
	}

	genChange := relativeChange(prev.GeneratedKWh, in.Reading.GeneratedKWh)
	flowChange := relativeChange(prev.FlowRateM3S, in.Reading.FlowRateM3S)
	change := math.Max(genChange, flowChange)

	var (
		status models.CheckStatus
		score  float64
	)
	switch {
	case change <= c.thresholds.Warn:
		status, score = models.StatusPass, lerp(1.0, 0.8, change/c.thresholds.Warn)
	case change <= c.thresholds.Fail:
		status, score = models.StatusWarn, lerp(0.7, 0.4, (change-c.thresholds.Warn)/(c.thresholds.Fail-c.thresholds.Warn))
	default:
		status, score = models.StatusFail, 0.1
	}

	details := map[string]any{
		"previousTimestamp": prev.Timestamp,
		"generationChange":  round(capChange(genChange), 4),
		"flowChange":        round(capChange(flowChange), 4),
	}
	return models.CheckResult{
		IsValid: status != models.StatusFail,
		Status:  status,
		Score:   roundScore(score),
		Details: details,
	}, nil
}

// relativeChange returns |cur-prev|/prev. A move away from a zero baseline counts as infinite.
func relativeChange(prev, cur float64) float64 {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(cur-prev) / math.Abs(prev)
}

// capChange keeps details JSON-encodable.
func capChange(v float64) float64 {
	if math.IsInf(v, 0) {
		return 1e6
	}
	return v
}

package checks

import (
	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// DeviceConsistencyChecker validates a reading against the device's static profile.
type DeviceConsistencyChecker struct{}

// NewDeviceConsistencyChecker creates a checker.
func NewDeviceConsistencyChecker() *DeviceConsistencyChecker {
	return &DeviceConsistencyChecker{}
}

// Name implements Check.
func (c *DeviceConsistencyChecker) Name() models.CheckName { return models.CheckConsistency }

// Evaluate implements Check. Without a profile the check passes and records that no profile
// was available. Each violated dimension contributes 0 to the mean score.
func (c *DeviceConsistencyChecker) Evaluate(in Input) (models.CheckResult, error) {
	if in.Profile == nil {
		return models.CheckResult{
			IsValid: true,
			Status:  models.StatusPass,
			Score:   1,
			Details: map[string]any{"profile": "none"},
		}, nil
	}

	p := in.Profile
	r := in.Reading
	eff, defaulted := r.EfficiencyOrDefault()

	subs := []struct {
		name   string
		ok     bool
		status models.CheckStatus
		value  float64
		limit  float64
	}{
		{"capacity", p.CapacityKW <= 0 || r.GeneratedKWh <= p.CapacityKW, models.StatusExceeds, r.GeneratedKWh, p.CapacityKW},
		{"flow", p.MaxFlowM3S <= 0 || r.FlowRateM3S <= p.MaxFlowM3S, models.StatusExceeds, r.FlowRateM3S, p.MaxFlowM3S},
		{"head", p.MaxHeadM <= 0 || r.HeadHeightM <= p.MaxHeadM, models.StatusExceeds, r.HeadHeightM, p.MaxHeadM},
		{"efficiency", eff >= p.MinEfficiency, models.StatusOutOfRange, eff, p.MinEfficiency},
	}

	passed := 0
	details := make(map[string]any, len(subs)+1)
	for _, s := range subs {
		st := models.StatusPass
		if s.ok {
			passed++
		} else {
			st = s.status
		}
		details[s.name] = map[string]any{"value": s.value, "limit": s.limit, "status": string(st)}
	}
	details["efficiencyDefaulted"] = defaulted

	status := models.StatusPass
	if passed < len(subs) {
		status = models.StatusFail
	}
	return models.CheckResult{
		IsValid: status == models.StatusPass,
		Status:  status,
		Score:   roundScore(float64(passed) / float64(len(subs))),
		Details: details,
	}, nil
}

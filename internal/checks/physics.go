package checks

import (
	"errors"
	"math"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

const (
	// WaterDensity in kg/m³.
	WaterDensity = 1000.0
	// Gravity in m/s².
	Gravity = 9.81
)

// ErrZeroTheoreticalPower is returned when flow, head or efficiency make the theoretical output zero.
var ErrZeroTheoreticalPower = errors.New("theoretical power is zero")

// PhysicsBands holds the relative deviation limits of each status band.
type PhysicsBands struct {
	Perfect float64 `yaml:"perfect"`
	Pass    float64 `yaml:"pass"`
	Warn    float64 `yaml:"warn"`
}

// DefaultPhysicsBands returns the 5% / 10% / 20% bands.
func DefaultPhysicsBands() PhysicsBands {
	return PhysicsBands{Perfect: 0.05, Pass: 0.10, Warn: 0.20}
}

// PhysicsValidator compares reported generation with the hydraulic power available in the water.
type PhysicsValidator struct {
	bands PhysicsBands
}

// NewPhysicsValidator creates a validator; zero bands fall back to the defaults.
func NewPhysicsValidator(bands PhysicsBands) *PhysicsValidator {
	if bands.Perfect <= 0 || bands.Pass <= bands.Perfect || bands.Warn <= bands.Pass {
		bands = DefaultPhysicsBands()
	}
	return &PhysicsValidator{bands: bands}
}

// Name implements Check.
func (v *PhysicsValidator) Name() models.CheckName { return models.CheckPhysics }

// TheoreticalPowerKW returns ρ·g·Q·H·η expressed in kW.
func TheoreticalPowerKW(flowM3S, headM, efficiency float64) float64 {
	return WaterDensity * Gravity * flowM3S * headM * efficiency / 1000
}

// Evaluate implements Check. generatedKwh is treated as the average kW over the reporting interval.
func (v *PhysicsValidator) Evaluate(in Input) (models.CheckResult, error) {
	r := in.Reading
	eff, defaulted := r.EfficiencyOrDefault()
	theoretical := TheoreticalPowerKW(r.FlowRateM3S, r.HeadHeightM, eff)
	if theoretical <= 0 || math.IsNaN(theoretical) || math.IsInf(theoretical, 0) {
		return models.CheckResult{}, ErrZeroTheoreticalPower
	}

	deviation := math.Abs(r.GeneratedKWh-theoretical) / theoretical
	status, score := v.classify(deviation)

	return models.CheckResult{
		IsValid: status != models.StatusFail,
		Status:  status,
		Score:   roundScore(score),
		Details: map[string]any{
			"theoreticalKw":       round(theoretical, 2),
			"reportedKw":          r.GeneratedKWh,
			"deviation":           round(deviation, 4),
			"efficiency":          eff,
			"efficiencyDefaulted": defaulted,
		},
	}, nil
}

// classify maps a deviation onto a band. The score decays linearly inside each band and the
// bands join without gaps, so the score never rises as deviation grows.
func (v *PhysicsValidator) classify(d float64) (models.CheckStatus, float64) {
	b := v.bands
	switch {
	case d <= b.Perfect:
		return models.StatusPerfect, lerp(1.0, 0.95, d/b.Perfect)
	case d <= b.Pass:
		return models.StatusPass, lerp(0.95, 0.85, (d-b.Perfect)/(b.Pass-b.Perfect))
	case d <= b.Warn:
		return models.StatusWarn, lerp(0.85, 0.60, (d-b.Pass)/(b.Warn-b.Pass))
	default:
		// FAIL decays from 0.60 to 0 over a further 2×Warn of deviation.
		return models.StatusFail, math.Max(0, lerp(0.60, 0, (d-b.Warn)/(2*b.Warn)))
	}
}

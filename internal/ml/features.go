// Package ml holds the unsupervised anomaly detector that runs alongside the rule-based checks.
package ml

import (
	"github.com/hydrotrust/hydro-verifier/internal/checks"
	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// FeatureCount is the dimensionality of the feature vector.
const FeatureCount = 8

// Feature indexes.
const (
	FeatureFlow = iota
	FeatureHead
	FeatureGeneration
	FeaturePH
	FeatureTurbidity
	FeatureTemperature
	FeaturePowerDensity
	FeatureEfficiencyRatio
)

// FeatureNames labels each dimension of the feature vector.
var FeatureNames = [FeatureCount]string{
	"flow",
	"head",
	"generation",
	"ph",
	"turbidity",
	"temperature",
	"power_density",
	"efficiency_ratio",
}

// Scales are the domain maxima used to normalize each feature into [0,1].
type Scales struct {
	MaxFlowM3S         float64 `yaml:"maxFlow_m3s"`
	MaxHeadM           float64 `yaml:"maxHead_m"`
	MaxGenerationKW    float64 `yaml:"maxGenerationKw"`
	MaxPH              float64 `yaml:"maxPh"`
	MaxTurbidityNTU    float64 `yaml:"maxTurbidity"`
	MaxTemperatureC    float64 `yaml:"maxTemperature"`
	MaxPowerDensity    float64 `yaml:"maxPowerDensity"`
	MaxEfficiencyRatio float64 `yaml:"maxEfficiencyRatio"`
}

// DefaultScales covers small and mid-size run-of-river plants. Power density is kW per
// (m³/s · m); a lossless turbine yields ρg/1000 = 9.81.
func DefaultScales() Scales {
	return Scales{
		MaxFlowM3S:         50,
		MaxHeadM:           200,
		MaxGenerationKW:    10000,
		MaxPH:              14,
		MaxTurbidityNTU:    1000,
		MaxTemperatureC:    40,
		MaxPowerDensity:    12,
		MaxEfficiencyRatio: 2,
	}
}

// Extract builds the normalized feature vector of a reading.
func (s Scales) Extract(r models.TelemetryReading) []float64 {
	eff, _ := r.EfficiencyOrDefault()

	hydraulic := r.FlowRateM3S * r.HeadHeightM
	density := s.MaxPowerDensity
	if hydraulic > 0 {
		density = r.GeneratedKWh / hydraulic
	} else if r.GeneratedKWh == 0 {
		density = 0
	}

	theoretical := checks.TheoreticalPowerKW(r.FlowRateM3S, r.HeadHeightM, eff)
	ratio := s.MaxEfficiencyRatio
	if theoretical > 0 {
		ratio = r.GeneratedKWh / theoretical
	} else if r.GeneratedKWh == 0 {
		ratio = 0
	}

	return []float64{
		unit(r.FlowRateM3S, s.MaxFlowM3S),
		unit(r.HeadHeightM, s.MaxHeadM),
		unit(r.GeneratedKWh, s.MaxGenerationKW),
		unit(r.PH, s.MaxPH),
		unit(r.TurbidityNTU, s.MaxTurbidityNTU),
		unit(r.TemperatureC, s.MaxTemperatureC),
		unit(density, s.MaxPowerDensity),
		unit(ratio, s.MaxEfficiencyRatio),
	}
}

func unit(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	x := v / max
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

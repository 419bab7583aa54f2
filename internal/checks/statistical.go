package checks

import (
	"math"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// ZThresholds are the z-score cut points between score steps.
type ZThresholds struct {
	Low     float64 `yaml:"low"`
	Medium  float64 `yaml:"medium"`
	High    float64 `yaml:"high"`
	Outlier float64 `yaml:"outlier"`
}

// DefaultZThresholds returns 1.0 / 2.0 / 2.5 / 3.0.
func DefaultZThresholds() ZThresholds {
	return ZThresholds{Low: 1.0, Medium: 2.0, High: 2.5, Outlier: 3.0}
}

// StatisticalConfig controls the generation baseline window.
type StatisticalConfig struct {
	Window     int         `yaml:"window"`
	MinSamples int         `yaml:"minSamples"`
	Z          ZThresholds `yaml:"z"`
}

// DefaultStatisticalConfig returns a 30-reading window that needs 5 samples before scoring.
func DefaultStatisticalConfig() StatisticalConfig {
	return StatisticalConfig{Window: 30, MinSamples: 5, Z: DefaultZThresholds()}
}

// StatisticalAnomalyDetector tests current generation against the device's recent distribution.
// Its baseline evolves with every reading, so results depend on arrival order.
type StatisticalAnomalyDetector struct {
	cfg StatisticalConfig
}

// NewStatisticalAnomalyDetector creates a detector; unset fields take defaults.
func NewStatisticalAnomalyDetector(cfg StatisticalConfig) *StatisticalAnomalyDetector {
	def := DefaultStatisticalConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinSamples < 2 {
		cfg.MinSamples = def.MinSamples
	}
	z := cfg.Z
	if z.Low <= 0 || z.Medium <= z.Low || z.High <= z.Medium || z.Outlier <= z.High {
		cfg.Z = def.Z
	}
	return &StatisticalAnomalyDetector{cfg: cfg}
}

// Name implements Check.
func (d *StatisticalAnomalyDetector) Name() models.CheckName { return models.CheckStatistical }

// Evaluate implements Check.
func (d *StatisticalAnomalyDetector) Evaluate(in Input) (models.CheckResult, error) {
	window := in.History.RecentAcceptedGeneration(d.cfg.Window)
	if len(window) < d.cfg.MinSamples {
		return models.CheckResult{
			IsValid: true,
			Status:  models.StatusPass,
			Score:   1,
			Details: map[string]any{"zScore": 0.0, "samples": len(window), "baseline": "insufficient"},
		}, nil
	}

	mean, stdDev := meanStdDev(window)
	// A perfectly steady plant has zero variance; floor at 1% of the mean so a tiny wobble
	// is not reported as an extreme outlier.
	floor := math.Max(math.Abs(mean)*0.01, 0.01)
	if stdDev < floor {
		stdDev = floor
	}
	z := math.Abs(in.Reading.GeneratedKWh-mean) / stdDev

	var (
		status models.CheckStatus
		score  float64
	)
	t := d.cfg.Z
	switch {
	case z < t.Low:
		status, score = models.StatusPass, 1.0
	case z < t.Medium:
		status, score = models.StatusPass, 0.95
	case z < t.High:
		status, score = models.StatusWarn, 0.90
	case z < t.Outlier:
		status, score = models.StatusWarn, 0.80
	default:
		status, score = models.StatusOutlier, 0.30
	}

	return models.CheckResult{
		IsValid: status != models.StatusOutlier,
		Status:  status,
		Score:   score,
		Details: map[string]any{
			"zScore":  round(z, 4),
			"mean":    round(mean, 4),
			"stdDev":  round(stdDev, 4),
			"samples": len(window),
		},
	}, nil
}

func meanStdDev(values []float64) (float64, float64) {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += math.Pow(v-mean, 2)
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

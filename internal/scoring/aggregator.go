// Package scoring combines check results into a trust score and maps it to a decision.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

const weightTolerance = 1e-6

// Weights assigns each rule-based check its share of the trust score.
type Weights struct {
	Physics       float64 `yaml:"physics"`
	Temporal      float64 `yaml:"temporal"`
	Environmental float64 `yaml:"environmental"`
	Statistical   float64 `yaml:"statistical"`
	Consistency   float64 `yaml:"consistency"`
}

// DefaultWeights returns physics 0.30, temporal 0.25, environmental 0.20, statistical 0.15
// and consistency 0.10.
func DefaultWeights() Weights {
	return Weights{Physics: 0.30, Temporal: 0.25, Environmental: 0.20, Statistical: 0.15, Consistency: 0.10}
}

// Of returns the weight of one check.
func (w Weights) Of(name models.CheckName) float64 {
	switch name {
	case models.CheckPhysics:
		return w.Physics
	case models.CheckTemporal:
		return w.Temporal
	case models.CheckEnvironmental:
		return w.Environmental
	case models.CheckStatistical:
		return w.Statistical
	case models.CheckConsistency:
		return w.Consistency
	}
	return 0
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	total := 0.0
	for _, name := range models.AllChecks {
		total += w.Of(name)
	}
	return total
}

// Validate rejects negative weights and totals that differ from 1.
func (w Weights) Validate() error {
	for _, name := range models.AllChecks {
		if v := w.Of(name); v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("weight %s=%v must be within [0,1]", name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1.0, got %.6f", sum)
	}
	return nil
}

// Aggregator computes the weighted trust score.
type Aggregator struct {
	weights Weights
}

// NewAggregator validates weights and returns an Aggregator.
func NewAggregator(w Weights) (*Aggregator, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{weights: w}, nil
}

// Weights returns the configured weights.
func (a *Aggregator) Weights() Weights { return a.weights }

// Score returns Σ weight·score over the five checks, clamped to [0,1] and rounded to 4 decimals.
func (a *Aggregator) Score(set models.CheckSet) float64 {
	total := 0.0
	for _, name := range models.AllChecks {
		s := set.Get(name).Score
		if math.IsNaN(s) {
			s = 0
		}
		total += a.weights.Of(name) * math.Max(0, math.Min(1, s))
	}
	total = math.Max(0, math.Min(1, total))
	return math.Round(total*10000) / 10000
}

// Thresholds are the decision cut points.
type Thresholds struct {
	AutoApprove  float64 `yaml:"autoApprove"`
	ManualReview float64 `yaml:"manualReview"`
}

// DefaultThresholds returns auto-approve 0.90 and manual review 0.70.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoApprove: 0.90, ManualReview: 0.70}
}

// ErrThresholdOrder is returned when the manual review threshold is not below auto-approve.
var ErrThresholdOrder = errors.New("manualReview threshold must be below autoApprove")

// Validate requires 0 < manualReview < autoApprove ≤ 1.
func (t Thresholds) Validate() error {
	if t.AutoApprove <= 0 || t.AutoApprove > 1 {
		return fmt.Errorf("autoApprove threshold %v must be within (0,1]", t.AutoApprove)
	}
	if t.ManualReview <= 0 || t.ManualReview > 1 {
		return fmt.Errorf("manualReview threshold %v must be within (0,1]", t.ManualReview)
	}
	if t.ManualReview >= t.AutoApprove {
		return ErrThresholdOrder
	}
	return nil
}

// DecisionEngine maps a trust score to a decision.
type DecisionEngine struct {
	thresholds Thresholds
}

// NewDecisionEngine validates thresholds and returns a DecisionEngine.
func NewDecisionEngine(t Thresholds) (*DecisionEngine, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &DecisionEngine{thresholds: t}, nil
}

// Thresholds returns the configured thresholds.
func (d *DecisionEngine) Thresholds() Thresholds { return d.thresholds }

// Decide returns APPROVED at or above autoApprove, FLAGGED at or above manualReview, else REJECTED.
func (d *DecisionEngine) Decide(score float64) models.Decision {
	switch {
	case score >= d.thresholds.AutoApprove:
		return models.DecisionApproved
	case score >= d.thresholds.ManualReview:
		return models.DecisionFlagged
	default:
		return models.DecisionRejected
	}
}

// Reasons lists the checks that did not pass, for REJECTED and FLAGGED attestations.
func Reasons(set models.CheckSet) []string {
	var reasons []string
	for _, name := range models.AllChecks {
		res := set.Get(name)
		if !res.IsValid {
			reasons = append(reasons, fmt.Sprintf("%s: %s", name, res.Status))
		}
	}
	return reasons
}

package checks

import (
	"fmt"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// Range is an inclusive interval.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains reports whether v lies in the range.
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Covers reports whether r contains inner entirely.
func (r Range) Covers(inner Range) bool { return r.Min <= inner.Min && r.Max >= inner.Max }

// Bands nests perfect ⊂ acceptable ⊂ questionable. Values outside questionable are rejected.
type Bands struct {
	Perfect      Range `yaml:"perfect"`
	Acceptable   Range `yaml:"acceptable"`
	Questionable Range `yaml:"questionable"`
}

// Validate checks that the bands nest.
func (b Bands) Validate() error {
	if b.Perfect.Min > b.Perfect.Max {
		return fmt.Errorf("perfect band min %.2f exceeds max %.2f", b.Perfect.Min, b.Perfect.Max)
	}
	if !b.Acceptable.Covers(b.Perfect) {
		return fmt.Errorf("acceptable band must contain perfect band")
	}
	if !b.Questionable.Covers(b.Acceptable) {
		return fmt.Errorf("questionable band must contain acceptable band")
	}
	return nil
}

// EnvironmentalBands configures the three sub-checks.
type EnvironmentalBands struct {
	PH           Bands `yaml:"ph"`
	TurbidityNTU Bands `yaml:"turbidity"`
	TemperatureC Bands `yaml:"temperature"`
}

// Validate checks every field's bands.
func (e EnvironmentalBands) Validate() error {
	for name, b := range map[string]Bands{"ph": e.PH, "turbidity": e.TurbidityNTU, "temperature": e.TemperatureC} {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// DefaultEnvironmentalBands returns bands suited to temperate mountain rivers.
func DefaultEnvironmentalBands() EnvironmentalBands {
	return EnvironmentalBands{
		PH: Bands{
			Perfect:      Range{Min: 6.5, Max: 8.5},
			Acceptable:   Range{Min: 6.0, Max: 9.0},
			Questionable: Range{Min: 5.5, Max: 9.5},
		},
		TurbidityNTU: Bands{
			Perfect:      Range{Min: 0, Max: 10},
			Acceptable:   Range{Min: 0, Max: 50},
			Questionable: Range{Min: 0, Max: 100},
		},
		TemperatureC: Bands{
			Perfect:      Range{Min: 5, Max: 25},
			Acceptable:   Range{Min: 0, Max: 30},
			Questionable: Range{Min: -2, Max: 35},
		},
	}
}

// Sub-check scores per band.
const (
	bandScorePerfect      = 1.0
	bandScoreAcceptable   = 0.85
	bandScoreQuestionable = 0.5
	bandScoreRejected     = 0.0
)

// EnvironmentalBoundsChecker scores pH, turbidity and temperature against nested bands.
type EnvironmentalBoundsChecker struct {
	bands EnvironmentalBands
}

// NewEnvironmentalBoundsChecker creates a checker.
func NewEnvironmentalBoundsChecker(bands EnvironmentalBands) *EnvironmentalBoundsChecker {
	return &EnvironmentalBoundsChecker{bands: bands}
}

// Name implements Check.
func (c *EnvironmentalBoundsChecker) Name() models.CheckName { return models.CheckEnvironmental }

// Evaluate implements Check. The score is the mean of the three sub-scores and the status is
// the worst sub-status.
func (c *EnvironmentalBoundsChecker) Evaluate(in Input) (models.CheckResult, error) {
	r := in.Reading
	subs := []struct {
		name  string
		value float64
		bands Bands
	}{
		{"ph", r.PH, c.bands.PH},
		{"turbidity", r.TurbidityNTU, c.bands.TurbidityNTU},
		{"temperature", r.TemperatureC, c.bands.TemperatureC},
	}

	status := models.StatusPerfect
	valid := true
	total := 0.0
	details := make(map[string]any, len(subs))
	for _, sub := range subs {
		st, score := scoreBand(sub.value, sub.bands)
		if st == models.StatusOutOfRange {
			valid = false
		}
		status = status.Worse(st)
		total += score
		details[sub.name] = map[string]any{"value": sub.value, "status": string(st), "score": score}
	}
	if status == models.StatusOutOfRange {
		status = models.StatusFail
	}

	return models.CheckResult{
		IsValid: valid,
		Status:  status,
		Score:   roundScore(total / float64(len(subs))),
		Details: details,
	}, nil
}

func scoreBand(v float64, b Bands) (models.CheckStatus, float64) {
	switch {
	case b.Perfect.Contains(v):
		return models.StatusPerfect, bandScorePerfect
	case b.Acceptable.Contains(v):
		return models.StatusPass, bandScoreAcceptable
	case b.Questionable.Contains(v):
		return models.StatusWarn, bandScoreQuestionable
	default:
		return models.StatusOutOfRange, bandScoreRejected
	}
}

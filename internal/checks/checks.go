// Package checks implements the rule-based validators that feed the trust score.
package checks

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// Input is the read-only view a check evaluates: the reading plus a snapshot of the device's
// history and its optional static profile.
type Input struct {
	Reading models.TelemetryReading
	History models.DeviceHistory
	Profile *models.DeviceProfile
}

// Check is implemented by every rule-based validator.
type Check interface {
	Name() models.CheckName
	Evaluate(in Input) (models.CheckResult, error)
}

// Runner evaluates a fixed set of checks concurrently for one reading.
type Runner struct {
	checks []Check
	logger *slog.Logger
}

// NewRunner constructs a Runner.
func NewRunner(logger *slog.Logger, checks ...Check) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{checks: checks, logger: logger}
}

// Run evaluates every check in parallel. A check that errors or panics is converted into a
// FAIL result for that check only.
func (r *Runner) Run(in Input) models.CheckSet {
	var (
		set models.CheckSet
		mu  sync.Mutex
		wg  sync.WaitGroup
	)
	for _, c := range r.checks {
		wg.Add(1)
		go func(c Check) {
			defer wg.Done()
			result := r.evaluate(c, in)
			mu.Lock()
			set.Set(c.Name(), result)
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return set
}

func (r *Runner) evaluate(c Check, in Input) (result models.CheckResult) {
	defer func() {
		if rec := recover(); rec != nil {
			err := &models.CheckComputationError{Check: c.Name(), Err: fmt.Errorf("panic: %v", rec)}
			r.logger.Warn("check panicked", slog.String("device_id", in.Reading.DeviceID), slog.Any("error", err))
			result = models.FailedResult(err.Error())
		}
	}()

	res, err := c.Evaluate(in)
	if err != nil {
		cerr := &models.CheckComputationError{Check: c.Name(), Err: err}
		r.logger.Warn("check computation failed", slog.String("device_id", in.Reading.DeviceID), slog.Any("error", cerr))
		return models.FailedResult(cerr.Error())
	}
	res.Score = clamp(res.Score, 0, 1)
	return res
}

func clamp(value, min, max float64) float64 {
	if math.IsNaN(value) {
		return min
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func lerp(from, to, t float64) float64 {
	t = clamp(t, 0, 1)
	return from + (to-from)*t
}

func round(value float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(value*p) / p
}

func roundScore(value float64) float64 {
	return round(clamp(value, 0, 1), 4)
}

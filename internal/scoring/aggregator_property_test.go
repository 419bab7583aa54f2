package scoring

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/hydrotrust/hydro-verifier/internal/checks"
	"github.com/hydrotrust/hydro-verifier/internal/models"
)

func setOf(physics, temporal, environmental, statistical, consistency float64) models.CheckSet {
	return models.CheckSet{
		Physics:       models.CheckResult{Score: physics},
		Temporal:      models.CheckResult{Score: temporal},
		Environmental: models.CheckResult{Score: environmental},
		Statistical:   models.CheckResult{Score: statistical},
		Consistency:   models.CheckResult{Score: consistency},
	}
}

func TestTrustScoreStaysInRange(t *testing.T) {
	agg, err := NewAggregator(DefaultWeights())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	unit := gen.Float64Range(0, 1)
	properties.Property("trust score is within [0,1]", prop.ForAll(
		func(p, te, e, s, c float64) bool {
			score := agg.Score(setOf(p, te, e, s, c))
			return score >= 0 && score <= 1
		},
		unit, unit, unit, unit, unit,
	))

	properties.TestingRun(t)
}

func TestTrustScoreMonotonicInPhysicsDeviation(t *testing.T) {
	agg, _ := NewAggregator(DefaultWeights())
	physics := checks.NewPhysicsValidator(checks.DefaultPhysicsBands())
	theoretical := checks.TheoreticalPowerKW(2.5, 45, 0.85)

	scoreAt := func(deviation float64, rest float64) float64 {
		eff := 0.85
		r := models.TelemetryReading{FlowRateM3S: 2.5, HeadHeightM: 45, GeneratedKWh: theoretical * (1 + deviation), Efficiency: &eff}
		res, err := physics.Evaluate(checks.Input{Reading: r})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return agg.Score(setOf(res.Score, rest, rest, rest, rest))
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("larger physics deviation never raises the trust score", prop.ForAll(
		func(a, b, rest float64) bool {
			lo, hi := a, b
			if lo > hi {
				lo, hi = hi, lo
			}
			return scoreAt(hi, rest) <= scoreAt(lo, rest)
		},
		gen.Float64Range(0, 2),
		gen.Float64Range(0, 2),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

func TestDecisionMatchesThresholds(t *testing.T) {
	th := DefaultThresholds()
	engine, err := NewDecisionEngine(th)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("decision bands are consistent", prop.ForAll(
		func(score float64) bool {
			d := engine.Decide(score)
			switch {
			case score >= th.AutoApprove:
				return d == models.DecisionApproved
			case score >= th.ManualReview:
				return d == models.DecisionFlagged
			default:
				return d == models.DecisionRejected
			}
		},
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}

package ml

import (
	"math/rand"
	"time"

	"github.com/hydrotrust/hydro-verifier/internal/checks"
	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// SyntheticReadings generates n plausible readings from healthy plants. Generation tracks the
// theoretical output of a randomly drawn efficiency with a few percent of meter noise.
func SyntheticReadings(n int, rng *rand.Rand) []models.TelemetryReading {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.TelemetryReading, 0, n)
	for i := 0; i < n; i++ {
		flow := uniform(rng, 0.5, 10)
		head := uniform(rng, 10, 100)
		eff := uniform(rng, 0.75, 0.92)
		gen := checks.TheoreticalPowerKW(flow, head, eff) * (1 + rng.NormFloat64()*0.02)
		out = append(out, models.TelemetryReading{
			DeviceID:     "synthetic",
			Timestamp:    start.Add(time.Duration(i) * time.Hour),
			FlowRateM3S:  flow,
			HeadHeightM:  head,
			GeneratedKWh: gen,
			PH:           7.2 + rng.NormFloat64()*0.3,
			TurbidityNTU: uniform(rng, 1, 30),
			TemperatureC: uniform(rng, 4, 22),
			Efficiency:   &eff,
		})
	}
	return out
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

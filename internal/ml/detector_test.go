package ml

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

func normalReading() models.TelemetryReading {
	eff := 0.85
	return models.TelemetryReading{
		DeviceID:     "turbine-001",
		Timestamp:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		FlowRateM3S:  2.5,
		HeadHeightM:  45,
		GeneratedKWh: 938,
		PH:           7.2,
		TurbidityNTU: 8,
		TemperatureC: 14,
		Efficiency:   &eff,
	}
}

func TestFeatureExtractionIsNormalized(t *testing.T) {
	r := normalReading()
	r.GeneratedKWh = 1e9
	r.TemperatureC = -5

	features := DefaultScales().Extract(r)
	require.Len(t, features, FeatureCount)
	for i, f := range features {
		assert.GreaterOrEqual(t, f, 0.0, FeatureNames[i])
		assert.LessOrEqual(t, f, 1.0, FeatureNames[i])
	}
	assert.Equal(t, 1.0, features[FeatureGeneration])
	assert.Equal(t, 0.0, features[FeatureTemperature])
}

func TestEfficiencyRatioCentersOnHonestReading(t *testing.T) {
	features := DefaultScales().Extract(normalReading())
	assert.InDelta(t, 0.5, features[FeatureEfficiencyRatio], 0.01)
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.2448, averagePathLength(256), 0.001)
}

func TestFitRejectsBadInput(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	_, err := Fit(nil, DefaultForestConfig(), rng)
	assert.ErrorIs(t, err, ErrEmptyTrainingSet)

	_, err = Fit([][]float64{{1, 2}, {1}}, DefaultForestConfig(), rng)
	assert.Error(t, err)
}

func TestDetectorFlagsInflatedGeneration(t *testing.T) {
	d, err := NewDetector(DefaultConfig(), nil)
	require.NoError(t, err)

	normal, err := d.Assess(normalReading())
	require.NoError(t, err)
	assert.True(t, normal.Evaluated)
	assert.False(t, normal.IsAnomaly, "score %.3f threshold %.3f", normal.Score, normal.Threshold)

	fraud := normalReading()
	fraud.GeneratedKWh = 938 * 30
	got, err := d.Assess(fraud)
	require.NoError(t, err)
	assert.Greater(t, got.Score, 0.5)
	assert.True(t, got.IsAnomaly)
	assert.Greater(t, got.Score, normal.Score)
}

func TestDetectorIsDeterministicForSeed(t *testing.T) {
	a, err := NewDetector(DefaultConfig(), nil)
	require.NoError(t, err)
	b, err := NewDetector(DefaultConfig(), nil)
	require.NoError(t, err)

	ra, _ := a.Assess(normalReading())
	rb, _ := b.Assess(normalReading())
	assert.Equal(t, ra.Score, rb.Score)
	assert.Equal(t, a.Model().Threshold, b.Model().Threshold)
}

func TestRetrainRequiresMinimumSamples(t *testing.T) {
	d, err := NewDetector(DefaultConfig(), nil)
	require.NoError(t, err)

	err = d.Retrain(SyntheticReadings(10, rand.New(rand.NewSource(7))))
	assert.True(t, errors.Is(err, ErrInsufficientSamples))
	assert.Equal(t, "synthetic", d.Model().Source)

	require.NoError(t, d.Retrain(SyntheticReadings(MinRetrainSamples, rand.New(rand.NewSource(7)))))
	assert.Equal(t, "retrained", d.Model().Source)
	assert.Equal(t, MinRetrainSamples, d.Model().Samples)
}

func TestAssessDuringRetrain(t *testing.T) {
	d, err := NewDetector(DefaultConfig(), nil)
	require.NoError(t, err)
	corpus := SyntheticReadings(200, rand.New(rand.NewSource(3)))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 3; i++ {
			assert.NoError(t, d.Retrain(corpus))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			res, err := d.Assess(normalReading())
			assert.NoError(t, err)
			assert.True(t, res.Evaluated)
		}
	}()
	wg.Wait()
}

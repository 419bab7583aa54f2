package patterns

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/hydrotrust/hydro-verifier/internal/ml"
	"github.com/hydrotrust/hydro-verifier/internal/models"
)

type fakePatternStore struct {
	stored int
}

func (f *fakePatternStore) StorePatterns(ctx context.Context, patterns []models.FailurePattern) error {
	f.stored += len(patterns)
	return nil
}

func group(rng *rand.Rand, n, feature int) [][]float64 {
	out := make([][]float64, 0, n)
	for i := 0; i < n; i++ {
		v := make([]float64, ml.FeatureCount)
		for d := range v {
			v[d] = 0.3 + rng.Float64()*0.02
		}
		v[feature] = 0.95 + rng.Float64()*0.02
		out = append(out, v)
	}
	return out
}

func TestMinerNamesSeparatedClusters(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var samples [][]float64
	samples = append(samples, group(rng, 12, ml.FeatureGeneration)...)
	samples = append(samples, group(rng, 10, ml.FeatureTurbidity)...)
	samples = append(samples, group(rng, 10, ml.FeatureTemperature)...)
	samples = append(samples, group(rng, 8, ml.FeatureFlow)...)

	store := &fakePatternStore{}
	miner := NewMiner(nil, DefaultConfig(), store)
	patterns, err := miner.Mine(context.Background(), samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patterns) != 4 {
		t.Fatalf("expected 4 patterns, got %d", len(patterns))
	}
	if patterns[0].Name != "meter_overreporting" || patterns[0].Size != 12 {
		t.Fatalf("expected largest cluster meter_overreporting/12, got %s/%d", patterns[0].Name, patterns[0].Size)
	}
	names := map[string]bool{}
	for _, p := range patterns {
		names[p.Name] = true
	}
	for _, want := range []string{"sediment_event", "thermal_anomaly", "sensor_fault_flow"} {
		if !names[want] {
			t.Fatalf("expected pattern %s in %v", want, names)
		}
	}
	if store.stored != 4 {
		t.Fatalf("expected patterns to be stored, got %d", store.stored)
	}

	murky := group(rng, 1, ml.FeatureTurbidity)[0]
	if name, ok := miner.Assign(murky); !ok || name != "sediment_event" {
		t.Fatalf("expected sediment_event, got %q (%v)", name, ok)
	}
}

func TestMinerTooFewSamples(t *testing.T) {
	miner := NewMiner(nil, DefaultConfig(), nil)
	_, err := miner.Mine(context.Background(), [][]float64{make([]float64, ml.FeatureCount)})
	if !errors.Is(err, ErrTooFewSamples) {
		t.Fatalf("expected ErrTooFewSamples, got %v", err)
	}
	if _, ok := miner.Assign(make([]float64, ml.FeatureCount)); ok {
		t.Fatalf("expected no assignment before mining")
	}
}

func TestMinerDuplicateNamesGetSuffix(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	high := group(rng, 6, ml.FeatureGeneration)
	mid := group(rng, 6, ml.FeatureGeneration)
	for _, v := range mid {
		v[ml.FeatureGeneration] -= 0.1
	}
	murky := group(rng, 6, ml.FeatureTurbidity)
	for _, v := range murky {
		v[ml.FeatureTurbidity] = 0.6
	}
	samples := append(append(high, mid...), murky...)

	miner := NewMiner(nil, Config{K: 3}, StoreFunc(func(context.Context, []models.FailurePattern) error { return nil }))
	patterns, err := miner.Mine(context.Background(), samples)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := map[string]bool{}
	for _, p := range patterns {
		names[p.Name] = true
	}
	for _, want := range []string{"meter_overreporting", "meter_overreporting_2", "meter_underreporting"} {
		if !names[want] {
			t.Fatalf("expected pattern %s in %v", want, names)
		}
	}
}

func TestInitCentroidsCoversSeparatedGroups(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	features := []int{ml.FeatureGeneration, ml.FeatureTurbidity, ml.FeatureTemperature}
	var samples [][]float64
	for _, f := range features {
		samples = append(samples, group(rng, 10, f)...)
	}

	firsts := map[int]bool{}
	for seed := int64(1); seed <= 20; seed++ {
		centroids := initCentroids(samples, len(features), rand.New(rand.NewSource(seed)))
		if len(centroids) != len(features) {
			t.Fatalf("seed %d: expected %d centroids, got %d", seed, len(features), len(centroids))
		}
		covered := map[int]bool{}
		for _, c := range centroids {
			covered[nearest(c, samples)/10] = true
		}
		if len(covered) != len(features) {
			t.Fatalf("seed %d: centroids %v cover groups %v", seed, centroids, covered)
		}
		firsts[nearest(centroids[0], samples)] = true
	}
	if len(firsts) < 2 {
		t.Fatalf("expected the first centroid to vary with the seed, got %v", firsts)
	}
}

func TestInitCentroidsIdenticalSamples(t *testing.T) {
	samples := make([][]float64, 4)
	for i := range samples {
		samples[i] = make([]float64, ml.FeatureCount)
	}
	centroids := initCentroids(samples, 3, rand.New(rand.NewSource(1)))
	if len(centroids) != 3 {
		t.Fatalf("expected 3 centroids, got %d", len(centroids))
	}
}

func TestMinerRestore(t *testing.T) {
	m := NewMiner(nil, Config{K: 2}, nil)
	if _, ok := m.Assign(make([]float64, ml.FeatureCount)); ok {
		t.Fatalf("expected no assignment before restore")
	}

	low := make([]float64, ml.FeatureCount)
	high := make([]float64, ml.FeatureCount)
	for i := range high {
		high[i] = 1
	}
	restored := m.Restore([]models.FailurePattern{
		{Name: "quiet", Centroid: low},
		{Name: "loud", Centroid: high},
		{Name: "broken", Centroid: []float64{1}},
	})
	if restored != 2 {
		t.Fatalf("expected 2 restored patterns, got %d", restored)
	}
	name, ok := m.Assign(high)
	if !ok || name != "loud" {
		t.Fatalf("expected loud, got %q (%v)", name, ok)
	}
	if len(m.Patterns()) != 2 {
		t.Fatalf("expected 2 patterns, got %d", len(m.Patterns()))
	}
}

package patterns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hydrotrust/hydro-verifier/internal/ml"
	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, patterns []models.FailurePattern) error
}

// ErrTooFewSamples is returned when there are fewer samples than clusters.
var ErrTooFewSamples = errors.New("too few samples to cluster")

// Config controls k-means.
type Config struct {
	K             int     `yaml:"k"`
	MaxIterations int     `yaml:"maxIterations"`
	Tolerance     float64 `yaml:"tolerance"`
	Seed          int64   `yaml:"seed"`
}

// DefaultConfig returns four clusters, 100 iterations and a 1e-4 centroid tolerance.
func DefaultConfig() Config {
	return Config{K: 4, MaxIterations: 100, Tolerance: 1e-4, Seed: 7}
}

// Pattern names by feature, indexed [feature][0 = below the corpus mean, 1 = above].
var patternNames = [ml.FeatureCount][2]string{
	ml.FeatureFlow:            {"sensor_fault_flow_low", "sensor_fault_flow"},
	ml.FeatureHead:            {"sensor_fault_head_low", "sensor_fault_head"},
	ml.FeatureGeneration:      {"meter_underreporting", "meter_overreporting"},
	ml.FeaturePH:              {"water_quality_acidic", "water_quality_alkaline"},
	ml.FeatureTurbidity:       {"clear_water_drift", "sediment_event"},
	ml.FeatureTemperature:     {"cold_sensor_drift", "thermal_anomaly"},
	ml.FeaturePowerDensity:    {"turbine_degradation", "fraud_power_density"},
	ml.FeatureEfficiencyRatio: {"efficiency_loss", "fraud_high_efficiency"},
}

// Miner clusters the feature vectors of flagged or anomalous readings into named failure
// patterns. It holds the most recent result for Assign.
type Miner struct {
	cfg     Config
	store   Store
	logger  *slog.Logger
	current atomic.Pointer[[]models.FailurePattern]
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, cfg Config, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.K <= 0 {
		cfg.K = def.K
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = def.Tolerance
	}
	return &Miner{cfg: cfg, store: store, logger: logger}
}

// Mine runs k-means over samples and returns the patterns ordered by prevalence.
func (m *Miner) Mine(ctx context.Context, samples [][]float64) ([]models.FailurePattern, error) {
	if len(samples) < m.cfg.K {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewSamples, len(samples), m.cfg.K)
	}
	for i, s := range samples {
		if len(s) != ml.FeatureCount {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", i, len(s), ml.FeatureCount)
		}
	}

	rng := rand.New(rand.NewSource(m.cfg.Seed))
	centroids := initCentroids(samples, m.cfg.K, rng)
	assignment := make([]int, len(samples))
	iterations := 0
	for iterations < m.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterations++
		for i, s := range samples {
			assignment[i] = nearest(s, centroids)
		}
		next := recompute(samples, assignment, centroids)
		shift := 0.0
		for c := range centroids {
			shift = math.Max(shift, math.Sqrt(sqDist(centroids[c], next[c])))
		}
		centroids = next
		if shift < m.cfg.Tolerance {
			break
		}
	}

	mean := columnMean(samples)
	sizes := make([]int, len(centroids))
	for _, a := range assignment {
		sizes[a]++
	}

	now := time.Now().UTC()
	seen := make(map[string]int)
	patterns := make([]models.FailurePattern, 0, len(centroids))
	for c, centroid := range centroids {
		if sizes[c] == 0 {
			continue
		}
		feature, above := dominant(centroid, mean)
		dir := 0
		if above {
			dir = 1
		}
		name := patternNames[feature][dir]
		seen[name]++
		if seen[name] > 1 {
			name = fmt.Sprintf("%s_%d", name, seen[name])
		}
		patterns = append(patterns, models.FailurePattern{
			ID:              "pattern-" + name,
			Name:            name,
			Description:     fmt.Sprintf("cluster dominated by %s", ml.FeatureNames[feature]),
			DominantFeature: ml.FeatureNames[feature],
			Centroid:        roundVector(centroid),
			Size:            sizes[c],
			Prevalence:      float64(sizes[c]) / float64(len(samples)),
			MinedAt:         now,
		})
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].Prevalence > patterns[j].Prevalence
	})
	m.current.Store(&patterns)
	m.logger.Info("failure patterns mined", "samples", len(samples), "clusters", len(patterns), "iterations", iterations)

	if m.store != nil && len(patterns) > 0 {
		if err := m.store.StorePatterns(ctx, patterns); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}

	return patterns, nil
}

// Assign returns the name of the pattern whose centroid is nearest to features, or false
// before the first Mine.
func (m *Miner) Assign(features []float64) (string, bool) {
	ptr := m.current.Load()
	if ptr == nil || len(*ptr) == 0 || len(features) != ml.FeatureCount {
		return "", false
	}
	patterns := *ptr
	best, bestDist := 0, math.Inf(1)
	for i, p := range patterns {
		if d := sqDist(features, p.Centroid); d < bestDist {
			best, bestDist = i, d
		}
	}
	return patterns[best].Name, true
}

// Patterns returns the most recent mining result.
func (m *Miner) Patterns() []models.FailurePattern {
	ptr := m.current.Load()
	if ptr == nil {
		return nil
	}
	return append([]models.FailurePattern(nil), (*ptr)...)
}

// Restore installs previously mined patterns so Assign works before the next Mine.
// Patterns with a centroid of the wrong dimensionality are skipped.
func (m *Miner) Restore(patterns []models.FailurePattern) int {
	kept := make([]models.FailurePattern, 0, len(patterns))
	for _, p := range patterns {
		if len(p.Centroid) == ml.FeatureCount {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return 0
	}
	m.current.Store(&kept)
	return len(kept)
}

// initCentroids seeds k-means++: the first centroid is a random sample and each further one is
// drawn with probability proportional to its squared distance from the nearest centroid so far.
// Of a few draws per centroid the one that lowers the total distance most is kept.
func initCentroids(samples [][]float64, k int, rng *rand.Rand) [][]float64 {
	trials := 2 + int(math.Log(float64(k)))
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), samples[rng.Intn(len(samples))]...))

	dist := make([]float64, len(samples))
	potential := 0.0
	for i, s := range samples {
		dist[i] = sqDist(s, centroids[0])
		potential += dist[i]
	}
	for len(centroids) < k {
		if potential == 0 {
			// Fewer distinct points than k.
			centroids = append(centroids, append([]float64(nil), centroids[0]...))
			continue
		}
		best, bestPotential := -1, math.Inf(1)
		var bestDist []float64
		for t := 0; t < trials; t++ {
			candidate := weightedIndex(dist, potential, rng)
			next := make([]float64, len(samples))
			sum := 0.0
			for i, s := range samples {
				next[i] = math.Min(dist[i], sqDist(s, samples[candidate]))
				sum += next[i]
			}
			if sum < bestPotential {
				best, bestPotential, bestDist = candidate, sum, next
			}
		}
		centroids = append(centroids, append([]float64(nil), samples[best]...))
		dist, potential = bestDist, bestPotential
	}
	return centroids
}

// weightedIndex draws an index with probability weights[i]/total.
func weightedIndex(weights []float64, total float64, rng *rand.Rand) int {
	r := rng.Float64() * total
	last := 0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if r < w {
			return i
		}
		r -= w
		last = i
	}
	return last
}

func nearest(s []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := sqDist(s, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func recompute(samples [][]float64, assignment []int, prev [][]float64) [][]float64 {
	dims := len(samples[0])
	sums := make([][]float64, len(prev))
	counts := make([]int, len(prev))
	for c := range sums {
		sums[c] = make([]float64, dims)
	}
	for i, s := range samples {
		c := assignment[i]
		counts[c]++
		for d, v := range s {
			sums[c][d] += v
		}
	}
	for c := range sums {
		if counts[c] == 0 {
			// Empty cluster keeps its previous centroid.
			copy(sums[c], prev[c])
			continue
		}
		for d := range sums[c] {
			sums[c][d] /= float64(counts[c])
		}
	}
	return sums
}

func columnMean(samples [][]float64) []float64 {
	mean := make([]float64, len(samples[0]))
	for _, s := range samples {
		for d, v := range s {
			mean[d] += v
		}
	}
	for d := range mean {
		mean[d] /= float64(len(samples))
	}
	return mean
}

// dominant returns the feature whose centroid value departs furthest from the corpus mean.
func dominant(centroid, mean []float64) (int, bool) {
	best, bestDelta := 0, -1.0
	for d := range centroid {
		if delta := math.Abs(centroid[d] - mean[d]); delta > bestDelta {
			best, bestDelta = d, delta
		}
	}
	return best, centroid[best] >= mean[best]
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

func roundVector(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = math.Round(x*10000) / 10000
	}
	return out
}

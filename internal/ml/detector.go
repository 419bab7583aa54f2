package ml

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hydrotrust/hydro-verifier/internal/models"
)

// MinRetrainSamples is the smallest corpus Retrain accepts.
const MinRetrainSamples = 50

var (
	// ErrNotTrained is returned by Assess before the first successful training.
	ErrNotTrained = errors.New("anomaly model not trained")
	// ErrInsufficientSamples is returned by Retrain with fewer than MinRetrainSamples readings.
	ErrInsufficientSamples = errors.New("insufficient samples for retraining")
)

// Config controls the detector.
type Config struct {
	Forest ForestConfig `yaml:"forest"`
	// Contamination is the expected anomaly share of the training corpus.
	Contamination    float64 `yaml:"contamination"`
	Seed             int64   `yaml:"seed"`
	SyntheticSamples int     `yaml:"syntheticSamples"`
	Scales           Scales  `yaml:"scales"`
}

// DefaultConfig returns a 100-tree forest trained on 1000 synthetic readings with 10% contamination.
func DefaultConfig() Config {
	return Config{
		Forest:           DefaultForestConfig(),
		Contamination:    0.10,
		Seed:             42,
		SyntheticSamples: 1000,
		Scales:           DefaultScales(),
	}
}

// Model is one immutable trained generation of the detector.
type Model struct {
	forest    *Forest
	Threshold float64
	Samples   int
	Source    string
	TrainedAt time.Time
}

// Detector scores readings against the current model. Assess is lock-free; Retrain builds a
// new model off to the side and swaps it in atomically.
type Detector struct {
	cfg     Config
	logger  *slog.Logger
	current atomic.Pointer[Model]
	trainMu sync.Mutex
	rng     *rand.Rand
}

// NewDetector creates a detector and trains its initial model on the synthetic corpus.
func NewDetector(cfg Config, logger *slog.Logger) (*Detector, error) {
	def := DefaultConfig()
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = def.Contamination
	}
	if cfg.SyntheticSamples < MinRetrainSamples {
		cfg.SyntheticSamples = def.SyntheticSamples
	}
	if cfg.Scales == (Scales{}) {
		cfg.Scales = def.Scales
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Detector{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	corpus := SyntheticReadings(cfg.SyntheticSamples, d.rng)
	if err := d.train(corpus, "synthetic"); err != nil {
		return nil, err
	}
	return d, nil
}

// Assess scores one reading. The result is advisory.
func (d *Detector) Assess(r models.TelemetryReading) (models.AnomalyAssessment, error) {
	m := d.current.Load()
	if m == nil {
		return models.AnomalyAssessment{}, ErrNotTrained
	}
	features := d.cfg.Scales.Extract(r)
	score, err := m.forest.Score(features)
	if err != nil {
		return models.AnomalyAssessment{}, err
	}
	return models.AnomalyAssessment{
		Evaluated: true,
		Score:     math.Round(score*10000) / 10000,
		IsAnomaly: score > m.Threshold,
		Threshold: math.Round(m.Threshold*10000) / 10000,
		Features:  features,
	}, nil
}

// Features exposes the normalized feature vector of a reading.
func (d *Detector) Features(r models.TelemetryReading) []float64 {
	return d.cfg.Scales.Extract(r)
}

// Retrain fits a new model on real readings and swaps it in. In-flight Assess calls keep
// using the model they loaded.
func (d *Detector) Retrain(readings []models.TelemetryReading) error {
	if len(readings) < MinRetrainSamples {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientSamples, len(readings), MinRetrainSamples)
	}
	return d.train(readings, "retrained")
}

// Model returns the current model, or nil before training.
func (d *Detector) Model() *Model {
	return d.current.Load()
}

func (d *Detector) train(readings []models.TelemetryReading, source string) error {
	d.trainMu.Lock()
	defer d.trainMu.Unlock()

	data := make([][]float64, 0, len(readings))
	for _, r := range readings {
		data = append(data, d.cfg.Scales.Extract(r))
	}
	forest, err := Fit(data, d.cfg.Forest, d.rng)
	if err != nil {
		return fmt.Errorf("fit isolation forest: %w", err)
	}

	scores := make([]float64, 0, len(data))
	for _, row := range data {
		s, err := forest.Score(row)
		if err != nil {
			return err
		}
		scores = append(scores, s)
	}
	threshold := math.Max(quantile(scores, 1-d.cfg.Contamination), 0.5)

	d.current.Store(&Model{
		forest:    forest,
		Threshold: threshold,
		Samples:   len(data),
		Source:    source,
		TrainedAt: time.Now().UTC(),
	})
	d.logger.Info("anomaly model trained", "source", source, "samples", len(data), "trees", forest.Trees(), "threshold", threshold)
	return nil
}

func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

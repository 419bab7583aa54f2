package checks

import "log/slog"

// Config gathers the tunables of all rule-based checks.
type Config struct {
	Physics       PhysicsBands       `yaml:"physics"`
	Temporal      TemporalThresholds `yaml:"temporal"`
	Environmental EnvironmentalBands `yaml:"environmental"`
	Statistical   StatisticalConfig  `yaml:"statistical"`
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		Physics:       DefaultPhysicsBands(),
		Temporal:      DefaultTemporalThresholds(),
		Environmental: DefaultEnvironmentalBands(),
		Statistical:   DefaultStatisticalConfig(),
	}
}

// NewDefaultRunner wires the five rule-based checks from cfg.
func NewDefaultRunner(logger *slog.Logger, cfg Config) *Runner {
	return NewRunner(logger,
		NewPhysicsValidator(cfg.Physics),
		NewTemporalConsistencyChecker(cfg.Temporal),
		NewEnvironmentalBoundsChecker(cfg.Environmental),
		NewStatisticalAnomalyDetector(cfg.Statistical),
		NewDeviceConsistencyChecker(),
	)
}

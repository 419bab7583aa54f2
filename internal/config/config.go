package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hydrotrust/hydro-verifier/internal/cache"
	"github.com/hydrotrust/hydro-verifier/internal/checks"
	"github.com/hydrotrust/hydro-verifier/internal/ledger"
	"github.com/hydrotrust/hydro-verifier/internal/ml"
	"github.com/hydrotrust/hydro-verifier/internal/patterns"
	"github.com/hydrotrust/hydro-verifier/internal/scoring"
	"github.com/hydrotrust/hydro-verifier/internal/utils"
)

// Sampling strategies for the ML detector.
const (
	SamplingAll     = "all"
	SamplingFlagged = "flagged"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config captures every setting required to boot the verifier.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Verification VerificationConfig `yaml:"verification"`
	ML           MLConfig           `yaml:"ml"`
	Clustering   patterns.Config    `yaml:"clustering"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Store        StoreConfig        `yaml:"store"`
	Cache        CacheConfig        `yaml:"cache"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Profiles     ProfilesConfig     `yaml:"profiles"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// VerificationConfig holds the calibration of the trust score.
type VerificationConfig struct {
	Thresholds scoring.Thresholds `yaml:"thresholds"`
	Weights    scoring.Weights    `yaml:"weights"`
	Checks     checks.Config      `yaml:"checks"`
	// MaxReadingAge rejects readings older than now minus this window.
	MaxReadingAge time.Duration `yaml:"maxReadingAge"`
	// MaxClockSkew rejects readings dated further than this into the future.
	MaxClockSkew     time.Duration `yaml:"maxClockSkew"`
	SamplingStrategy string        `yaml:"samplingStrategy"`
}

// MLConfig controls the isolation forest.
type MLConfig struct {
	Enabled  bool      `yaml:"enabled"`
	Detector ml.Config `yaml:",inline"`
}

// LedgerConfig controls commits to the append-only ledger. An empty Endpoint selects the
// in-memory hash-chained ledger.
type LedgerConfig struct {
	Enabled     bool                   `yaml:"enabled"`
	Endpoint    string                 `yaml:"endpoint"`
	HTTPTimeout time.Duration          `yaml:"httpTimeout"`
	Retry       ledger.SubmitterConfig `yaml:"retry"`
	Committer   ledger.CommitterConfig `yaml:"committer"`
}

// StoreConfig selects the attestation store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// CacheConfig controls the replay-guard cache. When disabled an in-process cache is used.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// KeyPrefix namespaces replay keys in a shared Redis database.
	KeyPrefix string            `yaml:"keyPrefix"`
	Redis     cache.RedisConfig `yaml:",inline"`
}

// MQTTConfig controls telemetry ingest from a broker.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientId"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// ProfilesConfig points at the device profile registry.
type ProfilesConfig struct {
	Path string `yaml:"path"`
}

// Load initialises Config from a YAML file and optional environment overrides, then validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("HYDRO_VERIFIER_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := checkWeightsComplete(data); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Verification: VerificationConfig{
			Thresholds:       scoring.DefaultThresholds(),
			Weights:          scoring.DefaultWeights(),
			Checks:           checks.DefaultConfig(),
			MaxReadingAge:    24 * time.Hour,
			MaxClockSkew:     5 * time.Minute,
			SamplingStrategy: SamplingAll,
		},
		ML: MLConfig{
			Enabled:  true,
			Detector: ml.DefaultConfig(),
		},
		Clustering: patterns.DefaultConfig(),
		Ledger: LedgerConfig{
			Enabled:     true,
			HTTPTimeout: 5 * time.Second,
			Retry:       ledger.DefaultSubmitterConfig(),
			Committer:   ledger.DefaultCommitterConfig(),
		},
		Store: StoreConfig{Driver: StoreMemory},
		Cache: CacheConfig{
			KeyPrefix: "hydro-verifier:",
			Redis: cache.RedisConfig{
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
				MaxRetries:   2,
			},
		},
		MQTT: MQTTConfig{
			Topic:    "hydro/+/telemetry",
			ClientID: "hydro-verifier",
			QoS:      1,
		},
	}
}

var weightKeys = []string{"physics", "temporal", "environmental", "statistical", "consistency"}

// checkWeightsComplete rejects a weights block that names only some of the checks; merging it
// over the defaults would silently change calibration.
func checkWeightsComplete(data []byte) error {
	var raw struct {
		Verification struct {
			Weights map[string]float64 `yaml:"weights"`
		} `yaml:"verification"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	w := raw.Verification.Weights
	if w == nil {
		return nil
	}
	var missing []string
	for _, k := range weightKeys {
		if _, ok := w[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("verification.weights is missing %s", strings.Join(missing, ", "))
	}
	if len(w) != len(weightKeys) {
		return fmt.Errorf("verification.weights has unknown keys; expected %s", strings.Join(weightKeys, ", "))
	}
	return nil
}

// Validate fails fast on settings that would change calibration or cannot run.
func (c *Config) Validate() error {
	if _, ok := utils.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	v := c.Verification
	if err := v.Thresholds.Validate(); err != nil {
		return err
	}
	if err := v.Weights.Validate(); err != nil {
		return err
	}
	if err := v.Checks.Environmental.Validate(); err != nil {
		return err
	}
	if v.MaxReadingAge <= 0 || v.MaxClockSkew < 0 {
		return errors.New("verification.maxReadingAge must be positive and maxClockSkew non-negative")
	}
	switch v.SamplingStrategy {
	case SamplingAll, SamplingFlagged:
	default:
		return fmt.Errorf("verification.samplingStrategy %q must be %q or %q", v.SamplingStrategy, SamplingAll, SamplingFlagged)
	}
	if c.ML.Enabled {
		if cont := c.ML.Detector.Contamination; cont <= 0 || cont >= 0.5 {
			return fmt.Errorf("ml.contamination %v must be within (0,0.5)", cont)
		}
		if c.ML.Detector.Forest.Trees <= 0 {
			return errors.New("ml.forest.trees must be positive")
		}
	}
	if c.Clustering.K <= 0 {
		return errors.New("clustering.k must be positive")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres, StoreSQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unsupported store.driver %q", c.Store.Driver)
	}
	if c.Cache.Enabled && c.Cache.Redis.Addr == "" {
		return errors.New("cache.addr is required when the cache is enabled")
	}
	if c.MQTT.Enabled && (c.MQTT.Broker == "" || c.MQTT.Topic == "") {
		return errors.New("mqtt.broker and mqtt.topic are required when mqtt is enabled")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HYDRO_VERIFIER_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("HYDRO_VERIFIER_SAMPLING_STRATEGY"); v != "" {
		cfg.Verification.SamplingStrategy = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_AUTO_APPROVE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Verification.Thresholds.AutoApprove = f
		}
	}
	if v := os.Getenv("HYDRO_VERIFIER_MANUAL_REVIEW_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Verification.Thresholds.ManualReview = f
		}
	}
	if v := os.Getenv("HYDRO_VERIFIER_ML_ENABLED"); v != "" {
		cfg.ML.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("HYDRO_VERIFIER_ML_CONTAMINATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ML.Detector.Contamination = f
		}
	}
	if v := os.Getenv("HYDRO_VERIFIER_ML_TREE_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ML.Detector.Forest.Trees = n
		}
	}
	if v := os.Getenv("HYDRO_VERIFIER_LEDGER_ENDPOINT"); v != "" {
		cfg.Ledger.Endpoint = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_LEDGER_ENABLED"); v != "" {
		cfg.Ledger.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("HYDRO_VERIFIER_LEDGER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ledger.Retry.Timeout = d
		}
	}
	if v := os.Getenv("HYDRO_VERIFIER_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_CACHE_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("HYDRO_VERIFIER_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Redis.DB = db
		}
	}
	if v := os.Getenv("HYDRO_VERIFIER_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("HYDRO_VERIFIER_MQTT_TOPIC"); v != "" {
		cfg.MQTT.Topic = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("HYDRO_VERIFIER_PROFILES_PATH"); v != "" {
		cfg.Profiles.Path = v
	}
}

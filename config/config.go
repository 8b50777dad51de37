package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Trustd TrustdConfig `yaml:"trustd"`
}

// TrustdConfig is the project configuration.
type TrustdConfig struct {
	Collector CollectorConfig `yaml:"collector"`
	Model     ModelConfig     `yaml:"model"`
	Trust     TrustConfig     `yaml:"trust"`
	Rules     RulesConfig     `yaml:"rules"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CollectorConfig controls the telemetry monitors.
type CollectorConfig struct {
	ProcessInterval time.Duration `yaml:"process_interval"`
	NetworkInterval time.Duration `yaml:"network_interval"`
	AuthLogInterval time.Duration `yaml:"auth_log_interval"`
	AuthLogPath     string        `yaml:"auth_log_path"`
	WatchRoots      []string      `yaml:"watch_roots"`
	QueueSize       int           `yaml:"queue_size"`
}

// ModelConfig controls the anomaly model.
type ModelConfig struct {
	Path                 string  `yaml:"path"`
	MinTrainingEvents    int     `yaml:"min_training_events"`
	Trees                int     `yaml:"trees"`
	SampleSize           int     `yaml:"sample_size"`
	DefaultContamination float64 `yaml:"default_contamination"`
	MinContamination     float64 `yaml:"min_contamination"`
	MaxContamination     float64 `yaml:"max_contamination"`
	DecisionMargin       float64 `yaml:"decision_margin"`
	MinConfidence        float64 `yaml:"min_confidence"`
	MaxConfidence        float64 `yaml:"max_confidence"`
}

// TrustConfig controls the trust score engine.
type TrustConfig struct {
	InitialScore   float64 `yaml:"initial_score"`
	AlertThreshold float64 `yaml:"alert_threshold"`
}

// RulesConfig controls Sigma-based suspicious-event tagging.
type RulesConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StoreConfig controls event/session persistence.
type StoreConfig struct {
	Mode  string           `yaml:"mode"` // file|redis
	File  FileStoreConfig  `yaml:"file"`
	Redis RedisStoreConfig `yaml:"redis"`
}

// FileStoreConfig config for JSONL persistence.
type FileStoreConfig struct {
	Dir string `yaml:"dir"`
}

// RedisStoreConfig config for Redis persistence.
type RedisStoreConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// APIConfig controls the control HTTP server.
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// BroadcastConfig controls websocket fan-out.
type BroadcastConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

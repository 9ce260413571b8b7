// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	DB       DBConfig                `mapstructure:"db"`
	Fetch    FetchConfig             `mapstructure:"fetch"`
	Headless HeadlessConfig          `mapstructure:"headless"`
	Storage  StorageConfig           `mapstructure:"storage"`
	PubSub   PubSubConfig            `mapstructure:"pubsub"`
	Pipeline PipelineConfig          `mapstructure:"pipeline"`
	Logging  LoggingConfig           `mapstructure:"logging"`
	Sources  map[string]SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls the operations HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// FetchConfig configures the probe fetcher.
type FetchConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the headless escalation subsystem.
type HeadlessConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	NavTimeout    time.Duration `mapstructure:"nav_timeout"`
}

// StorageConfig sets where raw page snapshots are archived.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"` // memory, local, gcs
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for curated-sample publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// PipelineConfig governs batch processing across all sources.
type PipelineConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	PatternTTL time.Duration `mapstructure:"pattern_ttl"`
	MinSegment int           `mapstructure:"min_segment_chars"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceConfig carries the per-source crawl pacing knobs. Zero fields are
// filled from the named preset, so a minimal entry only needs index_urls.
type SourceConfig struct {
	Preset          string            `mapstructure:"preset"`
	Dataset         string            `mapstructure:"dataset"`
	IndexURLs       []string          `mapstructure:"index_urls"`
	MinInterval     time.Duration     `mapstructure:"min_interval"`
	MaxInterval     time.Duration     `mapstructure:"max_interval"`
	BatchSleep      time.Duration     `mapstructure:"batch_sleep"`
	BackoffBase     time.Duration     `mapstructure:"backoff_base"`
	BackoffMax      time.Duration     `mapstructure:"backoff_max"`
	RecoveryRun     int               `mapstructure:"recovery_run"`
	HeadlessAllowed bool              `mapstructure:"headless_allowed"`
	CallsignDomains map[string]string `mapstructure:"callsign_domains"`
}

// SourceConfigError marks a misconfigured source. Processing for that source
// is aborted; other sources continue unaffected.
type SourceConfigError struct {
	Source string
	Reason string
}

func (e *SourceConfigError) Error() string {
	return fmt.Sprintf("source %q misconfigured: %s", e.Source, e.Reason)
}

// Presets for site defenses of varying sensitivity.
var presets = map[string]SourceConfig{
	"conservative": {
		MinInterval: 20 * time.Second,
		MaxInterval: 60 * time.Second,
		BatchSleep:  5 * time.Minute,
		BackoffBase: 15 * time.Minute,
		BackoffMax:  2 * time.Hour,
		RecoveryRun: 10,
	},
	"moderate": {
		MinInterval: 5 * time.Second,
		MaxInterval: 20 * time.Second,
		BatchSleep:  time.Minute,
		BackoffBase: 5 * time.Minute,
		BackoffMax:  time.Hour,
		RecoveryRun: 5,
	},
	"aggressive": {
		MinInterval: time.Second,
		MaxInterval: 5 * time.Second,
		BatchSleep:  15 * time.Second,
		BackoffBase: time.Minute,
		BackoffMax:  30 * time.Minute,
		RecoveryRun: 3,
	},
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	for name, src := range cfg.Sources {
		cfg.Sources[name] = applyPreset(src)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("fetch.user_agent", "newsingest/1.0 (+https://github.com/localnewslab/newsingest)")
	v.SetDefault("fetch.request_timeout", "15s")
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("pipeline.batch_size", 50)
	v.SetDefault("pipeline.pattern_ttl", "5m")
	v.SetDefault("pipeline.min_segment_chars", 150)
	v.SetDefault("logging.development", true)
}

// applyPreset fills zero fields of src from its named preset. An unknown
// preset name is left for Validate to report.
func applyPreset(src SourceConfig) SourceConfig {
	name := src.Preset
	if name == "" {
		name = "moderate"
		src.Preset = name
	}
	base, ok := presets[name]
	if !ok {
		return src
	}
	if src.MinInterval == 0 {
		src.MinInterval = base.MinInterval
	}
	if src.MaxInterval == 0 {
		src.MaxInterval = base.MaxInterval
	}
	if src.BatchSleep == 0 {
		src.BatchSleep = base.BatchSleep
	}
	if src.BackoffBase == 0 {
		src.BackoffBase = base.BackoffBase
	}
	if src.BackoffMax == 0 {
		src.BackoffMax = base.BackoffMax
	}
	if src.RecoveryRun == 0 {
		src.RecoveryRun = base.RecoveryRun
	}
	return src
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be > 0")
	}
	if c.Fetch.RequestTimeout <= 0 {
		return fmt.Errorf("fetch.request_timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	// Source entries are validated per source at wiring time so that one
	// bad entry skips only itself.
	return nil
}

// ValidateSource checks a single source entry. Failures are reported as
// *SourceConfigError so the caller can skip just that source.
func ValidateSource(name string, src SourceConfig) error {
	if _, ok := presets[src.Preset]; !ok {
		return &SourceConfigError{Source: name, Reason: fmt.Sprintf("unknown preset %q", src.Preset)}
	}
	if len(src.IndexURLs) == 0 {
		return &SourceConfigError{Source: name, Reason: "index_urls is required"}
	}
	if src.MinInterval <= 0 || src.MaxInterval < src.MinInterval {
		return &SourceConfigError{Source: name, Reason: "interval bounds must satisfy 0 < min <= max"}
	}
	if src.BackoffBase <= 0 || src.BackoffMax < src.BackoffBase {
		return &SourceConfigError{Source: name, Reason: "backoff bounds must satisfy 0 < base <= max"}
	}
	return nil
}

// Package config loads and validates mirror configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitemirror/internal/crawler"
	"github.com/JakeFAU/sitemirror/internal/logging"
)

// EnvPrefix is prepended to every environment override, e.g.
// SITEMIRROR_MIRROR_WORKERS=4.
const EnvPrefix = "SITEMIRROR"

// Config captures all knobs loaded via Viper.
type Config struct {
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Logging  logging.Config `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// MirrorConfig governs the fetch and rewrite pipeline.
type MirrorConfig struct {
	Seed               string        `mapstructure:"seed"`
	Output             string        `mapstructure:"output"`
	Workers            int           `mapstructure:"workers"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	UserAgent          string        `mapstructure:"user_agent"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	PageErrorPolicy    string        `mapstructure:"page_error_policy"`
	MaxBodyBytes       int           `mapstructure:"max_body_bytes"`
	Manifest           bool          `mapstructure:"manifest"`
}

// MetricsConfig controls the optional status server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProgressConfig toggles the terminal progress bar.
type ProgressConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Policy returns the typed page error policy.
func (m MirrorConfig) Policy() crawler.PageErrorPolicy {
	return crawler.PageErrorPolicy(strings.ToLower(strings.TrimSpace(m.PageErrorPolicy)))
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mirror.seed", "")
	v.SetDefault("mirror.output", "")
	v.SetDefault("mirror.workers", 1)
	v.SetDefault("mirror.fetch_timeout", "30s")
	v.SetDefault("mirror.user_agent", "sitemirror/1.0")
	v.SetDefault("mirror.insecure_skip_verify", false)
	v.SetDefault("mirror.page_error_policy", string(crawler.PageErrorAbort))
	v.SetDefault("mirror.max_body_bytes", 50*1024*1024)
	v.SetDefault("mirror.manifest", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.rotation.max_size_mb", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age_days", 28)
	v.SetDefault("logging.rotation.compress", true)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("progress.enabled", true)
}

// BindEnv enables SITEMIRROR_* overrides on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load builds a Config from defaults, the environment and an optional file.
func Load(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper unmarshals and validates the settings held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces required values and reasonable limits. Seed and output
// may still be empty here; the CLI prompts for them.
func (c Config) Validate() error {
	var errs []error
	if c.Mirror.Workers <= 0 {
		errs = append(errs, errors.New("mirror.workers must be > 0"))
	}
	if c.Mirror.FetchTimeout <= 0 {
		errs = append(errs, errors.New("mirror.fetch_timeout must be > 0"))
	}
	if c.Mirror.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("mirror.max_body_bytes must be >= 0"))
	}
	switch c.Mirror.Policy() {
	case crawler.PageErrorAbort, crawler.PageErrorSkip:
	default:
		errs = append(errs, fmt.Errorf("mirror.page_error_policy %q must be abort or skip", c.Mirror.PageErrorPolicy))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Package config loads the sync layer's configuration from an optional
// config.yaml plus environment variables. Environment variables override
// YAML values.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the sync layer.
type Config struct {
	// BaseURL is the server root; the client derives api/ and auth/
	// prefixes from it.
	BaseURL string `yaml:"base_url" env:"STUDYSYNC_BASE_URL" env-default:"http://localhost:8000/"`

	// HTTPTimeout bounds each individual request. One-shot operations are
	// not otherwise cancellable once issued.
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"STUDYSYNC_HTTP_TIMEOUT" env-default:"30s"`

	Poll PollConfig `yaml:"poll"`
}

// PollConfig holds the per-kind polling intervals. Datasets parse whole
// files and poll slowly; signal filtering and analysis jobs finish quickly
// and poll tighter.
type PollConfig struct {
	DatasetInterval  time.Duration `yaml:"dataset_interval" env:"STUDYSYNC_POLL_DATASET_INTERVAL" env-default:"5s"`
	SignalInterval   time.Duration `yaml:"signal_interval" env:"STUDYSYNC_POLL_SIGNAL_INTERVAL" env-default:"1s"`
	AnalysisInterval time.Duration `yaml:"analysis_interval" env:"STUDYSYNC_POLL_ANALYSIS_INTERVAL" env-default:"1s"`
}

// Load reads configuration from path (skipped when the file is absent) and
// the environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return &cfg, nil
		}
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute URL", c.BaseURL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive, got %v", c.HTTPTimeout)
	}
	for name, interval := range map[string]time.Duration{
		"dataset_interval":  c.Poll.DatasetInterval,
		"signal_interval":   c.Poll.SignalInterval,
		"analysis_interval": c.Poll.AnalysisInterval,
	} {
		if interval <= 0 {
			return fmt.Errorf("poll %s must be positive, got %v", name, interval)
		}
	}
	return nil
}

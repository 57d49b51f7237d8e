// Package config loads firewarden configuration from YAML with sensible
// defaults when the file is absent.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RecommendationsConfig controls the recommendations register sync.
type RecommendationsConfig struct {
	// Threshold is the rating at or below which a factor triggers an
	// auto-generated recommendation.
	Threshold int `yaml:"threshold"`

	// AutoClose marks still-auto-generated entries complete when their
	// triggering rating recovers above the threshold. Default is off:
	// stale entries stay open for manual review.
	AutoClose bool `yaml:"auto_close"`
}

// ReportConfig controls the executive summary rollups.
type ReportConfig struct {
	// TopContributors is the number of highest-scoring factors listed per
	// risk-engineering module in the executive summary.
	TopContributors int `yaml:"top_contributors"`
}

// Config represents firewarden configuration options.
type Config struct {
	// DBPath is the path to the assessment database.
	DBPath string `yaml:"db_path"`

	// CatalogueDir is an optional directory of module schemas overriding
	// the builtin catalogue. Empty means builtin only.
	CatalogueDir string `yaml:"catalogue_dir"`

	// LogLevel sets logging verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Recommendations contains register sync settings.
	Recommendations RecommendationsConfig `yaml:"recommendations"`

	// Report contains rollup reporting settings.
	Report ReportConfig `yaml:"report"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		DBPath:   ".firewarden/assessments.db",
		LogLevel: "info",
		Recommendations: RecommendationsConfig{
			Threshold: 2,
			AutoClose: false,
		},
		Report: ReportConfig{
			TopContributors: 3,
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// A missing file returns defaults without error; a malformed file is an
// error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configured values fall in their legal ranges.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.Recommendations.Threshold < 1 || c.Recommendations.Threshold > 5 {
		return fmt.Errorf("recommendations.threshold must be between 1 and 5, got %d", c.Recommendations.Threshold)
	}
	if c.Report.TopContributors < 1 {
		return fmt.Errorf("report.top_contributors must be at least 1, got %d", c.Report.TopContributors)
	}
	return nil
}

// Package config loads runtime settings from PROMOFLOW_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime settings for the CLI and the engine.
type Config struct {
	LogLevel       string        `env:"PROMOFLOW_LOG_LEVEL"       envDefault:"info"`
	LogFormat      string        `env:"PROMOFLOW_LOG_FORMAT"      envDefault:"console"`
	TreesDir       string        `env:"PROMOFLOW_TREES_DIR"       envDefault:"~/.promoflow/trees"`
	AuditDB        string        `env:"PROMOFLOW_AUDIT_DB"        envDefault:"~/.promoflow/audit.db"`
	AuditBuffer    int           `env:"PROMOFLOW_AUDIT_BUFFER"    envDefault:"256"`
	Concurrency    int           `env:"PROMOFLOW_CONCURRENCY"     envDefault:"4"`
	DefaultTimeout time.Duration `env:"PROMOFLOW_DEFAULT_TIMEOUT" envDefault:"30s"`
}

// Load parses the environment, expands ~ in paths and checks bounds.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	var err error
	if cfg.TreesDir, err = expandHome(cfg.TreesDir); err != nil {
		return nil, err
	}
	if cfg.AuditDB, err = expandHome(cfg.AuditDB); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks numeric bounds.
func (c *Config) Validate() error {
	if c.AuditBuffer < 1 {
		return fmt.Errorf("PROMOFLOW_AUDIT_BUFFER must be at least 1, got %d", c.AuditBuffer)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("PROMOFLOW_CONCURRENCY must be at least 1, got %d", c.Concurrency)
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("PROMOFLOW_DEFAULT_TIMEOUT must be positive, got %s", c.DefaultTimeout)
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

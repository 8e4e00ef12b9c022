// Package testserver provides a stub external scoring system for development
// and testing. It answers the HTTP JSON and SOAP shapes the adapters speak.
package testserver

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ServerConfig configures the stub's decisions and failure behaviour.
type ServerConfig struct {
	Addr string `env:"PROMOFLOW_TESTSERVER_ADDR"`

	// Decisions
	ScoreThreshold int     `env:"PROMOFLOW_TESTSERVER_SCORE_THRESHOLD"` // creditScore at or above passes /score
	OfferRate      float64 `env:"PROMOFLOW_TESTSERVER_OFFER_RATE"`      // /offer discount as a share of annualIncome

	// AuthToken, when set, must match the Authorization header.
	AuthToken string `env:"PROMOFLOW_TESTSERVER_AUTH_TOKEN"`

	// Failure injection
	FailFirst int           `env:"PROMOFLOW_TESTSERVER_FAIL_FIRST"` // answer the first N requests with 503
	Delay     time.Duration `env:"PROMOFLOW_TESTSERVER_DELAY"`      // wait before answering
}

// DefaultConfig returns the stub defaults.
//
// Defaults:
//   - Addr: 127.0.0.1:8089
//   - ScoreThreshold: 700
//   - OfferRate: 0.01
//   - no authentication, failures or delay
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Addr:           "127.0.0.1:8089",
		ScoreThreshold: 700,
		OfferRate:      0.01,
	}
}

// LoadConfig applies PROMOFLOW_TESTSERVER_* environment variables over the
// defaults.
func LoadConfig() (*ServerConfig, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration bounds.
func (c *ServerConfig) Validate() error {
	if c.ScoreThreshold < 0 {
		return fmt.Errorf("score threshold must not be negative, got %d", c.ScoreThreshold)
	}
	if c.OfferRate < 0 || c.OfferRate > 1 {
		return fmt.Errorf("offer rate must be between 0 and 1, got %g", c.OfferRate)
	}
	if c.FailFirst < 0 {
		return fmt.Errorf("fail first must not be negative, got %d", c.FailFirst)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must not be negative, got %s", c.Delay)
	}
	return nil
}

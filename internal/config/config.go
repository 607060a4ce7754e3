// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the cadence pipeline.
//
// Supports TOML configuration with sensible defaults and environment
// variable overrides. Every empirical constant in the pipeline (debounce
// window, trend band, token estimator divisor, advisory ladder) is a
// configurable default here, not a hard-coded value.
//
// Configuration file location: ~/.cadence/config.toml, overridable with
// CADENCE_CONFIG.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete cadence configuration.
type Config struct {
	// Local (NDJSON wire family) provider settings
	Local LocalConfig `toml:"local"`

	// Cloud (SSE wire family) provider settings
	Cloud CloudConfig `toml:"cloud"`

	// Quality engine tunables
	Quality QualityConfig `toml:"quality"`

	// Token ledger tunables
	Ledger LedgerConfig `toml:"ledger"`

	// Stream normalizer tunables
	Stream StreamConfig `toml:"stream"`
}

// LocalConfig configures the locally-hosted provider.
type LocalConfig struct {
	// URL is the base URL of the local server
	URL string `toml:"url"`
	// Model is the default local model
	Model string `toml:"model"`
}

// CloudConfig configures the hosted provider.
type CloudConfig struct {
	// BaseURL is the API base URL
	BaseURL string `toml:"base_url"`
	// Model is the default hosted model
	Model string `toml:"model"`
	// Family selects the delta framing: "chat" (choices/delta/[DONE]) or
	// "block" (content_block_delta/message_stop)
	Family string `toml:"family"`
	// APIKeyName is the name the credential store is queried with
	APIKeyName string `toml:"api_key_name"`
	// RequestsPerSecond paces outbound requests (0 = unpaced)
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// QualityConfig holds the two-phase engine tunables.
type QualityConfig struct {
	// DebounceWindowMs is the minimum spacing between graded evaluations
	DebounceWindowMs int `toml:"debounce_window_ms"`
	// TrendBand is the +/- stability band around the rolling average
	TrendBand float64 `toml:"trend_band"`
	// ContextCharBudget bounds the transcript window in grading prompts
	ContextCharBudget int `toml:"context_char_budget"`
	// ContextMessages is the adaptive window size requested from the
	// conversation context provider for completeness analysis
	ContextMessages int `toml:"context_messages"`
	// GradingModel overrides the model used for phase-2 grading
	// (empty = same model that produced the turn)
	GradingModel string `toml:"grading_model"`
}

// LedgerConfig holds the token accounting tunables.
type LedgerConfig struct {
	// EstimatorDivisor is the chars-per-token divisor used when the
	// provider reports no usage counts
	EstimatorDivisor int `toml:"estimator_divisor"`
}

// StreamConfig holds the normalizer tunables.
type StreamConfig struct {
	// ColdStartRetries is the number of extra attempts on transport
	// timeout for a model never used before in this installation
	ColdStartRetries int `toml:"cold_start_retries"`
	// ColdStartBackoffMinMs / MaxMs bound the backoff between attempts
	ColdStartBackoffMinMs int `toml:"cold_start_backoff_min_ms"`
	ColdStartBackoffMaxMs int `toml:"cold_start_backoff_max_ms"`
	// AdvisorySecs is the escalating progress-notification ladder,
	// suppressed once the first delta arrives
	AdvisorySecs []int `toml:"advisory_secs"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Local: LocalConfig{
			URL:   "http://localhost:11434",
			Model: "llama3",
		},
		Cloud: CloudConfig{
			BaseURL:           "https://openrouter.ai/api/v1",
			Family:            "chat",
			APIKeyName:        "cadence_api_key",
			RequestsPerSecond: 2,
		},
		Quality: QualityConfig{
			DebounceWindowMs:  2000,
			TrendBand:         0.3,
			ContextCharBudget: 4000,
			ContextMessages:   10,
		},
		Ledger: LedgerConfig{
			EstimatorDivisor: 4,
		},
		Stream: StreamConfig{
			ColdStartRetries:      2,
			ColdStartBackoffMinMs: 1000,
			ColdStartBackoffMaxMs: 3000,
			AdvisorySecs:          []int{15, 30, 60, 120},
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// DefaultPath returns the configuration file location.
func DefaultPath() string {
	if p := os.Getenv("CADENCE_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".cadence", "config.toml")
}

// Load reads the configuration file, applies environment overrides, and
// validates the result. A missing file is not an error: defaults apply.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies CADENCE_* environment variables on top of the
// file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CADENCE_LOCAL_URL"); v != "" {
		c.Local.URL = v
	}
	if v := os.Getenv("CADENCE_LOCAL_MODEL"); v != "" {
		c.Local.Model = v
	}
	if v := os.Getenv("CADENCE_CLOUD_URL"); v != "" {
		c.Cloud.BaseURL = v
	}
	if v := os.Getenv("CADENCE_CLOUD_MODEL"); v != "" {
		c.Cloud.Model = v
	}
	if v := os.Getenv("CADENCE_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Quality.DebounceWindowMs = n
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks structural validity and clamps out-of-range tunables back
// to their defaults.
func (c *Config) Validate() error {
	if _, err := url.Parse(c.Local.URL); err != nil {
		return fmt.Errorf("invalid local url: %w", err)
	}
	if _, err := url.Parse(c.Cloud.BaseURL); err != nil {
		return fmt.Errorf("invalid cloud base url: %w", err)
	}
	if c.Cloud.Family != "chat" && c.Cloud.Family != "block" {
		return fmt.Errorf("invalid cloud family %q (want chat or block)", c.Cloud.Family)
	}

	if c.Quality.DebounceWindowMs < 0 {
		c.Quality.DebounceWindowMs = 2000
	}
	if c.Quality.TrendBand <= 0 {
		c.Quality.TrendBand = 0.3
	}
	if c.Quality.ContextCharBudget <= 0 {
		c.Quality.ContextCharBudget = 4000
	}
	if c.Quality.ContextMessages <= 0 {
		c.Quality.ContextMessages = 10
	}
	if c.Ledger.EstimatorDivisor <= 0 {
		c.Ledger.EstimatorDivisor = 4
	}
	if c.Stream.ColdStartRetries < 0 {
		c.Stream.ColdStartRetries = 2
	}
	if c.Stream.ColdStartBackoffMinMs <= 0 {
		c.Stream.ColdStartBackoffMinMs = 1000
	}
	if c.Stream.ColdStartBackoffMaxMs < c.Stream.ColdStartBackoffMinMs {
		c.Stream.ColdStartBackoffMaxMs = 3000
	}
	if len(c.Stream.AdvisorySecs) == 0 {
		c.Stream.AdvisorySecs = []int{15, 30, 60, 120}
	}
	return nil
}

// =============================================================================
// DERIVED ACCESSORS
// =============================================================================

// DebounceWindow returns the phase-2 debounce window as a duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.Quality.DebounceWindowMs) * time.Millisecond
}

// ColdStartBackoff returns the backoff bounds for cold-start retries.
func (c *Config) ColdStartBackoff() (min, max time.Duration) {
	return time.Duration(c.Stream.ColdStartBackoffMinMs) * time.Millisecond,
		time.Duration(c.Stream.ColdStartBackoffMaxMs) * time.Millisecond
}

// AdvisoryLadder returns the escalating notification delays.
func (c *Config) AdvisoryLadder() []time.Duration {
	out := make([]time.Duration, len(c.Stream.AdvisorySecs))
	for i, s := range c.Stream.AdvisorySecs {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

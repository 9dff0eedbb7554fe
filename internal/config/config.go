// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Environment variables consulted when the config file leaves a value empty.
const (
	EnvGitHubToken = "GITHUB_TOKEN"
	EnvContentRoot = "COMPLIGATOR_CONTENT_ROOT"
	EnvOutputRoot  = "COMPLIGATOR_OUTPUT_ROOT"
)

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or CLI flags.
type Config struct {
	// Paths
	ContentRoot string `json:"content_root,omitempty"` // Where synced source files live
	OutputRoot  string `json:"output_root,omitempty"`  // Where normalized outputs are written

	// Concurrency and limits
	Workers           int     `json:"workers,omitempty"`            // Concurrent fetches per framework
	RenderConcurrency int     `json:"render_concurrency,omitempty"` // Concurrent headless browser sessions
	Retries           int     `json:"retries,omitempty"`            // Attempts per fetch tier
	TimeoutSeconds    int     `json:"timeout_seconds,omitempty"`    // Direct HTTP timeout
	RenderTimeout     int     `json:"render_timeout_seconds,omitempty"`
	RatePerSecond     float64 `json:"rate_per_second,omitempty"` // Direct requests per second; 0 takes the default, negative is unlimited

	// Behavior
	NoRender    bool   `json:"no_render,omitempty"`    // Disable the headless browser tier
	Verbose     bool   `json:"verbose,omitempty"`      // Debug-level logging
	GitHubToken string `json:"github_token,omitempty"` // Raises the GitHub API rate limit
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ContentRoot:       "content",
		OutputRoot:        "normalized",
		Workers:           4,
		RenderConcurrency: 2,
		Retries:           3,
		TimeoutSeconds:    60,
		RenderTimeout:     90,
		RatePerSecond:     4,
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	//nolint:gosec // G304: config path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	// Validate numeric ranges
	if c.Workers < 0 {
		return fmt.Errorf("config error: 'workers' must be non-negative")
	}
	if c.RenderConcurrency < 0 {
		return fmt.Errorf("config error: 'render_concurrency' must be non-negative")
	}
	if c.Retries < 0 {
		return fmt.Errorf("config error: 'retries' must be non-negative")
	}
	if c.TimeoutSeconds < 0 || c.RenderTimeout < 0 {
		return fmt.Errorf("config error: timeouts must be non-negative")
	}

	// The two trees must not overlap or normalization would re-read its own output.
	if c.ContentRoot != "" && c.OutputRoot != "" {
		content, errC := filepath.Abs(c.ContentRoot)
		output, errO := filepath.Abs(c.OutputRoot)
		if errC == nil && errO == nil && content == output {
			return fmt.Errorf("config error: 'content_root' and 'output_root' must differ")
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.ContentRoot == "" {
		result.ContentRoot = defaults.ContentRoot
	}
	if result.OutputRoot == "" {
		result.OutputRoot = defaults.OutputRoot
	}
	if result.GitHubToken == "" {
		result.GitHubToken = defaults.GitHubToken
	}

	// Numeric fields: use default if zero
	if result.Workers == 0 {
		result.Workers = defaults.Workers
	}
	if result.RenderConcurrency == 0 {
		result.RenderConcurrency = defaults.RenderConcurrency
	}
	if result.Retries == 0 {
		result.Retries = defaults.Retries
	}
	if result.TimeoutSeconds == 0 {
		result.TimeoutSeconds = defaults.TimeoutSeconds
	}
	if result.RenderTimeout == 0 {
		result.RenderTimeout = defaults.RenderTimeout
	}
	if result.RatePerSecond == 0 {
		result.RatePerSecond = defaults.RatePerSecond
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}

// ApplyEnv fills empty fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if c.GitHubToken == "" {
		c.GitHubToken = getenv(EnvGitHubToken)
	}
	if c.ContentRoot == "" {
		c.ContentRoot = getenv(EnvContentRoot)
	}
	if c.OutputRoot == "" {
		c.OutputRoot = getenv(EnvOutputRoot)
	}
}

// Timeout is the direct fetch timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RenderTimeoutDuration is the per-page headless browser timeout.
func (c Config) RenderTimeoutDuration() time.Duration {
	return time.Duration(c.RenderTimeout) * time.Second
}

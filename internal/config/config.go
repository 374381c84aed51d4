// Package config resolves the runtime configuration: defaults, then an
// optional YAML file, then environment variables. Flags override the result
// at the CLI layer.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"cloudaudit/internal/artifact"
)

// Error reports an invalid or missing configuration item. The CLI maps it
// to exit code 2, before any stage runs.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s"
// (bare integers are taken as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetryConfig tunes the external invocation adapter.
type RetryConfig struct {
	MaxAttempts   int      `yaml:"max_attempts"`
	Timeout       Duration `yaml:"timeout"`
	BackoffBase   Duration `yaml:"backoff_base"`
	BackoffCap    Duration `yaml:"backoff_cap"`
	DisableJitter bool     `yaml:"disable_jitter"`
}

// ModelConfig selects the generative model endpoint for live Explain runs.
type ModelConfig struct {
	// Name is the model identifier, e.g. "gemini-2.0-flash".
	Name string `yaml:"name"`

	// Project is the cloud project hosting the model endpoint. Defaults to
	// $GOOGLE_CLOUD_PROJECT, falling back to the audited project ID.
	Project string `yaml:"project"`

	// Location is the model endpoint region. Defaults to
	// $GOOGLE_CLOUD_LOCATION, then "us-central1".
	Location string `yaml:"location"`
}

// Config is the resolved application configuration.
type Config struct {
	// OutputDir is where run artifacts are persisted.
	OutputDir string `yaml:"output_dir"`

	// Providers lists the cloud providers the Collect stage fans out over
	// in live mode. Supported: "gcp", "aws".
	Providers []string `yaml:"providers"`

	// Workers bounds the Collect stage's concurrent sub-collectors.
	Workers int `yaml:"workers"`

	Retry  RetryConfig           `yaml:"retry"`
	Model  ModelConfig           `yaml:"model"`
	Mirror artifact.MirrorConfig `yaml:"mirror"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		OutputDir: "data",
		Providers: []string{"gcp"},
		Workers:   4,
		Retry: RetryConfig{
			MaxAttempts: 3,
			Timeout:     Duration(30 * time.Second),
			BackoffBase: Duration(1 * time.Second),
			BackoffCap:  Duration(8 * time.Second),
		},
		Model: ModelConfig{
			Name:     "gemini-2.0-flash",
			Location: "us-central1",
		},
	}
}

// Load resolves the configuration. path may be empty (no file); a named
// file that does not exist is an error. Environment variables
// GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION apply over the defaults,
// and file values override both.
func Load(path string) (Config, error) {
	cfg := Default()

	// Environment before file: a field the file sets explicitly must win,
	// even when its value happens to match a built-in default.
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		cfg.Model.Project = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_LOCATION"); v != "" {
		cfg.Model.Location = v
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, &Error{Field: "config file", Reason: err.Error()}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &Error{Field: "config file", Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.OutputDir == "" {
		return &Error{Field: "output_dir", Reason: "must not be empty"}
	}
	if c.Workers <= 0 {
		return &Error{Field: "workers", Reason: "must be positive"}
	}
	for _, p := range c.Providers {
		if p != "gcp" && p != "aws" {
			return &Error{Field: "providers", Reason: fmt.Sprintf("unsupported provider %q", p)}
		}
	}
	if c.Retry.MaxAttempts <= 0 {
		return &Error{Field: "retry.max_attempts", Reason: "must be positive"}
	}
	return nil
}

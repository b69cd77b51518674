// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads fyreflowd's process configuration: the data
// directory layout, server listen address, polling/concurrency knobs,
// and default RuntimeConfig values applied to pipelines that don't
// specify their own.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fyreflow/core/internal/log"
	"github.com/fyreflow/core/internal/model"
	fyerrors "github.com/fyreflow/core/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is fyreflowd's complete process configuration.
type Config struct {
	// Version is reserved for forward config-format migrations.
	Version int `yaml:"version,omitempty"`

	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Tracing TracingConfig `yaml:"tracing"`

	// SchedulerPollInterval is loaded and overridable but not passed to
	// the cron scheduler (C8), which polls on its own fixed 15s interval.
	SchedulerPollInterval time.Duration `yaml:"scheduler_poll_interval"`

	// SchedulerBurstPerTick bounds how many schedules one tick may
	// trigger, rate-limiting a pile-up of simultaneously-due schedules.
	SchedulerBurstPerTick int `yaml:"scheduler_burst_per_tick"`

	// MaxParallelRuns bounds concurrent active runs across the process.
	MaxParallelRuns int `yaml:"max_parallel_runs"`

	// DefaultRuntime holds default RuntimeConfig values. It is loaded
	// but not applied: the store and runner use each pipeline's own
	// RuntimeConfig as given.
	DefaultRuntime model.RuntimeConfig `yaml:"default_runtime"`

	// LegacyRegexGates mirrors FYREFLOW_ENABLE_LEGACY_REGEX_GATES:
	// status-marker normalization and the COMPLETE→PASS alias in C4.
	// Defaults to true, matching the documented env var default. The
	// gate evaluator reads the environment variable itself, not this
	// field.
	LegacyRegexGates bool `yaml:"legacy_regex_gates"`
}

// LogConfig configures the process-wide structured logger.
type LogConfig struct {
	Level     string    `yaml:"level"`
	Format    log.Format `yaml:"format"`
	AddSource bool      `yaml:"add_source"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AuthSecret signs and validates API bearer tokens (HS256). Empty
	// disables auth enforcement, leaving the API open on Addr.
	AuthSecret string `yaml:"auth_secret"`
}

// TracingConfig controls whether run/step spans are exported via
// OpenTelemetry and to where. Disabled by default: the run-execution
// core instruments every dispatch regardless, but a no-op tracer
// drops the spans until this is turned on.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "otlp-grpc", "otlp-http", or "stdout"
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// StorageConfig roots every on-disk path fyreflowd reads or writes.
type StorageConfig struct {
	// DataDir holds local-db.json, .secrets-key, .secrets-salt, and
	// secrets/<pipelineId>.json (spec.md §6 Persistence layout).
	DataDir string `yaml:"data_dir"`

	// ArtifactRoot is <storageRoot> from spec.md §6: shared/, isolated/,
	// runs/ live underneath it.
	ArtifactRoot string `yaml:"artifact_root"`
}

// Default returns the out-of-the-box configuration: a "./data" data
// dir, "./storage" artifact root, a 15s scheduler poll, and the
// spec-documented RuntimeConfig defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Log: LogConfig{
			Level:  "info",
			Format: log.FormatJSON,
		},
		Server: ServerConfig{
			Addr:            ":8742",
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:      "data",
			ArtifactRoot: "storage",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
		SchedulerPollInterval: 15 * time.Second,
		SchedulerBurstPerTick: 4,
		MaxParallelRuns:       8,
		DefaultRuntime:        model.DefaultRuntimeConfig(),
		LegacyRegexGates:      true,
	}
}

// Load reads path (if it exists) over the defaults, then applies
// environment variable overrides, mirroring the teacher's
// config.Load(path)-then-env-override layering.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return applyEnv(cfg), nil
			}
			return nil, fyerrors.Wrapf(err, "reading config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &fyerrors.ConfigError{Key: path, Reason: "invalid YAML", Cause: err}
		}
	}

	return applyEnv(cfg), nil
}

// applyEnv layers FYREFLOW_* environment overrides atop cfg, matching
// the env vars spec.md §6 documents plus the operational knobs this
// implementation adds alongside them.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("FYREFLOW_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FYREFLOW_DEBUG"); v == "1" || v == "true" {
		cfg.Log.Level = "debug"
		cfg.Log.AddSource = true
	}
	if v := os.Getenv("FYREFLOW_STORAGE_ROOT"); v != "" {
		cfg.Storage.ArtifactRoot = v
	}
	if v := os.Getenv("FYREFLOW_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("FYREFLOW_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("FYREFLOW_API_AUTH_SECRET"); v != "" {
		cfg.Server.AuthSecret = v
	}
	if v := os.Getenv("FYREFLOW_ENABLE_LEGACY_REGEX_GATES"); v != "" {
		cfg.LegacyRegexGates = v != "0"
	}
	if v := os.Getenv("FYREFLOW_MAX_PARALLEL_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxParallelRuns = n
		}
	}
	if v := os.Getenv("FYREFLOW_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("FYREFLOW_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("FYREFLOW_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	return cfg
}

// EnsureDirs creates the data dir and artifact root (with its shared/,
// isolated/, runs/ subdirectories) if they do not already exist.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0o755); err != nil {
		return fyerrors.Wrapf(err, "creating data dir %s", c.Storage.DataDir)
	}
	for _, sub := range []string{"shared", "isolated", "runs"} {
		dir := filepath.Join(c.Storage.ArtifactRoot, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fyerrors.Wrapf(err, "creating artifact dir %s", dir)
		}
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads orchestrator configuration from an optional YAML
// file with environment variable overrides.
//
// Precedence, lowest to highest: built-in defaults, YAML file, environment.
// The file path comes from TRACEDECK_CONFIG; a missing file is not an error
// so containers can run on environment variables alone.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds all orchestrator configuration.
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int `yaml:"port"`

	// LLMBackend specifies the completion provider.
	// Valid values: "ollama", "openai". Default: "ollama"
	LLMBackend string `yaml:"llm_backend"`

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Tracing is disabled when empty.
	OTelEndpoint string `yaml:"otel_endpoint"`

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test". Default: "release"
	GinMode string `yaml:"gin_mode"`

	// StoragePath is the directory for the embedded database.
	// Default: "./data/tracedeck"
	StoragePath string `yaml:"storage_path"`

	// InMemoryStore disables disk persistence. Uploaded corpora then
	// survive the process lifetime only.
	InMemoryStore bool `yaml:"in_memory_store"`

	// SampleSize bounds the per-turn analysis working set. Default: 250
	SampleSize int `yaml:"sample_size"`

	// PageSize is the reasoning stage's fixed item count. Default: 20
	PageSize int `yaml:"page_size"`

	// FragmentDelayMs paces simulated streaming of the analysis answer,
	// in milliseconds. Default: 30
	FragmentDelayMs int `yaml:"fragment_delay_ms"`

	// StreamTimeout bounds one full two-stage streaming turn.
	// Default: 5m
	StreamTimeout time.Duration `yaml:"stream_timeout"`

	// AnalysisPrompt, ReasoningPrompt, and BatchPrompt override the
	// built-in prompt templates service-wide. Per-request overrides still
	// take precedence.
	AnalysisPrompt  string `yaml:"analysis_prompt"`
	ReasoningPrompt string `yaml:"reasoning_prompt"`
	BatchPrompt     string `yaml:"batch_prompt"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		Port:            12210,
		LLMBackend:      "ollama",
		GinMode:         "release",
		StoragePath:     "./data/tracedeck",
		SampleSize:      250,
		PageSize:        20,
		FragmentDelayMs: 30,
		StreamTimeout:   5 * time.Minute,
	}
}

// Load builds the effective configuration.
//
// # Description
//
// Starts from Default(), merges the YAML file named by TRACEDECK_CONFIG
// (or the path argument when non-empty), then applies environment variable
// overrides. A configured-but-unreadable file is an error; an unset path
// is not.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port
//   - LLM_BACKEND_TYPE: "ollama" or "openai"
//   - OTEL_EXPORTER_OTLP_ENDPOINT: collector endpoint, empty disables tracing
//   - TRACEDECK_STORAGE_PATH: embedded database directory
//   - TRACEDECK_SAMPLE_SIZE: per-turn sampling bound
//   - TRACEDECK_FRAGMENT_DELAY_MS: fragment pacing in milliseconds
//   - TRACEDECK_STREAM_TIMEOUT: Go duration string, e.g. "2m"
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TRACEDECK_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.applyDefaults()
	return cfg, nil
}

// applyEnvOverrides applies environment variables on top of file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ORCHESTRATOR_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("LLM_BACKEND_TYPE"); v != "" {
		cfg.LLMBackend = v
	}
	if v, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_ENDPOINT"); ok {
		cfg.OTelEndpoint = v
	}
	if v := os.Getenv("GIN_MODE"); v != "" {
		cfg.GinMode = v
	}
	if v := os.Getenv("TRACEDECK_STORAGE_PATH"); v != "" {
		cfg.StoragePath = v
	}
	if v := os.Getenv("TRACEDECK_SAMPLE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SampleSize = n
		}
	}
	if v := os.Getenv("TRACEDECK_FRAGMENT_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FragmentDelayMs = n
		}
	}
	if v := os.Getenv("TRACEDECK_STREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StreamTimeout = d
		}
	}
}

// applyDefaults backfills zero values left by a sparse YAML file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Port <= 0 {
		c.Port = d.Port
	}
	if c.LLMBackend == "" {
		c.LLMBackend = d.LLMBackend
	}
	if c.GinMode == "" {
		c.GinMode = d.GinMode
	}
	if c.StoragePath == "" {
		c.StoragePath = d.StoragePath
	}
	if c.SampleSize <= 0 {
		c.SampleSize = d.SampleSize
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.FragmentDelayMs < 0 {
		c.FragmentDelayMs = d.FragmentDelayMs
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = d.StreamTimeout
	}
}

// FragmentDelay returns the fragment pacing as a duration.
func (c Config) FragmentDelay() time.Duration {
	return time.Duration(c.FragmentDelayMs) * time.Millisecond
}

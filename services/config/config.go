// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the Pitchside server configuration.
//
// Configuration is layered: embedded defaults, then an optional YAML file
// (PITCHSIDE_CONFIG or ./pitchside.yaml), then environment variable
// overrides for secrets and deploy-specific endpoints. The loaded Config
// is immutable; reload requires a restart.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Embedded Defaults
// =============================================================================

//go:embed defaults.yaml
var defaultsYAML []byte

// =============================================================================
// Configuration Types
// =============================================================================

// Duration is a time.Duration that unmarshals from YAML strings like "120s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full server configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Completion configures the external completion API.
	Completion CompletionConfig `yaml:"completion"`

	// Gateway configures the hosted-database REST gateway.
	Gateway GatewayConfig `yaml:"gateway"`

	// Renderer configures the chart rendering service.
	Renderer RendererConfig `yaml:"renderer"`

	// Memory configures the persisted conversation store.
	Memory MemoryConfig `yaml:"memory"`

	// Planner configures the query planner and tool loop.
	Planner PlannerConfig `yaml:"planner"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Port is the TCP port to listen on.
	Port int `yaml:"port"`

	// Debug enables gin debug mode and request logging.
	Debug bool `yaml:"debug"`
}

// CompletionConfig configures the external completion API client.
type CompletionConfig struct {
	// BaseURL is the chat-completions endpoint.
	// Env override: COMPLETION_BASE_URL.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests. Env override: COMPLETION_API_KEY.
	APIKey string `yaml:"api_key"`

	// Model is the primary model name. Env override: COMPLETION_MODEL.
	Model string `yaml:"model"`

	// FallbackModel is tried once on 5xx/429 from the primary.
	// Env override: COMPLETION_FALLBACK_MODEL. Empty disables fallback.
	FallbackModel string `yaml:"fallback_model"`

	// Timeout is the hard per-request timeout. The underlying connection
	// is aborted when it expires.
	Timeout Duration `yaml:"timeout"`

	// RequestsPerMinute rate-limits outbound completion calls.
	// Zero disables limiting.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// GatewayConfig configures the database REST gateway client.
type GatewayConfig struct {
	// BaseURL is the gateway root (table reads are relative to it).
	// Env override: GATEWAY_BASE_URL.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as both the apikey header and bearer token.
	// Env override: GATEWAY_API_KEY.
	APIKey string `yaml:"api_key"`

	// SchemaTTL is how long a schema snapshot stays fresh.
	SchemaTTL Duration `yaml:"schema_ttl"`
}

// RendererConfig configures the chart rendering service client.
type RendererConfig struct {
	// BaseURL is the renderer root; charts POST to BaseURL + "/render".
	// Env override: RENDERER_BASE_URL.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single render call.
	Timeout Duration `yaml:"timeout"`
}

// MemoryConfig configures the persisted conversation store.
type MemoryConfig struct {
	// DataDir holds the BadgerDB directory and any legacy JSON documents
	// to import. Env override: PITCHSIDE_DATA_DIR.
	DataDir string `yaml:"data_dir"`

	// HintsPath points at the semantic hints YAML document. Empty uses
	// the embedded defaults without file watching.
	HintsPath string `yaml:"hints_path"`
}

// PlannerConfig configures the planner and tool orchestration loop.
type PlannerConfig struct {
	// MaxToolRounds bounds the tool-calling loop.
	MaxToolRounds int `yaml:"max_tool_rounds"`

	// AnalysisMaxRows caps the data preview sent to the analysis pass.
	AnalysisMaxRows int `yaml:"analysis_max_rows"`

	// AnalysisMaxChars caps the serialized preview length.
	AnalysisMaxChars int `yaml:"analysis_max_chars"`
}

// =============================================================================
// Loading
// =============================================================================

var (
	loadOnce sync.Once
	loaded   *Config
	loadErr  error
)

// Load returns the process-wide configuration, reading it on first call.
//
// Outputs:
//   - *Config: The merged configuration.
//   - error: Non-nil if the YAML is malformed or validation fails.
func Load() (*Config, error) {
	loadOnce.Do(func() {
		loaded, loadErr = load()
	})
	return loaded, loadErr
}

// load performs the actual layered read. Split out so tests can call it
// without the sync.Once.
func load() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("config: embedded defaults are malformed: %w", err)
	}

	path := os.Getenv("PITCHSIDE_CONFIG")
	if path == "" {
		path = "pitchside.yaml"
	}
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides copies deploy-level environment variables over the
// file-derived values. Secrets only ever arrive this way.
func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Completion.BaseURL, "COMPLETION_BASE_URL")
	setString(&cfg.Completion.APIKey, "COMPLETION_API_KEY")
	setString(&cfg.Completion.Model, "COMPLETION_MODEL")
	setString(&cfg.Completion.FallbackModel, "COMPLETION_FALLBACK_MODEL")
	setString(&cfg.Gateway.BaseURL, "GATEWAY_BASE_URL")
	setString(&cfg.Gateway.APIKey, "GATEWAY_API_KEY")
	setString(&cfg.Renderer.BaseURL, "RENDERER_BASE_URL")
	setString(&cfg.Memory.DataDir, "PITCHSIDE_DATA_DIR")

	if v := os.Getenv("PITCHSIDE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

// Validate checks invariants the rest of the server assumes.
//
// Outputs:
//   - error: Non-nil naming the first invalid field.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Planner.MaxToolRounds <= 0 {
		return fmt.Errorf("config: planner.max_tool_rounds must be positive")
	}
	if c.Completion.Timeout <= 0 {
		return fmt.Errorf("config: completion.timeout must be positive")
	}
	if c.Gateway.SchemaTTL <= 0 {
		return fmt.Errorf("config: gateway.schema_ttl must be positive")
	}
	return nil
}

// Package config decodes the bridge configuration handed to libffi_init.
// The host passes JSON; the dev tooling also accepts YAML files.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log     LogConfig     `yaml:"log" json:"log"`
	Otel    OtelConfig    `yaml:"otel" json:"otel"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	GraphQL GraphQLConfig `yaml:"graphql" json:"graphql"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"` // json or console
}

type OtelConfig struct {
	// Endpoint is the OTLP/gRPC collector address. Tracing is off when empty.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Service  string `yaml:"service" json:"service"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint. Off when empty.
	Addr string `yaml:"addr" json:"addr"`
}

type GraphQLConfig struct {
	Introspection *bool `yaml:"introspection" json:"introspection"`
}

// IntrospectionEnabled reports the effective introspection setting.
func (g GraphQLConfig) IntrospectionEnabled() bool {
	return g.Introspection == nil || *g.Introspection
}

// Load decodes data, applies defaults and validates the result. Empty data
// yields the default configuration.
func Load(data []byte) (*Config, error) {
	var cfg Config
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0:
	case trimmed[0] == '{':
		// yaml.v3 rejects tab indentation, which JSON allows.
		if err := json.Unmarshal(trimmed, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(trimmed, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadFile reads path, expands environment variables and calls Load.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Load([]byte(os.ExpandEnv(string(data))))
}

func setDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Otel.Service == "" {
		cfg.Otel.Service = "restygraph"
	}
	if cfg.GraphQL.Introspection == nil {
		on := true
		cfg.GraphQL.Introspection = &on
	}
}

func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format)
	}
	return nil
}

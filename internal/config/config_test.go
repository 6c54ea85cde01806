package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, in := range []string{"", "{}", "  \n"} {
		cfg, err := Load([]byte(in))
		require.NoError(t, err)
		require.Equal(t, "info", cfg.Log.Level)
		require.Equal(t, "json", cfg.Log.Format)
		require.Equal(t, "restygraph", cfg.Otel.Service)
		require.Empty(t, cfg.Otel.Endpoint)
		require.Empty(t, cfg.Metrics.Addr)
		require.True(t, cfg.GraphQL.IntrospectionEnabled())
	}
}

func TestLoad_JSON(t *testing.T) {
	cfg, err := Load([]byte(`{
		"log": {"level": "debug", "format": "console"},
		"otel": {"endpoint": "collector:4317", "service": "edge"},
		"metrics": {"addr": ":9100"},
		"graphql": {"introspection": false}
	}`))
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "console", cfg.Log.Format)
	require.Equal(t, "collector:4317", cfg.Otel.Endpoint)
	require.Equal(t, "edge", cfg.Otel.Service)
	require.Equal(t, ":9100", cfg.Metrics.Addr)
	require.False(t, cfg.GraphQL.IntrospectionEnabled())
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load([]byte(`{"log": {"level": "loud"}}`))
	require.ErrorContains(t, err, "validate config: log.level")

	_, err = Load([]byte(`{"log": {"format": "xml"}}`))
	require.ErrorContains(t, err, "log.format")

	_, err = Load([]byte(`{"log": [`))
	require.ErrorContains(t, err, "parse config")

	_, err = Load([]byte("log: [\n"))
	require.ErrorContains(t, err, "parse config")
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load([]byte("log:\n  level: warn\ngraphql:\n  introspection: false\n"))
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)
	require.False(t, cfg.GraphQL.IntrospectionEnabled())
}

func TestLoadFile_ExpandsEnv(t *testing.T) {
	t.Setenv("RG_METRICS_ADDR", "127.0.0.1:9200")
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  addr: ${RG_METRICS_ADDR}\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9200", cfg.Metrics.Addr)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Development, cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 768, cfg.Store.Dimension)
	assert.Equal(t, 3, cfg.Retriever.CandidateMultiplier)
	assert.InDelta(t, 0.2, cfg.Retriever.KeywordBoost, 1e-9)
	assert.InDelta(t, 0.1, cfg.Retriever.TraversalPenalty, 1e-9)
	assert.Equal(t, 5, cfg.Consistency.NeighborTopK)
	assert.True(t, cfg.Consistency.FailOpen)
	assert.Equal(t, "none", cfg.Events.Backend)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
environment: production
server:
  port: 9090
store:
  backend: dynamodb
  table_name: memcore-prod
  region: eu-west-1
  dimension: 1536
consistency:
  fail_open: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Production, cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "dynamodb", cfg.Store.Backend)
	assert.Equal(t, "memcore-prod", cfg.Store.TableName)
	assert.Equal(t, 1536, cfg.Store.Dimension)
	assert.False(t, cfg.Consistency.FailOpen)

	// untouched sections keep their defaults
	assert.Equal(t, 4, cfg.Reasoner.Workers)
	assert.Equal(t, "fake", cfg.Embedder.Backend)
}

func TestLoadMalformedYAMLFails(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvironmentVariablesWinOverFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
store:
  backend: memory
`)
	t.Setenv("MEMCORE_PORT", "7070")
	t.Setenv("MEMCORE_STORE_BACKEND", "dynamodb")
	t.Setenv("MEMCORE_TABLE_NAME", "memcore-staging")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("MEMCORE_FAIL_OPEN", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "dynamodb", cfg.Store.Backend)
	assert.Equal(t, "memcore-staging", cfg.Store.TableName)
	assert.Equal(t, "us-east-1", cfg.Store.Region)
	assert.Equal(t, "us-east-1", cfg.Events.Region)
	assert.False(t, cfg.Consistency.FailOpen)
}

func TestEventBusEnvSelectsEventBridge(t *testing.T) {
	t.Setenv("MEMCORE_EVENT_BUS", "memcore-events-prod")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "eventbridge", cfg.Events.Backend)
	assert.Equal(t, "memcore-events-prod", cfg.Events.BusName)
}

func TestTracingEndpointEnvEnablesTracing(t *testing.T) {
	t.Setenv("MEMCORE_TRACING_ENDPOINT", "collector:4317")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown environment", func(c *Config) { c.Environment = "qa" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"empty store backend", func(c *Config) { c.Store.Backend = "" }},
		{"zero dimension", func(c *Config) { c.Store.Dimension = 0 }},
		{"negative keyword boost", func(c *Config) { c.Retriever.KeywordBoost = -0.1 }},
		{"sample rate above one", func(c *Config) { c.Tracing.SampleRate = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1:8780", cfg.Listen)
	assert.Equal(t, 1024, cfg.EventSource.QueueSize)
	assert.Equal(t, DefaultLLMModel, cfg.LLM.Model)
	assert.Equal(t, 4096, cfg.Exfil.RegistryCapacity)
	assert.Len(t, cfg.Engines.Enabled, 4)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Listen = "" }},
		{"missing event source", func(c *Config) { c.EventSource = nil }},
		{"zero queue size", func(c *Config) { c.EventSource.QueueSize = 0 }},
		{"no engines", func(c *Config) { c.Engines.Enabled = nil }},
		{"unknown engine", func(c *Config) { c.Engines.Enabled = []string{"MysteryEngine"} }},
		{"negative retries", func(c *Config) { c.LLM.MaxRetries = -1 }},
		{"zero llm timeout", func(c *Config) { c.LLM.Timeout = 0 }},
		{"zero registry capacity", func(c *Config) { c.Exfil.RegistryCapacity = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEngineEnabled(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.EngineEnabled(EngineCommandInjection))
	assert.True(t, cfg.EngineEnabled(EngineDataExfiltration))
	assert.False(t, cfg.EngineEnabled("MysteryEngine"))

	cfg.Engines = nil
	assert.False(t, cfg.EngineEnabled(EngineCommandInjection))
}

func TestLLMAPIKey(t *testing.T) {
	cfg := &LLMConfig{APIKeyEnv: "MCPWATCH_TEST_KEY"}
	t.Setenv("MCPWATCH_TEST_KEY", "secret")
	assert.Equal(t, "secret", cfg.APIKey())

	var nilCfg *LLMConfig
	assert.Empty(t, nilCfg.APIKey())
	assert.Empty(t, (&LLMConfig{}).APIKey())
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY", "DOCREVIEW_PROVIDER", "DOCREVIEW_PERSONAS", "DOCREVIEW_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearProviderEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadParsesYAML(t *testing.T) {
	clearProviderEnv(t)
	path := filepath.Join(t.TempDir(), "docreview.yaml")
	content := `
llm:
  provider: openai
  api_key: sk-test
  model: gpt-4o-mini
  timeout: 30s
personas:
  store: sqlite
  path: data/personas.db
workflow:
  max_concurrency: 4
server:
  addr: ":9000"
  allowed_origins: ["http://localhost:5173"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, "sqlite", cfg.Personas.Store)
	assert.Equal(t, 4, cfg.Workflow.MaxConcurrency)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.AllowedOrigins)
	// Untouched sections keep defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	clearProviderEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "docreview.yaml")

	cfg := DefaultConfig()
	cfg.Workflow.MaxConcurrency = 2
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("GEMINI_API_KEY wins over OPENAI_API_KEY", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa")
		t.Setenv("GEMINI_API_KEY", "gm")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "gm", cfg.LLM.APIKey)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
	})

	t.Run("OPENAI_API_KEY alone selects openai", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("OPENAI_API_KEY", "oa")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "openai", cfg.LLM.Provider)
	})

	t.Run("DOCREVIEW_PROVIDER forces provider", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("GEMINI_API_KEY", "gm")
		t.Setenv("DOCREVIEW_PROVIDER", "ECHO")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "echo", cfg.LLM.Provider)
	})

	t.Run("paths and addr", func(t *testing.T) {
		clearProviderEnv(t)
		t.Setenv("DOCREVIEW_PERSONAS", "/tmp/p.yaml")
		t.Setenv("DOCREVIEW_ADDR", ":7777")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/p.yaml", cfg.Personas.Path)
		assert.Equal(t, ":7777", cfg.Server.Addr)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"echo needs no key", func(c *Config) { c.LLM.Provider = "echo" }, false},
		{"gemini needs key", func(c *Config) {}, true},
		{"gemini with key", func(c *Config) { c.LLM.APIKey = "k" }, false},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "zai"; c.LLM.APIKey = "k" }, true},
		{"unknown store", func(c *Config) { c.LLM.Provider = "echo"; c.Personas.Store = "redis" }, true},
		{"empty path", func(c *Config) { c.LLM.Provider = "echo"; c.Personas.Path = "" }, true},
		{"negative concurrency", func(c *Config) { c.LLM.Provider = "echo"; c.Workflow.MaxConcurrency = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "soon"
	cfg.Workflow.Timeout = "later"
	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 10*time.Minute, cfg.GetWorkflowTimeout())

	cfg.Workflow.Timeout = ""
	assert.Zero(t, cfg.GetWorkflowTimeout())
}

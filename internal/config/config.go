package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all docreview configuration.
type Config struct {
	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Persona registry
	Personas PersonasConfig `yaml:"personas"`

	// Workflow execution
	Workflow WorkflowConfig `yaml:"workflow"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the text generator.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // gemini, openai, echo
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Timeout     string  `yaml:"timeout"`
	Temperature float64 `yaml:"temperature"`
}

// PersonasConfig configures the persona store.
type PersonasConfig struct {
	Store string `yaml:"store"` // yaml, sqlite
	Path  string `yaml:"path"`
	// Watch recompiles the workflow graph when the YAML store changes on disk.
	Watch bool `yaml:"watch"`
}

// WorkflowConfig configures the executor.
type WorkflowConfig struct {
	// MaxConcurrency caps simultaneous reviewer nodes; 0 is unbounded.
	MaxConcurrency int    `yaml:"max_concurrency"`
	Timeout        string `yaml:"timeout"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  "120s",
		},
		Personas: PersonasConfig{
			Store: "yaml",
			Path:  "personas.yaml",
		},
		Workflow: WorkflowConfig{
			Timeout: "10m",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Missing file means defaults
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Provider keys, lowest priority first
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if provider := os.Getenv("DOCREVIEW_PROVIDER"); provider != "" {
		c.LLM.Provider = strings.ToLower(provider)
	}

	if path := os.Getenv("DOCREVIEW_PERSONAS"); path != "" {
		c.Personas.Path = path
	}
	if addr := os.Getenv("DOCREVIEW_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// GetLLMTimeout returns the per-call generator timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetWorkflowTimeout returns the deadline for one whole execution. Zero disables it.
func (c *Config) GetWorkflowTimeout() time.Duration {
	if c.Workflow.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Workflow.Timeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// ValidProviders lists all supported text generator providers.
var ValidProviders = []string{"gemini", "openai", "echo"}

// ValidStores lists all supported persona stores.
var ValidStores = []string{"yaml", "sqlite"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if c.LLM.Provider != "echo" && c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY, GOOGLE_API_KEY or OPENAI_API_KEY)")
	}
	if !contains(ValidStores, c.Personas.Store) {
		return fmt.Errorf("invalid persona store: %s (valid: %v)", c.Personas.Store, ValidStores)
	}
	if c.Personas.Path == "" {
		return fmt.Errorf("persona store path is required")
	}
	if c.Workflow.MaxConcurrency < 0 {
		return fmt.Errorf("workflow.max_concurrency must be >= 0, got %d", c.Workflow.MaxConcurrency)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Package config handles Loresmith configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/loresmith/config.yaml, /etc/loresmith/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "loresmith", "config.yaml"))
	}

	paths = append(paths, "/etc/loresmith/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Loresmith configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	LLM      LLMConfig      `yaml:"llm"`
	Research ResearchConfig `yaml:"research"`
	Agent    AgentConfig    `yaml:"agent"`
	DataDir  string         `yaml:"data_dir"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig describes the user's completion endpoint.
type LLMConfig struct {
	// Provider selects the wire protocol: openai (any OpenAI-compatible
	// endpoint), ollama, or anthropic.
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// Pricing maps model names to token prices for usage reports.
	// Models not listed are counted as free.
	Pricing map[string]PricingEntry `yaml:"pricing"`
}

// PricingEntry is the USD cost per million tokens for one model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// ResearchConfig points the research tools at a wiki.
type ResearchConfig struct {
	// WikiURL is the default research source, e.g. https://typemoon.fandom.com.
	WikiURL     string `yaml:"wiki_url"`
	SearchLimit int    `yaml:"search_limit"`
	// MaxChars caps the text kept from a single fetched page.
	MaxChars int `yaml:"max_chars"`

	WebSearch WebSearchConfig `yaml:"web_search"`
}

// WebSearchConfig enables the web_search tool. Each backend is
// registered when its credentials are set.
type WebSearchConfig struct {
	// Provider is the default backend: searxng or brave. Empty picks
	// whichever is configured.
	Provider    string `yaml:"provider"`
	SearXNGURL  string `yaml:"searxng_url"`
	BraveAPIKey string `yaml:"brave_api_key"`
}

// Configured reports whether any backend is set.
func (w WebSearchConfig) Configured() bool {
	return w.SearXNGURL != "" || w.BraveAPIKey != ""
}

// AgentConfig tunes the agent loop.
type AgentConfig struct {
	Mode         string            `yaml:"mode"` // plan or build
	MaxSteps     int               `yaml:"max_steps"`
	Instructions string            `yaml:"instructions"`
	Presets      map[string]string `yaml:"presets"`
	Preset       string            `yaml:"preset"`
}

// PresetInstructions returns the configured free-form instructions
// followed by the selected preset, if any.
func (a AgentConfig) PresetInstructions() string {
	var parts []string
	if s := strings.TrimSpace(a.Instructions); s != "" {
		parts = append(parts, s)
	}
	if a.Preset != "" {
		if s := strings.TrimSpace(a.Presets[a.Preset]); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

// DatabasePath returns the SQLite file under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "loresmith.db")
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Research: ResearchConfig{
			SearchLimit: 10,
			MaxChars:    50000,
		},
		Agent: AgentConfig{
			Mode:     "build",
			MaxSteps: 5,
		},
		DataDir: "data",
	}
}

// applyDefaults fills zero values left behind by a sparse YAML file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Listen.Port == 0 {
		c.Listen.Port = d.Listen.Port
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = d.LLM.Provider
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if c.Research.SearchLimit <= 0 {
		c.Research.SearchLimit = d.Research.SearchLimit
	}
	if c.Research.MaxChars <= 0 {
		c.Research.MaxChars = d.Research.MaxChars
	}
	if c.Agent.Mode == "" {
		c.Agent.Mode = d.Agent.Mode
	}
	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = d.Agent.MaxSteps
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "ollama", "anthropic":
	default:
		return fmt.Errorf("llm.provider %q (valid: openai, ollama, anthropic)", c.LLM.Provider)
	}
	switch c.Agent.Mode {
	case "plan", "build":
	default:
		return fmt.Errorf("agent.mode %q (valid: plan, build)", c.Agent.Mode)
	}
	switch c.Research.WebSearch.Provider {
	case "":
	case "searxng":
		if c.Research.WebSearch.SearXNGURL == "" {
			return fmt.Errorf("research.web_search.provider searxng requires searxng_url")
		}
	case "brave":
		if c.Research.WebSearch.BraveAPIKey == "" {
			return fmt.Errorf("research.web_search.provider brave requires brave_api_key")
		}
	default:
		return fmt.Errorf("research.web_search.provider %q (valid: searxng, brave)", c.Research.WebSearch.Provider)
	}
	if c.Agent.Preset != "" {
		if _, ok := c.Agent.Presets[c.Agent.Preset]; !ok {
			return fmt.Errorf("agent.preset %q is not defined in agent.presets", c.Agent.Preset)
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature %.2f out of range 0-2", c.LLM.Temperature)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

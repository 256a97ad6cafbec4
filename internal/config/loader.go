package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultDataDir is created under the user home directory when no
	// data directory is configured.
	DefaultDataDir = ".mcpwatch"

	// ConfigFileName is the default configuration file name.
	ConfigFileName = "mcpwatch.json"
)

// Load loads configuration from file, environment, and defaults.
// A .env file next to the config (or in the working directory) is
// loaded first so that API keys can live outside the config file.
func Load(configPath string) (*Config, error) {
	loadDotEnv(configPath)

	cfg := DefaultConfig()

	setupViper()

	if configPath != "" {
		if err := loadConfigFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	applyViperOverrides(cfg)

	if cfg.DataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(homeDir, DefaultDataDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViper configures environment variable binding.
func setupViper() {
	viper.SetEnvPrefix("MCPWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

// applyViperOverrides copies bound flag/env values over file values.
func applyViperOverrides(cfg *Config) {
	if v := viper.GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v := viper.GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v := viper.GetString("event-source.path"); v != "" {
		cfg.EventSource.Path = v
	}
	if v := viper.GetInt("event-source.queue-size"); v > 0 {
		cfg.EventSource.QueueSize = v
	}
	if v := viper.GetString("llm.model"); v != "" {
		cfg.LLM.Model = v
	}
	if v := viper.GetString("llm.base-url"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
}

// loadConfigFile reads a JSON config file into cfg.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return nil
}

// loadDotEnv loads a .env file if one exists next to the config file or
// in the working directory. Missing files are not an error.
func loadDotEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

// APIKey resolves the classifier API key from the configured
// environment variable. Empty when unset.
func (l *LLMConfig) APIKey() string {
	if l == nil || l.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(l.APIKeyEnv)
}

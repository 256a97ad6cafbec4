// Package config holds the process-wide configuration for mcpwatch.
// Configuration is loaded from a JSON file, environment variables and
// command-line flags via viper, in that order of increasing precedence.
package config

import (
	"fmt"
	"time"
)

const (
	defaultListen = "127.0.0.1:8780"

	// DefaultLLMModel is used when no classifier model is configured.
	DefaultLLMModel = "mistral-medium-latest"
)

// Config represents the main configuration structure.
type Config struct {
	Listen  string `json:"listen" mapstructure:"listen"`
	DataDir string `json:"data_dir" mapstructure:"data-dir"`

	EventSource *EventSourceConfig `json:"event_source,omitempty" mapstructure:"event-source"`
	Engines     *EnginesConfig     `json:"engines,omitempty" mapstructure:"engines"`
	LLM         *LLMConfig         `json:"llm,omitempty" mapstructure:"llm"`
	Exfil       *ExfilConfig       `json:"exfil,omitempty" mapstructure:"exfil"`

	// ShutdownGrace bounds how long each subsystem may take to drain
	// during shutdown before it is abandoned.
	ShutdownGrace time.Duration `json:"shutdown_grace" mapstructure:"shutdown-grace"`

	// Logging configuration
	Logging *LogConfig `json:"logging,omitempty" mapstructure:"logging"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"`
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`       // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"` // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`         // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
}

// EventSourceConfig controls where events come from.
type EventSourceConfig struct {
	// Path is the observer child process to launch. Empty means inline
	// push mode: the embedding proxy delivers events via Source.Push.
	Path string `json:"path,omitempty" mapstructure:"path"`

	// Args are passed to the observer child process.
	Args []string `json:"args,omitempty" mapstructure:"args"`

	// QueueSize is the main event queue capacity. Events are dropped
	// when the queue is full; the proxy side runs in real time.
	QueueSize int `json:"queue_size" mapstructure:"queue-size"`
}

// EnginesConfig selects which detection engines are registered.
type EnginesConfig struct {
	Enabled []string `json:"enabled" mapstructure:"enabled"`
}

// LLMConfig configures the external classifier used by the
// tool-poisoning engine.
type LLMConfig struct {
	Model      string        `json:"model" mapstructure:"model"`
	BaseURL    string        `json:"base_url,omitempty" mapstructure:"base-url"`
	APIKeyEnv  string        `json:"api_key_env" mapstructure:"api-key-env"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max-retries"`
	RetryDelay time.Duration `json:"retry_delay" mapstructure:"retry-delay"`

	// RequestDelay is the pause between consecutive classifier calls
	// within one catalog batch, to respect upstream rate limits.
	RequestDelay time.Duration `json:"request_delay" mapstructure:"request-delay"`
}

// ExfilConfig configures the data-exfiltration engine.
type ExfilConfig struct {
	// RegistryCapacity bounds the suspicious-email registry. FIFO
	// eviction applies beyond the bound; it must be large enough that
	// a normal session never evicts.
	RegistryCapacity int `json:"registry_capacity" mapstructure:"registry-capacity"`
}

// EngineNames recognized by the runtime.
const (
	EngineCommandInjection   = "CommandInjectionEngine"
	EngineFileSystemExposure = "FileSystemExposureEngine"
	EngineToolsPoisoning     = "ToolsPoisoningEngine"
	EngineDataExfiltration   = "DataExfiltrationEngine"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: defaultListen,
		EventSource: &EventSourceConfig{
			QueueSize: 1024,
		},
		Engines: &EnginesConfig{
			Enabled: []string{
				EngineCommandInjection,
				EngineFileSystemExposure,
				EngineToolsPoisoning,
				EngineDataExfiltration,
			},
		},
		LLM: &LLMConfig{
			Model:        DefaultLLMModel,
			APIKeyEnv:    "MCPWATCH_LLM_API_KEY",
			Timeout:      30 * time.Second,
			MaxRetries:   3,
			RetryDelay:   2 * time.Second,
			RequestDelay: time.Second,
		},
		Exfil: &ExfilConfig{
			RegistryCapacity: 4096,
		},
		ShutdownGrace: 500 * time.Millisecond,
		Logging: &LogConfig{
			Level:         "info",
			EnableConsole: true,
			Filename:      "main.log",
			MaxSize:       10,
			MaxBackups:    5,
			MaxAge:        30,
			Compress:      true,
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.EventSource == nil {
		return fmt.Errorf("event-source section is required")
	}
	if c.EventSource.QueueSize <= 0 {
		return fmt.Errorf("event-source.queue-size must be positive, got %d", c.EventSource.QueueSize)
	}
	if c.Engines == nil || len(c.Engines.Enabled) == 0 {
		return fmt.Errorf("at least one engine must be enabled")
	}
	known := map[string]bool{
		EngineCommandInjection:   true,
		EngineFileSystemExposure: true,
		EngineToolsPoisoning:     true,
		EngineDataExfiltration:   true,
	}
	for _, name := range c.Engines.Enabled {
		if !known[name] {
			return fmt.Errorf("unknown engine %q", name)
		}
	}
	if c.LLM != nil {
		if c.LLM.MaxRetries < 0 {
			return fmt.Errorf("llm.max-retries must not be negative")
		}
		if c.LLM.Timeout <= 0 {
			return fmt.Errorf("llm.timeout must be positive")
		}
	}
	if c.Exfil != nil && c.Exfil.RegistryCapacity <= 0 {
		return fmt.Errorf("exfil.registry-capacity must be positive, got %d", c.Exfil.RegistryCapacity)
	}
	return nil
}

// EngineEnabled reports whether the named engine is configured to run.
func (c *Config) EngineEnabled(name string) bool {
	if c.Engines == nil {
		return false
	}
	for _, n := range c.Engines.Enabled {
		if n == name {
			return true
		}
	}
	return false
}

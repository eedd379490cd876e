// ABOUTME: Configuration loading and parsing for the chat gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Automation AutomationConfig `yaml:"automation"`
	Widget     WidgetConfig     `yaml:"widget"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration.
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds database configuration. An empty path selects the
// in-memory store (useful for demos and tests, nothing survives restart).
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AutomationConfig holds the automated responder configuration.
// An empty API key disables automated replies entirely.
type AutomationConfig struct {
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"-"`
	TimeoutRaw   string        `yaml:"timeout"`
}

// WidgetConfig holds settings handed to embedded widget clients.
// ReconnectMaxRetries = 0 means retry forever, the original widget
// behavior; the bound exists so deployments can cap it.
type WidgetConfig struct {
	ReconnectInterval    time.Duration `yaml:"-"`
	ReconnectIntervalRaw string        `yaml:"reconnect_interval"`
	ReconnectMaxRetries  int           `yaml:"reconnect_max_retries"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a
// parsed Config. Environment variables in the format ${VAR_NAME} are
// expanded. Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{HTTPAddr: ":8080"},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills unset fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Widget.ReconnectInterval == 0 {
		c.Widget.ReconnectInterval = 3 * time.Second
	}
	if c.Automation.Timeout == 0 {
		c.Automation.Timeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all configuration fields are coherent.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Widget.ReconnectInterval < 0 {
		return fmt.Errorf("widget.reconnect_interval must not be negative")
	}
	if c.Widget.ReconnectMaxRetries < 0 {
		return fmt.Errorf("widget.reconnect_max_retries must not be negative")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// parseDurations converts raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Widget.ReconnectIntervalRaw != "" {
		cfg.Widget.ReconnectInterval, err = time.ParseDuration(cfg.Widget.ReconnectIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_interval %q: %w", cfg.Widget.ReconnectIntervalRaw, err)
		}
	}

	if cfg.Automation.TimeoutRaw != "" {
		cfg.Automation.Timeout, err = time.ParseDuration(cfg.Automation.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing automation timeout %q: %w", cfg.Automation.TimeoutRaw, err)
		}
	}

	return nil
}

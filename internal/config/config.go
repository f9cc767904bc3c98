// ABOUTME: Configuration loading and parsing for parley
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/parley/internal/catalog"
	"github.com/2389/parley/internal/provider"
)

// Config represents the complete parley configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Engine    EngineConfig    `yaml:"engine" toml:"engine"`
	Providers ProvidersConfig `yaml:"providers" toml:"providers"`
	Ledger    LedgerConfig    `yaml:"ledger" toml:"ledger"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// EngineConfig holds orchestration settings
type EngineConfig struct {
	DefaultModel string        `yaml:"default_model" toml:"default_model"`
	TurnTimeout  time.Duration `yaml:"-" toml:"-"`
	EventBuffer  int           `yaml:"event_buffer" toml:"event_buffer"`

	TurnTimeoutRaw string `yaml:"turn_timeout" toml:"turn_timeout"`
}

// ProviderConfig holds credentials and endpoint overrides for one backend
type ProviderConfig struct {
	APIKey    string `yaml:"api_key" toml:"api_key"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	Model     string `yaml:"model" toml:"model"`
	MaxTokens int    `yaml:"max_tokens" toml:"max_tokens"`
}

// EchoConfig configures the local loopback model
type EchoConfig struct {
	Delay    time.Duration `yaml:"-" toml:"-"`
	DelayRaw string        `yaml:"delay" toml:"delay"`
}

// ProvidersConfig holds every backend's settings
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai" toml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic" toml:"anthropic"`
	Gemini    ProviderConfig `yaml:"gemini" toml:"gemini"`
	Echo      EchoConfig     `yaml:"echo" toml:"echo"`
}

// LedgerConfig holds turn ledger database configuration
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration that runs without a config file. API keys
// come from the conventional environment variables.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			HTTPAddr:           "127.0.0.1:8420",
			ShutdownTimeoutRaw: "10s",
		},
		Engine: EngineConfig{
			DefaultModel:   catalog.DefaultModel,
			TurnTimeoutRaw: "2m",
			EventBuffer:    64,
		},
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{APIKey: os.Getenv("OPENAI_API_KEY")},
			Anthropic: ProviderConfig{APIKey: os.Getenv("ANTHROPIC_API_KEY")},
			Gemini:    ProviderConfig{APIKey: os.Getenv("GEMINI_API_KEY")},
			Echo:      EchoConfig{DelayRaw: "40ms"},
		},
		Ledger: LedgerConfig{
			Enabled: false,
			Path:    defaultLedgerPath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
	// defaults are well-formed
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML. Fields
// omitted from the file keep their Default values.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, or the resolved default path when path is empty.
// A missing file yields Default. It returns the path that was read, or "".
func LoadOrDefault(path string) (*Config, string, error) {
	if path == "" {
		path = ResolvePath()
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// ResolvePath picks the config file location: PARLEY_CONFIG, then
// $XDG_CONFIG_HOME/parley/parley.yaml, then ~/.config/parley/parley.yaml.
func ResolvePath() string {
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "parley", "parley.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "parley.yaml"
	}
	return filepath.Join(home, ".config", "parley", "parley.yaml")
}

func defaultLedgerPath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "parley", "ledger.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "parley-ledger.db"
	}
	return filepath.Join(home, ".local", "share", "parley", "ledger.db")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"text", "json"}
)

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if !slices.Contains(catalog.KnownModels(), c.Engine.DefaultModel) {
		return fmt.Errorf("engine.default_model: %w: %q", catalog.ErrUnknownModel, c.Engine.DefaultModel)
	}
	if c.Engine.EventBuffer < 0 {
		return fmt.Errorf("engine.event_buffer must not be negative")
	}
	if c.Engine.TurnTimeout < 0 {
		return fmt.Errorf("engine.turn_timeout must not be negative")
	}

	if c.Ledger.Enabled && c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required when the ledger is enabled")
	}

	if c.Logging.Level != "" && !slices.Contains(validLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("logging.level %q must be one of %s", c.Logging.Level, strings.Join(validLevels, ", "))
	}
	if c.Logging.Format != "" && !slices.Contains(validFormats, strings.ToLower(c.Logging.Format)) {
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// CatalogProviders converts provider settings for catalog construction.
func (c *Config) CatalogProviders() catalog.Providers {
	convert := func(p ProviderConfig) provider.Config {
		return provider.Config{
			APIKey:    p.APIKey,
			BaseURL:   p.BaseURL,
			Model:     p.Model,
			MaxTokens: p.MaxTokens,
		}
	}
	return catalog.Providers{
		OpenAI:      convert(c.Providers.OpenAI),
		Anthropic:   convert(c.Providers.Anthropic),
		Gemini:      convert(c.Providers.Gemini),
		EchoDelay:   c.Providers.Echo.Delay,
		TurnTimeout: c.Engine.TurnTimeout,
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"engine.turn_timeout", cfg.Engine.TurnTimeoutRaw, &cfg.Engine.TurnTimeout},
		{"providers.echo.delay", cfg.Providers.Echo.DelayRaw, &cfg.Providers.Echo.Delay},
	}

	for _, f := range fields {
		if f.raw == "" {
			*f.dst = 0
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

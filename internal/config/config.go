// ABOUTME: Configuration loading and parsing for crewmux
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the temporal knobs and journal location.
const (
	DefaultStaleThreshold = 60 * time.Second
	DefaultTmuxTimeout    = 5 * time.Second
	DefaultJournalPath    = ".crewmux/journal.db"
)

// Config represents the complete crewmux configuration.
//
// The registry file path is deliberately absent: it is fixed relative to the
// working directory so every collaborator resolves the same registry.
type Config struct {
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Signatures SignaturesConfig `yaml:"signatures"`
	Journal    JournalConfig    `yaml:"journal"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DiscoveryConfig holds discovery timing and scoping configuration.
type DiscoveryConfig struct {
	StaleThreshold time.Duration `yaml:"-"`
	TmuxTimeout    time.Duration `yaml:"-"`
	Session        string        `yaml:"session"`

	// Raw string values for YAML unmarshaling
	StaleThresholdRaw string `yaml:"stale_threshold"`
	TmuxTimeoutRaw    string `yaml:"tmux_timeout"`
}

// SignaturesConfig extends the builtin worker signature set.
type SignaturesConfig struct {
	Extra []string `yaml:"extra"` // ad-hoc command names
	Packs []string `yaml:"packs"` // paths to TOML signature pack files
}

// JournalConfig holds the optional cycle journal configuration.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			StaleThreshold: DefaultStaleThreshold,
			TmuxTimeout:    DefaultTmuxTimeout,
		},
		Journal: JournalConfig{
			Path: DefaultJournalPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadDefault loads configuration from the first existing location:
// $CREWMUX_CONFIG, ./crewmux.yaml, then ~/.config/crewmux/config.yaml.
// Absence of any config file yields the defaults, not an error.
func LoadDefault() (*Config, error) {
	if envPath := os.Getenv("CREWMUX_CONFIG"); envPath != "" {
		return Load(envPath)
	}

	candidates := []string{"crewmux.yaml"}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configDir = filepath.Join(homeDir, ".config")
		}
	}
	if configDir != "" {
		candidates = append(candidates, filepath.Join(configDir, "crewmux", "config.yaml"))
	}

	for _, path := range candidates {
		cfg, err := Load(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return cfg, err
	}
	return Default(), nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all configuration fields are present and coherent.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Discovery.StaleThreshold <= 0 {
		return fmt.Errorf("discovery.stale_threshold must be positive")
	}
	if c.Discovery.TmuxTimeout <= 0 {
		return fmt.Errorf("discovery.tmux_timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}

	for _, pack := range c.Signatures.Packs {
		if pack == "" {
			return fmt.Errorf("signatures.packs entries must be non-empty paths")
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Discovery.StaleThresholdRaw != "" {
		cfg.Discovery.StaleThreshold, err = time.ParseDuration(cfg.Discovery.StaleThresholdRaw)
		if err != nil {
			return fmt.Errorf("parsing stale_threshold %q: %w", cfg.Discovery.StaleThresholdRaw, err)
		}
	}

	if cfg.Discovery.TmuxTimeoutRaw != "" {
		cfg.Discovery.TmuxTimeout, err = time.ParseDuration(cfg.Discovery.TmuxTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing tmux_timeout %q: %w", cfg.Discovery.TmuxTimeoutRaw, err)
		}
	}

	return nil
}

// ABOUTME: Configuration loading and parsing for crater
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete crater configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Nodes    NodesConfig    `yaml:"nodes"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds listener address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// NodesConfig holds node heartbeat timing configuration
type NodesConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	HeartbeatWindow   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatWindowRaw   string `yaml:"heartbeat_window"`
}

// DispatchConfig holds command timeout configuration
type DispatchConfig struct {
	CallTimeout   time.Duration `yaml:"-"`
	BackupTimeout time.Duration `yaml:"-"`

	CallTimeoutRaw   string `yaml:"call_timeout"`
	BackupTimeoutRaw string `yaml:"backup_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Defaults applied where the file leaves timing fields unset.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultHeartbeatWindow   = 45 * time.Second
	DefaultCallTimeout       = 30 * time.Second
	DefaultBackupTimeout     = 10 * time.Minute
)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Nodes.HeartbeatWindow > 0 && c.Nodes.HeartbeatInterval > 0 &&
		c.Nodes.HeartbeatWindow <= c.Nodes.HeartbeatInterval {
		return fmt.Errorf("nodes.heartbeat_window must exceed nodes.heartbeat_interval")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
// and fills in defaults where the file is silent.
func parseDurations(cfg *Config) error {
	parse := func(raw, name string, fallback time.Duration) (time.Duration, error) {
		if raw == "" {
			return fallback, nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("parsing %s %q: %w", name, raw, err)
		}
		return d, nil
	}

	var err error
	if cfg.Nodes.HeartbeatInterval, err = parse(cfg.Nodes.HeartbeatIntervalRaw, "heartbeat_interval", DefaultHeartbeatInterval); err != nil {
		return err
	}
	if cfg.Nodes.HeartbeatWindow, err = parse(cfg.Nodes.HeartbeatWindowRaw, "heartbeat_window", DefaultHeartbeatWindow); err != nil {
		return err
	}
	if cfg.Dispatch.CallTimeout, err = parse(cfg.Dispatch.CallTimeoutRaw, "call_timeout", DefaultCallTimeout); err != nil {
		return err
	}
	if cfg.Dispatch.BackupTimeout, err = parse(cfg.Dispatch.BackupTimeoutRaw, "backup_timeout", DefaultBackupTimeout); err != nil {
		return err
	}

	return nil
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level keygate configuration file.
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Usage     UsageConfig     `yaml:"usage"`
	Admin     AdminConfig     `yaml:"admin"`
	Routes    []RouteYAML     `yaml:"routes"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// AuthConfig holds the secrets and timeouts of credential verification.
type AuthConfig struct {
	HashSecret     string `yaml:"hash_secret"`
	AdminJWTSecret string `yaml:"admin_jwt_secret"`
	Header         string `yaml:"header"`
	VerifyTimeout  string `yaml:"verify_timeout"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
}

// RateLimitConfig holds system defaults for per-key rate limiting. An empty
// RedisURL selects the in-process counter store.
type RateLimitConfig struct {
	DefaultLimit  int    `yaml:"default_limit"`
	DefaultWindow string `yaml:"default_window"`
	Timeout       string `yaml:"timeout"`
	RedisURL      string `yaml:"redis_url"`
}

// UsageConfig controls the asynchronous usage recorder.
type UsageConfig struct {
	BufferSize   int    `yaml:"buffer_size"`
	BlockIfFull  bool   `yaml:"block_if_full"`
	WriteTimeout string `yaml:"write_timeout"`
}

// AdminConfig controls the admin API.
type AdminConfig struct {
	IPRatePerMinute int `yaml:"ip_rate_per_minute"`
}

// RouteYAML maps a path prefix to an upstream behind the request gate.
type RouteYAML struct {
	Prefix        string `yaml:"prefix"`
	Upstream      string `yaml:"upstream"`
	RequiredScope string `yaml:"required_scope,omitempty"`
	StripPrefix   bool   `yaml:"strip_prefix,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORSOrigins:     []string{"*"},
		},
		Auth: AuthConfig{
			Header:        "Authorization",
			VerifyTimeout: "2s",
		},
		Store: StoreConfig{
			Driver: DialectSQLite,
		},
		RateLimit: RateLimitConfig{
			DefaultLimit:  60,
			DefaultWindow: "60s",
			Timeout:       "500ms",
		},
		Usage: UsageConfig{
			BufferSize:   1024,
			WriteTimeout: "5s",
		},
		Admin: AdminConfig{
			IPRatePerMinute: 120,
		},
		Routes: []RouteYAML{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes cfg (or the defaults when nil) to a YAML file.
func WriteDefaultConfig(path string, cfg *YAMLConfig) error {
	if cfg == nil {
		cfg = DefaultYAMLConfig()
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

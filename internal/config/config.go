// Package config loads luabox settings from defaults, an optional YAML file
// and LUABOX_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caffeineduck/luabox/executor"
	"github.com/caffeineduck/luabox/marshal"
	"github.com/caffeineduck/luabox/sandbox"
	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable, e.g.
// LUABOX_TIMEOUT=5s or LUABOX_SANDBOX_ALLOW_JAIL_IO=true.
const EnvPrefix = "LUABOX"

type Config struct {
	Sandbox  sandbox.Config `envconfig:"SANDBOX"`
	Timeout  time.Duration  `envconfig:"TIMEOUT"`
	MaxDepth int            `envconfig:"MAX_DEPTH"`
	LogLevel string         `envconfig:"LOG_LEVEL"`
}

// fileConfig is the YAML layout. Durations are written as strings ("5s").
type fileConfig struct {
	Sandbox  sandbox.Config `yaml:"sandbox"`
	Timeout  string         `yaml:"timeout"`
	MaxDepth int            `yaml:"max_depth"`
	LogLevel string         `yaml:"log_level"`
}

func Default() Config {
	return Config{
		Sandbox:  sandbox.DefaultConfig(),
		Timeout:  executor.DefaultTimeout,
		MaxDepth: marshal.DefaultMaxDepth,
		LogLevel: "info",
	}
}

// Load returns the defaults overridden by the file at path (skipped when
// path is empty) and then by the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.applyYAML(data); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyYAML(data []byte) error {
	fc := fileConfig{
		Sandbox:  c.Sandbox,
		Timeout:  c.Timeout.String(),
		MaxDepth: c.MaxDepth,
		LogLevel: c.LogLevel,
	}
	if err := yaml.UnmarshalWithOptions(data, &fc, yaml.DisallowUnknownField()); err != nil {
		return err
	}

	timeout, err := time.ParseDuration(fc.Timeout)
	if err != nil {
		return fmt.Errorf("timeout: %w", err)
	}

	c.Sandbox = fc.Sandbox
	c.Timeout = timeout
	c.MaxDepth = fc.MaxDepth
	c.LogLevel = fc.LogLevel
	return nil
}

func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	if c.MaxDepth <= 0 {
		return fmt.Errorf("max depth must be positive, got %d", c.MaxDepth)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel ("debug", "info", "warn", "error").
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// EngineOptions converts the engine-level settings.
func (c Config) EngineOptions(logger *slog.Logger) []executor.Option {
	return []executor.Option{
		executor.WithTimeout(c.Timeout),
		executor.WithMaxDepth(c.MaxDepth),
		executor.WithLogger(logger),
	}
}

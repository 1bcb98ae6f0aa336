// Package config loads CLI configuration using Viper from a .synth.yaml
// file, SYNTH_ environment variables and command-line flags.
//
// Precedence, highest first: flags, SYNTH_CONFIG_FILE, SYNTH_<KEY>
// environment variables (dots become underscores), the config file,
// defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/oarkflow/synth"
	"github.com/oarkflow/synth/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SYNTH"

type Config struct {
	Dialect     string    `mapstructure:"dialect"`
	Directories []string  `mapstructure:"directories"`
	Autoescape  *bool     `mapstructure:"autoescape"`
	MaxDepth    int       `mapstructure:"max_depth"`
	AllowExec   bool      `mapstructure:"allow_exec"`
	Data        []string  `mapstructure:"data"`
	Log         LogConfig `mapstructure:"log"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// New returns a Viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every key so environment overrides apply during
// Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("dialect", "")
	v.SetDefault("directories", []string{})
	v.SetDefault("max_depth", 0)
	v.SetDefault("allow_exec", false)
	v.SetDefault("data", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	// No default: each dialect has its own.
	_ = v.BindEnv("autoescape")
}

// ReadFile reads path, or SYNTH_CONFIG_FILE, or .synth.yaml from the
// working directory. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	switch {
	case path != "":
		v.SetConfigFile(path)
	case os.Getenv(EnvPrefix+"_CONFIG_FILE") != "":
		v.SetConfigFile(os.Getenv(EnvPrefix + "_CONFIG_FILE"))
	default:
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".synth")
	}
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load unmarshals and validates the configuration.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	// Comma-separated lists from the environment arrive as one element.
	cfg.Directories = splitList(cfg.Directories)
	cfg.Data = splitList(cfg.Data)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks values that Unmarshal cannot.
func (c *Config) Validate() error {
	if c.Dialect != "" {
		if _, err := synth.ParseDialect(c.Dialect); err != nil {
			return err
		}
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative, got %d", c.MaxDepth)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Logger builds the configured structured logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.New(&logging.Config{Level: level, Format: c.Log.Format, Output: w}).Slog()
}

// Options translates the configuration into compile options. An empty
// dialect is left to the file extension.
func (c *Config) Options(logger *slog.Logger) []synth.Option {
	opts := []synth.Option{
		synth.WithMaxDepth(c.MaxDepth),
		synth.WithAllowExec(c.AllowExec),
		synth.WithLogger(logger),
	}
	if c.Autoescape != nil {
		opts = append(opts, synth.WithAutoescape(*c.Autoescape))
	}
	if c.Dialect != "" {
		d, _ := synth.ParseDialect(c.Dialect)
		opts = append(opts, synth.WithDialect(d))
	}
	if len(c.Directories) > 0 {
		opts = append(opts, synth.WithDirectories(c.Directories...))
	}
	return opts
}

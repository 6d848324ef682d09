// Package config loads and validates downloader configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/page-downloader/internal/logging"
)

// Storage backends accepted by output.backend.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Output   OutputConfig   `mapstructure:"output"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Logging  logging.Config `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// OutputConfig selects where pages are written.
type OutputConfig struct {
	Dir     string `mapstructure:"dir"`
	Backend string `mapstructure:"backend"`
}

// FetchConfig is fixed for the lifetime of the dispatcher.
type FetchConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	CAFile    string        `mapstructure:"ca_file"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// PoolConfig sizes the worker pool. Workers is clamped to the CPU count.
type PoolConfig struct {
	Workers int `mapstructure:"workers"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ProgressConfig toggles progress reporting.
type ProgressConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Bar     bool `mapstructure:"bar"`
}

// Load builds a Config from defaults, an optional file, and DOWNLOADER_*
// environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOWNLOADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.dir", "downloads")
	v.SetDefault("output.backend", BackendLocal)
	v.SetDefault("fetch.user_agent", "Downloader/1.0")
	v.SetDefault("fetch.ca_file", "")
	v.SetDefault("fetch.timeout", 20*time.Second)
	v.SetDefault("pool.workers", 4)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", false)
	v.SetDefault("logging.rotate_daily", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.bar", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Output.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Output.Dir) == "" {
			return errors.New("output.dir is required for the local backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("output.backend must be %q or %q, got %q", BackendLocal, BackendMemory, c.Output.Backend)
	}
	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be > 0")
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent is required")
	}
	if c.Pool.Workers <= 0 {
		return errors.New("pool.workers must be > 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

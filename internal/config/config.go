// Package config wraps viper behind a nil-safe accessor and loads the
// agent settings from file, environment, and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is a nil-safe view over a viper instance. Methods on a Config
// built from a nil viper return zero values instead of panicking.
type Config struct {
	v *viper.Viper
}

// New wraps an existing viper instance.
func New(v *viper.Viper) *Config {
	return &Config{v: v}
}

func (c *Config) GetString(key string) string {
	if c == nil || c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

func (c *Config) GetInt(key string) int {
	if c == nil || c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

func (c *Config) GetBool(key string) bool {
	if c == nil || c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

func (c *Config) GetDuration(key string) time.Duration {
	if c == nil || c.v == nil {
		return 0
	}
	return c.v.GetDuration(key)
}

func (c *Config) IsSet(key string) bool {
	if c == nil || c.v == nil {
		return false
	}
	return c.v.IsSet(key)
}

// Sub returns the subtree under key. A missing subtree yields an empty
// Config, never nil.
func (c *Config) Sub(key string) *Config {
	if c == nil || c.v == nil {
		return &Config{}
	}
	sub := c.v.Sub(key)
	if sub == nil {
		return &Config{}
	}
	return &Config{v: sub}
}

// Unmarshal decodes the configuration into target via mapstructure tags.
func (c *Config) Unmarshal(target any) error {
	if c == nil || c.v == nil {
		return nil
	}
	return c.v.Unmarshal(target)
}

// Settings is the agent's typed configuration.
type Settings struct {
	// DatabasePath is the shared SQLite file all collectors write to.
	DatabasePath string `mapstructure:"database_path"`
	// SnapshotDir receives one-shot JSON captures.
	SnapshotDir string `mapstructure:"snapshot_dir"`
	// SampleDelay is the window between the two reads of a rate sample.
	SampleDelay time.Duration `mapstructure:"sample_delay"`
	// Interval between collection runs when running continuously; zero
	// means collect once and exit.
	Interval time.Duration `mapstructure:"interval"`
	// Collectors names the enabled collectors; empty means all.
	Collectors []string `mapstructure:"collectors"`
	// TopProcesses bounds the per-run process detail rows.
	TopProcesses int `mapstructure:"top_processes"`
}

// Settings decodes the typed agent settings out of the configuration.
func (c *Config) Settings() (*Settings, error) {
	var s Settings
	if err := c.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &s, nil
}

// Load reads settings from the optional config file at path, environment
// variables prefixed HWPULSE_, and built-in defaults. Environment values
// take precedence over the file, which takes precedence over defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database_path", "log/data.db")
	v.SetDefault("snapshot_dir", "log/snapshots")
	v.SetDefault("sample_delay", "1s")
	v.SetDefault("interval", "0s")
	v.SetDefault("top_processes", 10)

	v.SetEnvPrefix("HWPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}
	return New(v), nil
}

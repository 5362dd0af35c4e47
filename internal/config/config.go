package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"timetree/pkg/timetree"
)

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig selects and locates the graph store.
type DatabaseConfig struct {
	Driver      string        `mapstructure:"driver"`
	URL         string        `mapstructure:"url"`
	Path        string        `mapstructure:"path"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// BindingConfig maps an entity property to the relationship that attaches it.
type BindingConfig struct {
	Property     string `mapstructure:"property"`
	Relationship string `mapstructure:"relationship"`
}

// TreeConfig is the raw form of timetree.Config.
type TreeConfig struct {
	Resolution        string          `mapstructure:"resolution"`
	Timezone          string          `mapstructure:"timezone"`
	RelationshipType  string          `mapstructure:"relationship_type"`
	Direction         string          `mapstructure:"direction"`
	TimestampProperty string          `mapstructure:"timestamp_property"`
	RootProperty      string          `mapstructure:"root_property"`
	AutoAttach        bool            `mapstructure:"auto_attach"`
	Bindings          []BindingConfig `mapstructure:"bindings"`
	MaxAttempts       int             `mapstructure:"max_attempts"`
}

// Config holds all runtime configuration.
// Values are populated from .timetree.yaml, TIMETREE_* env vars, and CLI flags.
type Config struct {
	Listen   string         `mapstructure:"listen"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Tree     TreeConfig     `mapstructure:"tree"`
}

// EnvPrefix is the prefix of environment overrides: TIMETREE_DATABASE_DRIVER
// sets database.driver.
const EnvPrefix = "TIMETREE"

// SetDefaults registers built-in defaults and environment lookup on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.url", "")
	v.SetDefault("database.path", "timetree.db")
	v.SetDefault("database.lock_timeout", 5*time.Second)
	v.SetDefault("tree.resolution", timetree.DefaultResolution.String())
	v.SetDefault("tree.timezone", "UTC")
	v.SetDefault("tree.relationship_type", timetree.DefaultRelationshipType)
	v.SetDefault("tree.direction", "INCOMING")
	v.SetDefault("tree.timestamp_property", timetree.DefaultTimestampProperty)
	v.SetDefault("tree.root_property", timetree.DefaultRootProperty)
	v.SetDefault("tree.auto_attach", false)
	v.SetDefault("tree.max_attempts", timetree.DefaultMaxAttempts)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the global viper instance, applying built-in
// defaults for any values not set by config file, environment, or flags.
func Load() (Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load over an explicit viper instance.
func LoadFrom(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	return cfg, nil
}

// TreeConfig converts the tree section into a validated timetree.Config.
func (c Config) TreeConfig() (timetree.Config, error) {
	t := c.Tree
	cfg := timetree.DefaultConfig()

	res, err := timetree.ParseResolution(t.Resolution)
	if err != nil {
		return cfg, fmt.Errorf("tree.resolution: %w", err)
	}
	if cfg, err = cfg.WithResolution(res); err != nil {
		return cfg, err
	}

	loc, err := timetree.ParseTimezone(t.Timezone)
	if err != nil {
		return cfg, fmt.Errorf("tree.timezone: %w", err)
	}
	if cfg, err = cfg.WithLocation(loc); err != nil {
		return cfg, err
	}

	if t.RelationshipType != "" {
		if cfg, err = cfg.WithRelationshipType(t.RelationshipType); err != nil {
			return cfg, fmt.Errorf("tree.relationship_type: %w", err)
		}
	}

	if t.Direction != "" {
		dir, err := timetree.ParseAttachDirection(t.Direction)
		if err != nil {
			return cfg, fmt.Errorf("tree.direction: %w", err)
		}
		if cfg, err = cfg.WithDirection(dir); err != nil {
			return cfg, err
		}
	}

	switch {
	case len(t.Bindings) > 0:
		bindings := make([]timetree.Binding, len(t.Bindings))
		for i, b := range t.Bindings {
			bindings[i] = timetree.Binding{Property: b.Property, RelationshipType: b.Relationship}
		}
		if cfg, err = cfg.WithBindings(bindings); err != nil {
			return cfg, fmt.Errorf("tree.bindings: %w", err)
		}
	case t.TimestampProperty != "":
		if cfg, err = cfg.WithTimestampProperty(t.TimestampProperty); err != nil {
			return cfg, fmt.Errorf("tree.timestamp_property: %w", err)
		}
	}

	cfg = cfg.WithRootProperty(t.RootProperty).WithAutoAttach(t.AutoAttach)
	if t.MaxAttempts > 0 {
		cfg = cfg.WithMaxAttempts(t.MaxAttempts)
	}
	return cfg, nil
}

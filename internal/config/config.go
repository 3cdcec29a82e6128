// Package config loads and saves the server's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/karthikpasupathy/yearview/internal/classify"
	"github.com/karthikpasupathy/yearview/internal/registry"
)

const (
	defaultListen        = "127.0.0.1:8080"
	defaultMetricsListen = "127.0.0.1:9090"
	defaultTimezone      = "UTC"
	defaultMaxBatch      = 5000
)

// LogConfig selects the logger flavour.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

// DisplayConfig holds the default day classification switches.
type DisplayConfig struct {
	ShowHolidays        bool `yaml:"show_holidays"`
	ShowLongWeekends    bool `yaml:"show_long_weekends"`
	ShowPastDatesAsGray bool `yaml:"show_past_dates_as_gray"`
}

// ImportConfig names the category receiving external events.
type ImportConfig struct {
	CategoryName  string `yaml:"category_name"`
	CategoryColor string `yaml:"category_color"`
}

// Config is the top-level server configuration.
type Config struct {
	// Listen is the gRPC listen address.
	Listen string `yaml:"listen"`
	// MetricsListen serves /metrics; empty disables it.
	MetricsListen string `yaml:"metrics_listen"`
	// DSN is the Postgres connection string; empty selects the in-memory store.
	DSN string `yaml:"dsn"`
	// JWTKey verifies bearer tokens (HS256).
	JWTKey string `yaml:"jwt_key"`
	// Timezone is the IANA zone used for "today" and for timed external events.
	Timezone string `yaml:"timezone"`
	// Dev enables gRPC reflection and a development logger.
	Dev bool `yaml:"dev"`

	Log     LogConfig     `yaml:"log"`
	Display DisplayConfig `yaml:"display"`
	Import  ImportConfig  `yaml:"import"`

	// MaxBatch caps the number of external events accepted per import.
	MaxBatch int `yaml:"max_batch"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        defaultListen,
		MetricsListen: defaultMetricsListen,
		Timezone:      defaultTimezone,
		Log:           LogConfig{Level: "info", Format: "json"},
		Display:       DisplayConfig{ShowHolidays: true, ShowLongWeekends: true, ShowPastDatesAsGray: true},
		Import:        ImportConfig{CategoryName: registry.DefaultName, CategoryColor: registry.DefaultColor},
		MaxBatch:      defaultMaxBatch,
	}
}

// Normalize fills zero values with defaults and canonicalises enums.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		c.Log.Level = "info"
	}
	c.Log.Format = strings.ToLower(c.Log.Format)
	if c.Log.Format != "console" {
		c.Log.Format = "json"
	}
	if c.Import.CategoryName == "" {
		c.Import.CategoryName = registry.DefaultName
	}
	if c.Import.CategoryColor == "" {
		c.Import.CategoryColor = registry.DefaultColor
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = defaultMaxBatch
	}
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if c.JWTKey == "" {
		return errors.New("jwt_key is empty")
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ClassifyOptions converts the display section.
func (c *Config) ClassifyOptions() classify.Options {
	return classify.Options{
		ShowHolidays:        c.Display.ShowHolidays,
		ShowLongWeekends:    c.Display.ShowLongWeekends,
		ShowPastDatesAsGray: c.Display.ShowPastDatesAsGray,
	}
}

// Reserved returns the import category identity.
func (c *Config) Reserved() registry.Reserved {
	return registry.Reserved{Name: c.Import.CategoryName, Color: c.Import.CategoryColor}
}

// Load reads path. Keys absent from the file keep their defaults. When the
// file does not exist a default one is written with 0600 permissions.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg := DefaultConfig()
		return cfg, Save(path, cfg)
	}
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes cfg atomically via a temp file and rename.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".yearview-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

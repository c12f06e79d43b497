// Package config loads engine settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
)

// Config is the complete runtime configuration.
type Config struct {
	// Root is the directory of the file store.
	Root    string        `yaml:"root"`
	Workers int           `yaml:"workers" validate:"gte=1,lte=4096"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=file memory sqlite postgres redis mongo"`
	// DSN is the database file for sqlite, a connection string for
	// postgres, an address or redis:// URL for redis and a mongodb:// URI
	// for mongo.
	DSN string `yaml:"dsn"`
	// Prefix namespaces redis keys.
	Prefix string `yaml:"prefix"`
	// Database and Collection name the mongo collection.
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"omitempty,max=64"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a file store under ./dalma-data with four workers.
func Default() Config {
	return Config{
		Root:    "dalma-data",
		Workers: 4,
		Store:   StoreConfig{Driver: DriverFile},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Namespace: "dalma"},
	}
}

// Load reads path over the defaults, applies the environment and
// validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from DALMA_* variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv("DALMA_ROOT"); ok {
		c.Root = v
	}
	if v, ok := os.LookupEnv("DALMA_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: DALMA_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v, ok := os.LookupEnv("DALMA_STORE_DRIVER"); ok {
		c.Store.Driver = v
	}
	if v, ok := os.LookupEnv("DALMA_STORE_DSN"); ok {
		c.Store.DSN = v
	}
	if v, ok := os.LookupEnv("DALMA_LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the settings each driver needs.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Store.Driver {
	case DriverFile:
		if c.Root == "" {
			return errors.New("config: root is required for the file store")
		}
	case DriverSQLite, DriverPostgres, DriverRedis, DriverMongo:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for the %s store", c.Store.Driver)
		}
	}
	return nil
}

// NewLogger builds the logger described by c.Log.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Log.Level))
	opts := &slog.HandlerOptions{Level: level}

	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Package config loads and validates ingestor configuration.
//
// Configuration comes from an optional YAML file (CONFIG_FILE) with
// environment variables taking precedence. Missing required values are a
// startup error, not a per-cycle error.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/clearinghouse/internal/logging"
)

type Config struct {
	Source  SourceConfig   `yaml:"source"`
	Catalog CatalogConfig  `yaml:"catalog"`
	Poll    PollConfig     `yaml:"poll"`
	Log     logging.Config `yaml:"log"`
	Server  ServerConfig   `yaml:"server"`
}

// SourceConfig describes the watched object-store location.
type SourceConfig struct {
	Backend    string `yaml:"backend"`     // "s3" | "gcs" | "local"
	Bucket     string `yaml:"bucket"`      // bucket name (s3/gcs)
	Prefix     string `yaml:"prefix"`      // key prefix to watch
	Suffix     string `yaml:"suffix"`      // recognized file suffix
	LocalDir   string `yaml:"local_dir"`   // directory for the local backend
	S3Endpoint string `yaml:"s3_endpoint"` // custom endpoint for B2/MinIO/R2
	S3Region   string `yaml:"s3_region"`
}

// CatalogConfig describes the relational store holding the ledger and
// the processed records.
type CatalogConfig struct {
	Backend     string `yaml:"backend"` // "postgres" | "memory"
	PostgresDSN string `yaml:"postgres_dsn"`
}

// PollConfig controls the scheduler cadence.
type PollConfig struct {
	Interval  time.Duration `yaml:"interval"`
	FileDelay time.Duration `yaml:"file_delay"` // pause between files within a cycle
}

// ServerConfig holds listen addresses for the operational surface.
type ServerConfig struct {
	HealthAddr string `yaml:"health_addr"` // /health, /ready, /metrics
}

// Load builds the configuration from the YAML file named by CONFIG_FILE
// (if set) and the environment, then validates it.
func Load() (Config, error) {
	cfg := Config{
		Source: SourceConfig{
			Backend: "s3",
			Prefix:  "incoming/",
			Suffix:  ".json",
		},
		Catalog: CatalogConfig{
			Backend: "postgres",
		},
		Poll: PollConfig{
			Interval: 30 * time.Second,
		},
		Log: logging.Config{
			Format: "text",
			Level:  "info",
		},
		Server: ServerConfig{
			HealthAddr: ":8080",
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg. Unparseable values
// are a startup error, never silently dropped.
func applyEnv(cfg *Config) error {
	setString(&cfg.Source.Backend, "SOURCE_BACKEND")
	setString(&cfg.Source.Bucket, "SOURCE_BUCKET")
	setString(&cfg.Source.Prefix, "SOURCE_PREFIX")
	setString(&cfg.Source.Suffix, "FILE_SUFFIX")
	setString(&cfg.Source.LocalDir, "LOCAL_DIR")
	setString(&cfg.Source.S3Endpoint, "S3_ENDPOINT")
	setString(&cfg.Source.S3Region, "S3_REGION")

	setString(&cfg.Catalog.Backend, "CATALOG_BACKEND")
	setString(&cfg.Catalog.PostgresDSN, "CATALOG_DSN")

	if err := setDuration(&cfg.Poll.Interval, "POLL_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Poll.FileDelay, "FILE_DELAY"); err != nil {
		return err
	}

	setString(&cfg.Log.Format, "LOG_FORMAT")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	if err := setBool(&cfg.Log.AddSource, "LOG_SOURCE"); err != nil {
		return err
	}

	setString(&cfg.Server.HealthAddr, "HEALTH_ADDR")
	return nil
}

// Validate checks that every required value is present and consistent.
func (c Config) Validate() error {
	switch c.Source.Backend {
	case "s3", "gcs":
		if c.Source.Bucket == "" {
			return fmt.Errorf("SOURCE_BUCKET is required for %s backend", c.Source.Backend)
		}
	case "local":
		if c.Source.LocalDir == "" {
			return fmt.Errorf("LOCAL_DIR is required for local backend")
		}
	default:
		return fmt.Errorf("unknown source backend: %q", c.Source.Backend)
	}

	switch c.Catalog.Backend {
	case "postgres":
		if c.Catalog.PostgresDSN == "" {
			return fmt.Errorf("CATALOG_DSN is required for postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown catalog backend: %q", c.Catalog.Backend)
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.FileDelay < 0 {
		return fmt.Errorf("file delay must not be negative, got %s", c.Poll.FileDelay)
	}
	if c.Source.Suffix == "" {
		return fmt.Errorf("file suffix must not be empty")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setDuration parses a Go duration; a bare integer is taken as seconds for
// compatibility with values like POLL_INTERVAL=30.
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	*dst = b
	return nil
}

// Package config provides configuration for embedding applications.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stratumdb/stratum/pkg/types"
)

// Config holds the settings for one database engine.
type Config struct {
	// DataDir is the base directory holding database directories.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Secret seeds the ID codec key. Two engines opened with the same
	// secret and salt encode identical tokens for identical rows.
	Secret string `json:"secret" yaml:"secret"`

	// Salt separates key derivations sharing a secret.
	Salt string `json:"salt" yaml:"salt"`

	// Defaults apply to tables created without an explicit config.
	Defaults types.TableConfig `json:"defaults" yaml:"defaults"`

	// Snapshot configuration
	Snapshot SnapshotConfig `json:"snapshot" yaml:"snapshot"`
}

// SnapshotConfig holds object storage settings for snapshots.
type SnapshotConfig struct {
	// Bucket is the S3 bucket name; empty disables remote snapshots.
	Bucket string `json:"bucket" yaml:"bucket"`

	// Prefix is prepended to every snapshot object key.
	Prefix string `json:"prefix" yaml:"prefix"`

	// Region is the AWS region for the bucket.
	Region string `json:"region" yaml:"region"`

	// Endpoint is an optional custom endpoint (MinIO, LocalStack).
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the defaults applied before any file or
// environment overrides.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
	}
}

// LoadFromFile loads configuration from a YAML or JSON file, picked by
// extension, on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides cfg from STRATUM_-prefixed environment
// variables.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("STRATUM_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STRATUM_SECRET"); v != "" {
		cfg.Secret = v
	}
	if v := os.Getenv("STRATUM_SALT"); v != "" {
		cfg.Salt = v
	}
	if v := os.Getenv("STRATUM_SNAPSHOT_BUCKET"); v != "" {
		cfg.Snapshot.Bucket = v
	}
	if v := os.Getenv("STRATUM_SNAPSHOT_PREFIX"); v != "" {
		cfg.Snapshot.Prefix = v
	}
	if v := os.Getenv("STRATUM_SNAPSHOT_REGION"); v != "" {
		cfg.Snapshot.Region = v
	}
	if v := os.Getenv("STRATUM_SNAPSHOT_ENDPOINT"); v != "" {
		cfg.Snapshot.Endpoint = v
	}
}

// Load reads the given file (when non-empty), then applies environment
// overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Secret == "" {
		return fmt.Errorf("secret must not be empty")
	}
	return nil
}

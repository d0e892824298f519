// Package config loads fieldsync configuration from YAML. Env overrides
// take precedence over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Config holds resolved paths and settings.
type Config struct {
	DBPath           string `yaml:"db_path"`
	UserID           string `yaml:"user_id"`
	BackendURL       string `yaml:"backend_url"`
	BackendAPIKey    string `yaml:"backend_api_key"`
	BackendToken     string `yaml:"backend_token"`
	HealthURL        string `yaml:"health_url"`
	ProbeIntervalSec int    `yaml:"probe_interval_sec"`
	SweepIntervalMin int    `yaml:"sweep_interval_min"`
	RetentionHours   int    `yaml:"retention_hours"`
	StorageQuotaMB   int64  `yaml:"storage_quota_mb"`
	PhotoBucket      string `yaml:"photo_bucket"`

	S3 S3 `yaml:"s3"`
}

// S3 configures the photo blob store.
type S3 struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PublicURL string `yaml:"public_url"`
}

// Load reads config from XDG config dir (fieldsync/config.yaml), or from
// FIELDSYNC_CONFIG if set. Missing file uses defaults.
// Env overrides: FIELDSYNC_DB_PATH, FIELDSYNC_USER_ID, FIELDSYNC_BACKEND_URL,
// FIELDSYNC_BACKEND_API_KEY, FIELDSYNC_BACKEND_TOKEN, FIELDSYNC_QUOTA_MB.
func Load() (*Config, error) {
	c := &Config{
		DBPath:           filepath.Join(xdg.DataHome, "fieldsync", "fieldsync.db"),
		ProbeIntervalSec: 15,
		SweepIntervalMin: 60,
		RetentionHours:   24,
		StorageQuotaMB:   200,
		PhotoBucket:      "visit-photos",
	}

	path := os.Getenv("FIELDSYNC_CONFIG")
	if path == "" {
		path = filepath.Join(xdg.ConfigHome, "fieldsync", "config.yaml")
	}
	b, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if v := os.Getenv("FIELDSYNC_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("FIELDSYNC_USER_ID"); v != "" {
		c.UserID = v
	}
	if v := os.Getenv("FIELDSYNC_BACKEND_URL"); v != "" {
		c.BackendURL = v
	}
	if v := os.Getenv("FIELDSYNC_BACKEND_API_KEY"); v != "" {
		c.BackendAPIKey = v
	}
	if v := os.Getenv("FIELDSYNC_BACKEND_TOKEN"); v != "" {
		c.BackendToken = v
	}
	if v := os.Getenv("FIELDSYNC_QUOTA_MB"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.StorageQuotaMB = n
		}
	}

	if c.HealthURL == "" && c.BackendURL != "" {
		c.HealthURL = c.BackendURL + "/rest/v1/"
	}
	return c, nil
}

// ProbeInterval returns the reachability probe interval.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

// SweepInterval returns the periodic sweep interval.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMin) * time.Minute
}

// Retention returns the draft/photo eviction window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// QuotaBytes returns the storage quota in bytes, 0 when unlimited.
func (c *Config) QuotaBytes() int64 {
	if c.StorageQuotaMB <= 0 {
		return 0
	}
	return c.StorageQuotaMB * 1024 * 1024
}

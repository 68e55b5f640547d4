package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the config file at path, applies defaults and environment
// overrides, and validates the result. An empty path yields the default
// configuration (overrides still apply), so the CLI works without a file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	if cfg.Root == "" {
		cfg.Root = "/var/lib/opsbus"
	}
	if cfg.Archive.ArchiveAgeHours == 0 {
		cfg.Archive.ArchiveAgeHours = 24
	}
	if cfg.Archive.CompressAgeDays == 0 {
		cfg.Archive.CompressAgeDays = 7
	}
	if cfg.Archive.DeleteAgeDays == 0 {
		cfg.Archive.DeleteAgeDays = 90
	}
	if cfg.Archive.RotationSizeMB == 0 {
		cfg.Archive.RotationSizeMB = 10
	}
	if cfg.Watch.SweepIntervalSeconds == 0 {
		cfg.Watch.SweepIntervalSeconds = 30
	}
	if cfg.Watch.ArchiveIntervalMinutes == 0 {
		cfg.Watch.ArchiveIntervalMinutes = 60
	}
}

// applyEnv lets deployment manifests override the storage root and lifecycle
// thresholds without shipping a config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OPSBUS_ROOT"); v != "" {
		cfg.Root = v
	}
	envInt("ARCHIVE_AGE_HOURS", &cfg.Archive.ArchiveAgeHours)
	envInt("COMPRESS_AGE_DAYS", &cfg.Archive.CompressAgeDays)
	envInt("DELETE_AGE_DAYS", &cfg.Archive.DeleteAgeDays)
	envInt("ROTATION_SIZE_MB", &cfg.Archive.RotationSizeMB)
}

func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return // malformed override keeps the configured value
	}
	*dst = n
}

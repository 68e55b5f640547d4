// Package config loads the opsbus YAML configuration, applies defaults and
// environment overrides, and validates the result.
package config

import "time"

// Config is the top-level YAML structure.
type Config struct {
	Version  string        `yaml:"version"`
	Root     string        `yaml:"root"`
	Archive  ArchiveConf   `yaml:"archive"`
	Handlers []HandlerBind `yaml:"handlers"`
	Watch    WatchConf     `yaml:"watch"`
}

// ArchiveConf holds the age-based lifecycle thresholds and the active-log
// rotation bound. Ages are measured from event creation time.
type ArchiveConf struct {
	ArchiveAgeHours int `yaml:"archive_age_hours"`
	CompressAgeDays int `yaml:"compress_age_days"`
	DeleteAgeDays   int `yaml:"delete_age_days"`
	RotationSizeMB  int `yaml:"rotation_size_mb"`
}

// HandlerBind routes an event-type pattern (exact type or namespace glob
// like "worker.*") to an external command. The command receives the full
// event JSON on stdin.
type HandlerBind struct {
	Pattern string   `yaml:"pattern"`
	Name    string   `yaml:"name"`
	Command []string `yaml:"command"`
}

// WatchConf tunes the long-running watch mode. Sweeps are still one-pass;
// watch only schedules them.
type WatchConf struct {
	SweepIntervalSeconds   int    `yaml:"sweep_interval_seconds"`
	ArchiveIntervalMinutes int    `yaml:"archive_interval_minutes"`
	MetricsAddr            string `yaml:"metrics_addr"`
}

// ArchiveAge returns the move-to-archive threshold as a duration.
func (c *Config) ArchiveAge() time.Duration {
	return time.Duration(c.Archive.ArchiveAgeHours) * time.Hour
}

// CompressAge returns the compression threshold as a duration.
func (c *Config) CompressAge() time.Duration {
	return time.Duration(c.Archive.CompressAgeDays) * 24 * time.Hour
}

// DeleteAge returns the deletion threshold as a duration.
func (c *Config) DeleteAge() time.Duration {
	return time.Duration(c.Archive.DeleteAgeDays) * 24 * time.Hour
}

// RotationSize returns the active-log rotation bound in bytes.
func (c *Config) RotationSize() int64 {
	return int64(c.Archive.RotationSizeMB) * 1024 * 1024
}

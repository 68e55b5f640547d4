package config

import (
	"fmt"
	"strings"
)

// Validate checks the config for:
//   - Monotonic lifecycle thresholds (archive < compress < delete)
//   - Positive rotation size
//   - Handler bindings with a pattern and a command
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Root == "" {
		errs = append(errs, "root is required")
	}
	a := cfg.ArchiveAge()
	c := cfg.CompressAge()
	d := cfg.DeleteAge()
	if !(a < c && c < d) {
		errs = append(errs, fmt.Sprintf(
			"lifecycle thresholds must be monotonic: archive (%s) < compress (%s) < delete (%s)", a, c, d))
	}
	if cfg.Archive.RotationSizeMB <= 0 {
		errs = append(errs, "archive.rotation_size_mb must be positive")
	}
	for i, h := range cfg.Handlers {
		if h.Pattern == "" {
			errs = append(errs, fmt.Sprintf("handlers[%d]: pattern is required", i))
		}
		if len(h.Command) == 0 {
			errs = append(errs, fmt.Sprintf("handlers[%d] (%s): command must not be empty", i, h.Pattern))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

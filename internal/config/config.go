// Package config loads scopetrace.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by Find.
const FileName = "scopetrace.toml"

// Config is the decoded configuration file.
type Config struct {
	Tracer TracerConfig `toml:"tracer"`
	View   ViewConfig   `toml:"view"`
	Report ReportConfig `toml:"report"`
	Log    LogConfig    `toml:"log"`
	Server ServerConfig `toml:"server"`
}

// TracerConfig configures capture buffers.
type TracerConfig struct {
	MaxCaptureSeconds    float64 `toml:"max_capture_seconds"`
	FlushThreshold       int     `toml:"flush_threshold"`
	FlushIntervalSeconds float64 `toml:"flush_interval_seconds"`
}

// ViewConfig configures the call-tree views and their swapper.
type ViewConfig struct {
	UpdateIntervalSeconds float64 `toml:"update_interval_seconds"`
	KeepAliveCycles       int     `toml:"keep_alive_cycles"`
	NodePoolLimit         int     `toml:"node_pool_limit"`
	DefaultSource         string  `toml:"default_source"`
}

// ReportConfig configures Chrome trace exports.
type ReportConfig struct {
	DurationSeconds float64 `toml:"duration_seconds"`
	Dir             string  `toml:"dir"`
	FilePattern     string  `toml:"file_pattern"`
	Category        string  `toml:"category"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Tracer: TracerConfig{
			MaxCaptureSeconds:    4,
			FlushThreshold:       16,
			FlushIntervalSeconds: 1.0 / 30.0,
		},
		View: ViewConfig{
			UpdateIntervalSeconds: 1.5,
			KeepAliveCycles:       2,
			NodePoolLimit:         10000,
		},
		Report: ReportConfig{
			DurationSeconds: 4,
			Dir:             ".",
			FilePattern:     "chrome_tracing_%03d.json",
			Category:        "scope",
		},
		Log: LogConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr: ":8088",
		},
	}
}

// Find looks for FileName in startDir and its parents.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load decodes the file at path over the defaults. An empty path means Find
// from the working directory, and no file found means defaults.
func Load(path string) (Config, error) {
	if path == "" {
		found, ok, err := Find(".")
		if err != nil {
			return Config{}, err
		}
		if !ok {
			return Default(), nil
		}
		path = found
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		slices.Sort(keys)
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Tracer.MaxCaptureSeconds <= 0 {
		errs = append(errs, errors.New("[tracer].max_capture_seconds must be positive"))
	}
	if c.Tracer.FlushThreshold <= 0 {
		errs = append(errs, errors.New("[tracer].flush_threshold must be positive"))
	}
	if c.Tracer.FlushIntervalSeconds <= 0 {
		errs = append(errs, errors.New("[tracer].flush_interval_seconds must be positive"))
	}
	if c.View.UpdateIntervalSeconds <= 0 {
		errs = append(errs, errors.New("[view].update_interval_seconds must be positive"))
	}
	if c.View.KeepAliveCycles <= 0 {
		errs = append(errs, errors.New("[view].keep_alive_cycles must be positive"))
	}
	if c.View.NodePoolLimit <= 0 {
		errs = append(errs, errors.New("[view].node_pool_limit must be positive"))
	}
	if c.Report.DurationSeconds <= 0 {
		errs = append(errs, errors.New("[report].duration_seconds must be positive"))
	}
	if !strings.Contains(c.Report.FilePattern, "%") {
		errs = append(errs, fmt.Errorf("[report].file_pattern %q has no number verb", c.Report.FilePattern))
	}
	return errors.Join(errs...)
}

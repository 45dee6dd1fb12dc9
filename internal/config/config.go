// Package config loads lintscale.toml and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ZanzyTHEbar/lintscale"
)

// FileName is the config file looked up at the workspace root.
const FileName = "lintscale.toml"

// Cache backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

type RunConfig struct {
	Jobs     int           `toml:"jobs"`
	Bail     bool          `toml:"bail"`
	Mode     string        `toml:"mode"`
	FailOn   string        `toml:"fail_on"`
	Timeout  time.Duration `toml:"timeout"`
	Retries  int           `toml:"retries"`
	LogLevel string        `toml:"log_level"`
}

type SelectionConfig struct {
	Only            []string        `toml:"only"`
	Sensitivity     string          `toml:"sensitivity"`
	Categories      map[string]bool `toml:"categories"`
	WorkspaceScoped bool            `toml:"workspace_scoped"`
}

type CacheConfig struct {
	Enabled bool   `toml:"enabled"`
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
}

type DiagnosticsConfig struct {
	Suppress          []string `toml:"suppress"`
	SeverityRules     []string `toml:"severity_rules"`
	RestrictToTargets bool     `toml:"restrict_to_targets"`
}

// Config mirrors the sections of lintscale.toml.
type Config struct {
	Catalog     string                    `toml:"catalog"`
	Run         RunConfig                 `toml:"run"`
	Selection   SelectionConfig           `toml:"selection"`
	Cache       CacheConfig               `toml:"cache"`
	Diagnostics DiagnosticsConfig         `toml:"diagnostics"`
	Tools       map[string]map[string]any `toml:"tools"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Run: RunConfig{
			Jobs:     runtime.NumCPU(),
			Mode:     string(lintscale.ModeCheck),
			FailOn:   string(lintscale.SeverityError),
			Timeout:  5 * time.Minute,
			LogLevel: "info",
		},
		Selection: SelectionConfig{
			Sensitivity: lintscale.SensitivityStandard.String(),
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: BackendFile,
			Dir:     ".lintscale-cache",
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates the result.
// A missing file is not an error when optional is set.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		switch {
		case err == nil:
			if undecoded := meta.Undecoded(); len(undecoded) > 0 {
				keys := make([]string, len(undecoded))
				for i, k := range undecoded {
					keys[i] = k.String()
				}
				return Config{}, lintscale.NewConfigurationError(fmt.Sprintf("%s: unknown keys %s", path, strings.Join(keys, ", ")), nil)
			}
		case optional && errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, lintscale.NewConfigurationError(fmt.Sprintf("config load failed (%s)", path), err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides values from LINTSCALE_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("LINTSCALE_JOBS"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return lintscale.NewConfigurationError("LINTSCALE_JOBS must be an integer", err)
		}
		c.Run.Jobs = n
	}
	if v, ok := lookup("LINTSCALE_CACHE_DIR"); ok && v != "" {
		c.Cache.Dir = v
	}
	if v, ok := lookup("LINTSCALE_NO_CACHE"); ok && v != "" {
		off, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return lintscale.NewConfigurationError("LINTSCALE_NO_CACHE must be a boolean", err)
		}
		if off {
			c.Cache.Enabled = false
		}
	}
	if v, ok := lookup("LINTSCALE_LOG_LEVEL"); ok && v != "" {
		c.Run.LogLevel = v
	}
	return nil
}

// Validate checks every enumerated value.
func (c Config) Validate() error {
	if c.Run.Jobs < 1 {
		return lintscale.NewConfigurationError(fmt.Sprintf("run.jobs must be positive, got %d", c.Run.Jobs), nil)
	}
	if c.Run.Retries < 0 {
		return lintscale.NewConfigurationError(fmt.Sprintf("run.retries must not be negative, got %d", c.Run.Retries), nil)
	}
	if _, err := c.Mode(); err != nil {
		return err
	}
	if _, err := c.FailOn(); err != nil {
		return err
	}
	if _, err := lintscale.ParseSensitivity(c.Selection.Sensitivity); err != nil {
		return lintscale.NewConfigurationError("selection.sensitivity", err)
	}
	switch c.Cache.Backend {
	case BackendMemory, BackendFile, BackendSQLite:
	default:
		return lintscale.NewConfigurationError(fmt.Sprintf("cache.backend %q is not one of memory, file, sqlite", c.Cache.Backend), nil)
	}
	return nil
}

// Mode returns the parsed run mode.
func (c Config) Mode() (lintscale.RunMode, error) {
	switch m := lintscale.RunMode(strings.ToLower(c.Run.Mode)); m {
	case lintscale.ModeCheck, lintscale.ModeFix:
		return m, nil
	case "":
		return lintscale.ModeCheck, nil
	default:
		return "", lintscale.NewConfigurationError(fmt.Sprintf("run.mode %q is not check or fix", c.Run.Mode), nil)
	}
}

// FailOn returns the severity threshold that fails a run.
func (c Config) FailOn() (lintscale.Severity, error) {
	switch s := lintscale.Severity(strings.ToLower(c.Run.FailOn)); s {
	case lintscale.SeverityError, lintscale.SeverityWarning, lintscale.SeverityNote:
		return s, nil
	case "":
		return lintscale.SeverityError, nil
	default:
		return "", lintscale.NewConfigurationError(fmt.Sprintf("run.fail_on %q is not error, warning or note", c.Run.FailOn), nil)
	}
}

// Modifiers converts the selection section into selection modifiers.
func (c Config) Modifiers() (lintscale.SelectionModifiers, error) {
	sens, err := lintscale.ParseSensitivity(c.Selection.Sensitivity)
	if err != nil {
		return lintscale.SelectionModifiers{}, lintscale.NewConfigurationError("selection.sensitivity", err)
	}
	mode, err := c.Mode()
	if err != nil {
		return lintscale.SelectionModifiers{}, err
	}
	return lintscale.SelectionModifiers{
		Only:            c.Selection.Only,
		Sensitivity:     sens,
		Categories:      c.Selection.Categories,
		WorkspaceScoped: c.Selection.WorkspaceScoped,
		Mode:            mode,
	}, nil
}

// CacheDir resolves the cache directory against the workspace root.
func (c Config) CacheDir(root string) string {
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(root, c.Cache.Dir)
}

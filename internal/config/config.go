// Package config loads the project configuration from .cppmodel.yaml.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in a project root.
const FileName = ".cppmodel.yaml"

// Config holds the settings of one indexed project.
type Config struct {
	// IncludePaths are searched for angled includes, and for quoted
	// includes after the including file's directory. Relative entries are
	// resolved against the project root.
	IncludePaths []string `yaml:"include_paths"`
	// Macros are predefined for every parse. An empty value defines the
	// macro as 1.
	Macros map[string]string `yaml:"macros"`
	// Includes and Excludes are doublestar globs matched against paths
	// relative to the project root.
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`

	Workers           int           `yaml:"workers"`
	ReparseDependents bool          `yaml:"reparse_dependents"`
	Debounce          time.Duration `yaml:"debounce"`
	// Database is where export writes the SQLite snapshot.
	Database string        `yaml:"database"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Macros: map[string]string{},
		Includes: []string{
			"**/*.c", "**/*.cc", "**/*.cpp", "**/*.cxx", "**/*.c++",
			"**/*.h", "**/*.hh", "**/*.hpp", "**/*.hxx", "**/*.inl", "**/*.ipp", "**/*.tpp",
		},
		Excludes: []string{
			"**/.git/**", "**/build/**", "**/cmake-build-*/**", "**/node_modules/**",
			"**/third_party/**", "**/vendor/**",
		},
		Debounce: 200 * time.Millisecond,
		Database: ".cppmodel/model.db",
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromDir loads dir/.cppmodel.yaml, then dir/.cppmodel/config.yaml,
// falling back to the defaults.
func LoadFromDir(dir string) (*Config, error) {
	for _, path := range []string{
		filepath.Join(dir, FileName),
		filepath.Join(dir, ".cppmodel", "config.yaml"),
	} {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return DefaultConfig(), nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects malformed globs, negative values and unknown levels.
func (c *Config) Validate() error {
	for _, p := range append(append([]string(nil), c.Includes...), c.Excludes...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid glob %q", p)
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %s", c.Debounce)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LogLevel parses Logging.Level. An empty level is info.
func (c *Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if c.Logging.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}
	return lvl, nil
}

// PredefinedMacros returns Macros with empty values replaced by "1".
func (c *Config) PredefinedMacros() map[string]string {
	out := make(map[string]string, len(c.Macros))
	for k, v := range c.Macros {
		if v == "" {
			v = "1"
		}
		out[k] = v
	}
	return out
}

// ResolvedIncludePaths returns IncludePaths made absolute against root.
func (c *Config) ResolvedIncludePaths(root string) []string {
	out := make([]string, 0, len(c.IncludePaths))
	for _, p := range c.IncludePaths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}

// Matches reports whether rel, a slash-separated path relative to the
// project root, is included and not excluded.
func (c *Config) Matches(rel string) bool {
	rel = filepath.ToSlash(rel)
	return matchAny(c.Includes, rel) && !matchAny(c.Excludes, rel)
}

// ExcludesDir reports whether a directory and everything below it is
// excluded.
func (c *Config) ExcludesDir(rel string) bool {
	rel = strings.TrimSuffix(filepath.ToSlash(rel), "/")
	if rel == "." || rel == "" {
		return false
	}
	return matchAny(c.Excludes, rel+"/") || matchAny(c.Excludes, rel+"/x")
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// Package config provides centralized configuration for the git graph server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoGitDir       = errors.New("not a git metadata directory")
	ErrInvalidPattern = errors.New("invalid ignore pattern")
)

// Config holds application-wide configuration.
type Config struct {
	// GitDir is the repository metadata directory, or a worktree root
	// containing one.
	GitDir string `yaml:"git_dir"`
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`
	// StaticDir, when set, is served at / for the viewer.
	StaticDir string `yaml:"static_dir"`

	// Quiescence is how long the repository must be quiet before a flush.
	Quiescence time.Duration `yaml:"quiescence"`
	// MaxDelay caps how long continuous activity can postpone a flush.
	// Zero disables the cap.
	MaxDelay time.Duration `yaml:"max_delay"`
	// IgnorePatterns are matched against entry names in shard directories.
	IgnorePatterns []string `yaml:"ignore"`
	// RefIgnorePatterns are matched against entry names in refs/heads.
	RefIgnorePatterns []string `yaml:"ref_ignore"`

	LogFile       string `yaml:"log_file"`
	LogMaxSize    int    `yaml:"log_max_size"` // megabytes
	LogMaxBackups int    `yaml:"log_max_backups"`
	Debug         bool   `yaml:"debug"`
}

// DefaultConfig returns the default configuration, reading from environment variables.
func DefaultConfig() *Config {
	cfg := &Config{
		GitDir:            ".",
		Addr:              ":5000",
		Quiescence:        500 * time.Millisecond,
		IgnorePatterns:    []string{"*.lock", "tmp_*"},
		RefIgnorePatterns: []string{"*.lock"},
		LogMaxSize:        1,
		LogMaxBackups:     2,
	}

	if v := os.Getenv("GITVIZ_GIT_DIR"); v != "" {
		cfg.GitDir = v
	}
	if v := os.Getenv("GITVIZ_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("GITVIZ_STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if d, err := time.ParseDuration(os.Getenv("GITVIZ_QUIESCENCE")); err == nil && d > 0 {
		cfg.Quiescence = d
	}
	if d, err := time.ParseDuration(os.Getenv("GITVIZ_MAX_DELAY")); err == nil && d >= 0 {
		cfg.MaxDelay = d
	}
	if v := os.Getenv("GITVIZ_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if n, err := strconv.Atoi(os.Getenv("GITVIZ_LOG_MAX_SIZE")); err == nil && n > 0 {
		cfg.LogMaxSize = n
	}
	if n, err := strconv.Atoi(os.Getenv("GITVIZ_LOG_MAX_BACKUPS")); err == nil && n >= 0 {
		cfg.LogMaxBackups = n
	}
	if os.Getenv("GITVIZ_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		cfg.Debug = true
	}
	return cfg
}

// Load returns the defaults overlaid with the YAML file at path. Keys absent
// from the file keep their default value.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}
	return cfg, nil
}

// ResolveGitDir returns the absolute metadata directory. A worktree root is
// accepted and resolved to its .git directory.
func (c *Config) ResolveGitDir() (string, error) {
	abs, err := filepath.Abs(c.GitDir)
	if err != nil {
		return "", err
	}
	if isDir(filepath.Join(abs, ".git")) {
		abs = filepath.Join(abs, ".git")
	}
	for _, sub := range []string{"objects", filepath.Join("refs", "heads")} {
		if !isDir(filepath.Join(abs, sub)) {
			return "", fmt.Errorf("%w: %s", ErrNoGitDir, abs)
		}
	}
	return abs, nil
}

// Validate checks that the configuration can be used to start the server.
// On success GitDir holds the resolved metadata directory.
func (c *Config) Validate() error {
	dir, err := c.ResolveGitDir()
	if err != nil {
		return err
	}
	c.GitDir = dir

	if c.Quiescence <= 0 {
		return fmt.Errorf("quiescence must be positive, got %s", c.Quiescence)
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("max delay must not be negative, got %s", c.MaxDelay)
	}
	for _, p := range append(slices.Clone(c.IgnorePatterns), c.RefIgnorePatterns...) {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, p)
		}
	}
	if c.StaticDir != "" && !isDir(c.StaticDir) {
		return fmt.Errorf("static dir %s is not a directory", c.StaticDir)
	}
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

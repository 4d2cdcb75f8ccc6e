// Package config loads and validates pygraph build settings.
//
// Settings come from <root>/pygraph.yaml when present. Every field is
// optional; a missing file yields Default().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the project config file.
const FileName = "pygraph.yaml"

// ErrInvalidConfig is returned by Validate and Load for unusable settings.
var ErrInvalidConfig = errors.New("invalid config")

// SyntaxMode selects how partially broken units are treated.
type SyntaxMode string

const (
	// SyntaxStrict turns any syntax error into a ParseFailure.
	SyntaxStrict SyntaxMode = "strict"

	// SyntaxRecover keeps the recovered tree and reports the errors as
	// diagnostics.
	SyntaxRecover SyntaxMode = "recover"
)

// Config holds build settings.
type Config struct {
	// Extensions selects which files are units.
	Extensions []string `yaml:"extensions"`

	// ExcludeDirs lists directory names (or simple globs) never descended into.
	ExcludeDirs []string `yaml:"exclude_dirs"`

	// MaxFileSize is the largest unit, in bytes, that will be read.
	MaxFileSize int64 `yaml:"max_file_size"`

	// ParseTimeout bounds a single unit's parse.
	ParseTimeout time.Duration `yaml:"parse_timeout"`

	// Workers bounds per-unit parallelism.
	Workers int `yaml:"workers"`

	SyntaxMode SyntaxMode `yaml:"syntax_mode"`

	// IncludePrivate keeps entities whose names start with an underscore.
	IncludePrivate bool `yaml:"include_private"`

	// SkipDunderCalls drops calls to __dunder__ names from relationship
	// extraction.
	SkipDunderCalls bool `yaml:"skip_dunder_calls"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Extensions: []string{".py"},
		ExcludeDirs: []string{
			"__pycache__",
			".git",
			".venv",
			"venv",
			"env",
			".tox",
			"dist",
			"build",
			".eggs",
			"*.egg-info",
			".pygraph",
		},
		MaxFileSize:    10 * 1024 * 1024,
		ParseTimeout:   10 * time.Second,
		Workers:        runtime.GOMAXPROCS(0),
		SyntaxMode:     SyntaxStrict,
		IncludePrivate: true,
	}
}

// Load reads pygraph.yaml from the project root on top of the defaults.
// A missing file is not an error.
func Load(root string) (*Config, error) {
	cfg := Default()
	if root == "" {
		return cfg, nil
	}

	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be greater than 0", ErrInvalidConfig)
	case c.MaxFileSize <= 0:
		return fmt.Errorf("%w: max_file_size must be greater than 0", ErrInvalidConfig)
	case len(c.Extensions) == 0:
		return fmt.Errorf("%w: extensions cannot be empty", ErrInvalidConfig)
	case c.ParseTimeout < 0:
		return fmt.Errorf("%w: parse_timeout cannot be negative", ErrInvalidConfig)
	}

	switch c.SyntaxMode {
	case SyntaxStrict, SyntaxRecover:
	default:
		return fmt.Errorf("%w: unknown syntax_mode %q", ErrInvalidConfig, c.SyntaxMode)
	}

	for _, pattern := range c.ExcludeDirs {
		if _, err := glob.Compile(pattern); err != nil {
			return fmt.Errorf("%w: exclude_dirs pattern %q: %v", ErrInvalidConfig, pattern, err)
		}
	}
	return nil
}

// ShouldParseExtension reports whether files with ext are units.
// The leading dot is optional on both sides.
func (c *Config) ShouldParseExtension(ext string) bool {
	ext = strings.TrimPrefix(ext, ".")
	for _, e := range c.Extensions {
		if strings.TrimPrefix(e, ".") == ext {
			return true
		}
	}
	return false
}

// ShouldExcludeDir reports whether a directory with the given base name is
// skipped during walking.
func (c *Config) ShouldExcludeDir(name string) bool {
	for _, pattern := range c.ExcludeDirs {
		if pattern == name {
			return true
		}
		if !strings.ContainsAny(pattern, "*?[{") {
			continue
		}
		if g, err := glob.Compile(pattern); err == nil && g.Match(name) {
			return true
		}
	}
	return false
}

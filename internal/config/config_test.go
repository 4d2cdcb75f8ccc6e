package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()

	assert.Equal(t, []string{".py"}, cfg.Extensions)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, 10*time.Second, cfg.ParseTimeout)
	assert.Equal(t, SyntaxStrict, cfg.SyntaxMode)
	assert.True(t, cfg.IncludePrivate)
	assert.Positive(t, cfg.Workers)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"ZeroWorkers", func(c *Config) { c.Workers = 0 }},
		{"ZeroMaxFileSize", func(c *Config) { c.MaxFileSize = 0 }},
		{"NoExtensions", func(c *Config) { c.Extensions = nil }},
		{"NegativeTimeout", func(c *Config) { c.ParseTimeout = -time.Second }},
		{"UnknownSyntaxMode", func(c *Config) { c.SyntaxMode = "lenient" }},
		{"BadExcludePattern", func(c *Config) { c.ExcludeDirs = []string{"[abc"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestShouldParseExtension(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.True(t, cfg.ShouldParseExtension(".py"))
	assert.True(t, cfg.ShouldParseExtension("py"))
	assert.False(t, cfg.ShouldParseExtension(".pyc"))
	assert.False(t, cfg.ShouldParseExtension(".go"))
}

func TestShouldExcludeDir(t *testing.T) {
	t.Parallel()

	cfg := Default()
	tests := []struct {
		name     string
		expected bool
	}{
		{"__pycache__", true},
		{".venv", true},
		{"mypkg.egg-info", true},
		{"models", false},
		{"src", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, cfg.ShouldExcludeDir(tt.name))
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("MissingFile", func(t *testing.T) {
		t.Parallel()
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, Default().Extensions, cfg.Extensions)
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		content := `
extensions: [".py", ".pyi"]
parse_timeout: 2s
workers: 3
syntax_mode: recover
skip_dunder_calls: true
`
		require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(content), 0o644))

		cfg, err := Load(root)
		require.NoError(t, err)
		assert.Equal(t, []string{".py", ".pyi"}, cfg.Extensions)
		assert.Equal(t, 2*time.Second, cfg.ParseTimeout)
		assert.Equal(t, 3, cfg.Workers)
		assert.Equal(t, SyntaxRecover, cfg.SyntaxMode)
		assert.True(t, cfg.SkipDunderCalls)
		assert.Equal(t, int64(10*1024*1024), cfg.MaxFileSize, "unset fields keep defaults")
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("workers: [1"), 0o644))

		_, err := Load(root)
		assert.Error(t, err)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("workers: 0\n"), 0o644))

		_, err := Load(root)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

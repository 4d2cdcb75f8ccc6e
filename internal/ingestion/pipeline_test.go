package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/pygraph/internal/config"
	"github.com/Benny93/pygraph/internal/graph"
	"github.com/Benny93/pygraph/internal/metrics"
	"github.com/Benny93/pygraph/internal/parsers"
	"github.com/Benny93/pygraph/internal/source"
)

// testProject mirrors a small multi-package Python project.
var testProject = map[string]string{
	"utils.py": `"""Utility functions."""


def helper_function():
    return "helper"


def another_helper(x):
    return helper_function() + str(x)
`,
	"models/__init__.py": `from .user import User
from .product import Product
`,
	"models/user.py": `class User:
    def __init__(self, name):
        self.name = name

    def greet(self):
        return f"Hello, {self.name}"
`,
	"models/product.py": `from utils import helper_function


class Product:
    def __init__(self, title, price):
        self.title = title
        self.price = price

    def describe(self):
        return helper_function()
`,
	"app.py": `from models import User, Product


def main():
    user = User("ada")
    user.greet()
    Product("book", 3).describe()
`,
}

const malformedSource = `"""Module with intentional syntax errors for testing error handling."""


def broken_function(
    # Missing closing parenthesis and colon
    return "This won't parse"


class BrokenClass
    # Missing colon
    def method(self):
        pass
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

func withFile(files map[string]string, path, content string) map[string]string {
	out := make(map[string]string, len(files)+1)
	for k, v := range files {
		out[k] = v
	}
	out[path] = content
	return out
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workers = 4
	return cfg
}

func edgeStrings(g *graph.CodeGraph) []string {
	out := make([]string, 0, g.EdgeCount())
	for _, e := range g.Edges() {
		out = append(out, e.String())
	}
	return out
}

func TestBuilder_Build(t *testing.T) {
	t.Parallel()
	root := writeProject(t, testProject)

	var mu sync.Mutex
	var phases []Phase
	b := NewBuilder(
		WithConfig(testConfig()),
		WithProgress(func(phase Phase, done, total int) {
			mu.Lock()
			defer mu.Unlock()
			if len(phases) == 0 || phases[len(phases)-1] != phase {
				phases = append(phases, phase)
			}
		}),
	)
	assert.Equal(t, PhaseIdle, b.Phase())

	g, err := b.Build(context.Background(), root)
	require.NoError(t, err)
	require.NotNil(t, g)
	assert.Equal(t, PhaseDone, b.Phase())

	t.Run("phases run in order", func(t *testing.T) {
		assert.Equal(t, []Phase{
			PhaseLoading, PhaseParsing, PhaseExtracting, PhaseResolving, PhaseAssembling,
		}, phases)
	})

	t.Run("report", func(t *testing.T) {
		report := g.Report()
		require.NotNil(t, report)
		assert.NotEmpty(t, report.BuildID)
		assert.Equal(t, 5, report.Units)
		assert.Equal(t, 5, report.Parsed)
		assert.Empty(t, report.Failures)
		assert.Positive(t, report.Duration)
	})

	t.Run("entities", func(t *testing.T) {
		assert.Equal(t, []string{"app.py", "models/__init__.py", "models/product.py", "models/user.py", "utils.py"}, g.Units())
		for _, id := range []string{
			"utils.py::helper_function",
			"models/user.py::User.greet",
			"models/product.py::Product.describe",
			"app.py::main",
		} {
			assert.NotNil(t, g.Entity(id), id)
		}
	})

	t.Run("cross-unit edges", func(t *testing.T) {
		edges := edgeStrings(g)
		assert.Contains(t, edges, "instantiates(app.py::main -> models/user.py::User)")
		assert.Contains(t, edges, "calls(app.py::main -> models/user.py::User.greet)")
		assert.Contains(t, edges, "instantiates(app.py::main -> models/product.py::Product)")
		assert.Contains(t, edges, "calls(models/product.py::Product.describe -> utils.py::helper_function)")
		assert.Contains(t, edges, "imports(models/__init__.py -> models/user.py)")
		assert.Contains(t, edges, "imports(app.py -> models/__init__.py)")
	})
}

func TestBuilder_Deterministic(t *testing.T) {
	t.Parallel()
	root := writeProject(t, withFile(testProject, "broken.py", malformedSource))

	first, err := NewBuilder(WithConfig(testConfig())).Build(context.Background(), root)
	require.NoError(t, err)

	for _, workers := range []int{1, 2, 8} {
		cfg := testConfig()
		cfg.Workers = workers
		g, err := NewBuilder(WithConfig(cfg)).Build(context.Background(), root)
		require.NoError(t, err)

		assert.Equal(t, first.EntityIDs(), g.EntityIDs(), "workers=%d", workers)
		assert.Equal(t, edgeStrings(first), edgeStrings(g), "workers=%d", workers)
		assert.Equal(t, first.Report().Failures, g.Report().Failures, "workers=%d", workers)
		assert.NotEqual(t, first.Report().BuildID, g.Report().BuildID)
	}
}

func TestBuilder_ParseFailureIsolation(t *testing.T) {
	t.Parallel()

	clean, err := NewBuilder(WithConfig(testConfig())).Build(context.Background(), writeProject(t, testProject))
	require.NoError(t, err)

	g, err := NewBuilder(WithConfig(testConfig())).Build(context.Background(),
		writeProject(t, withFile(testProject, "broken.py", malformedSource)))
	require.NoError(t, err)

	report := g.Report()
	require.Len(t, report.Failures, 1)
	failure := report.Failures[0]
	assert.Equal(t, "broken.py", failure.Unit)
	assert.Contains(t, failure.Message, "at line", failure.Message)
	assert.Equal(t, 6, report.Units)
	assert.Equal(t, 5, report.Parsed)

	assert.Empty(t, g.EntitiesInUnit("broken.py"), "a failed unit contributes no entities")
	assert.Equal(t, clean.EntityIDs(), g.EntityIDs())
	assert.Equal(t, edgeStrings(clean), edgeStrings(g))
}

func TestBuilder_RecoverMode(t *testing.T) {
	t.Parallel()
	root := writeProject(t, map[string]string{"broken.py": malformedSource})

	cfg := testConfig()
	cfg.SyntaxMode = config.SyntaxRecover
	g, err := NewBuilder(WithConfig(cfg)).Build(context.Background(), root)
	require.NoError(t, err)

	report := g.Report()
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1, report.Parsed)
	require.NotEmpty(t, report.Diagnostics)
	assert.Equal(t, graph.SeverityWarning, report.Diagnostics[0].Severity)
	assert.NotNil(t, g.Entity("broken.py"))
}

func TestBuilder_EmptyProjects(t *testing.T) {
	t.Parallel()

	t.Run("no units", func(t *testing.T) {
		g, err := NewBuilder(WithConfig(testConfig())).Build(context.Background(), t.TempDir())
		require.NoError(t, err)
		assert.Zero(t, g.EntityCount())
		assert.Zero(t, g.Report().Units)
	})

	t.Run("no usable units", func(t *testing.T) {
		root := writeProject(t, map[string]string{
			"a.py": malformedSource,
			"b.py": "def broken(:\n",
		})
		g, err := NewBuilder(WithConfig(testConfig())).Build(context.Background(), root)
		require.NoError(t, err)
		assert.Zero(t, g.EntityCount())
		assert.Len(t, g.Report().Failures, 2)
		assert.Zero(t, g.Report().Parsed)
	})
}

func TestBuilder_Preconditions(t *testing.T) {
	t.Parallel()

	t.Run("missing root", func(t *testing.T) {
		g, err := NewBuilder().Build(context.Background(), filepath.Join(t.TempDir(), "nope"))
		assert.ErrorIs(t, err, source.ErrRootNotFound)
		assert.Nil(t, g)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig()
		cfg.Workers = 0
		_, err := NewBuilder(WithConfig(cfg)).Build(context.Background(), t.TempDir())
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
	})

	t.Run("config file", func(t *testing.T) {
		root := writeProject(t, map[string]string{
			"main.py":       "def main():\n    pass\n",
			"legacy/old.py": "def old():\n    pass\n",
			config.FileName: "exclude_dirs: [legacy]\nworkers: 2\n",
		})
		g, err := NewBuilder().Build(context.Background(), root)
		require.NoError(t, err)
		assert.Equal(t, []string{"main.py"}, g.Units())
	})
}

func TestBuilder_BuildFiles(t *testing.T) {
	t.Parallel()
	root := writeProject(t, testProject)

	g, err := NewBuilder(WithConfig(testConfig())).BuildFiles(context.Background(), root, []string{
		"models/user.py",
		filepath.Join(root, "utils.py"),
		"README.md",
		"models/user.py",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"models/user.py", "utils.py"}, g.Units())
	assert.Equal(t, 2, g.Report().Units)
}

// stubParser delegates to tree-sitter but blocks on selected units.
type stubParser struct {
	real   parsers.Parser
	block  string
	onCall func(unit string)
}

func (s *stubParser) Language() string { return "python" }

func (s *stubParser) Parse(ctx context.Context, unit string, content []byte) (*parsers.Tree, error) {
	if s.onCall != nil {
		s.onCall(unit)
	}
	if unit == s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.real.Parse(ctx, unit, content)
}

func TestBuilder_ParseTimeout(t *testing.T) {
	t.Parallel()
	root := writeProject(t, withFile(testProject, "slow.py", "def slow():\n    pass\n"))

	cfg := testConfig()
	cfg.ParseTimeout = 50 * time.Millisecond
	parser := &stubParser{real: parsers.NewPythonParser(nil), block: "slow.py"}

	g, err := NewBuilder(WithConfig(cfg), WithParser(parser)).Build(context.Background(), root)
	require.NoError(t, err)

	report := g.Report()
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "slow.py", report.Failures[0].Unit)
	assert.Contains(t, report.Failures[0].Message, "timed out")
	assert.Equal(t, 5, report.Parsed)
	assert.NotNil(t, g.Entity("utils.py::helper_function"))
}

func TestBuilder_Cancellation(t *testing.T) {
	t.Parallel()

	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		g, err := NewBuilder(WithConfig(testConfig())).Build(ctx, writeProject(t, testProject))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, g)
	})

	t.Run("during parsing", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		cfg := testConfig()
		cfg.ParseTimeout = time.Minute
		parser := &stubParser{
			real:   parsers.NewPythonParser(nil),
			block:  "models/product.py",
			onCall: func(unit string) {
				if unit == "models/product.py" {
					cancel()
				}
			},
		}

		b := NewBuilder(WithConfig(cfg), WithParser(parser))
		g, err := b.Build(ctx, writeProject(t, testProject))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, g)
		assert.NotEqual(t, PhaseDone, b.Phase())
	})
}

func TestBuilder_Metrics(t *testing.T) {
	t.Parallel()
	rec := metrics.NewRecorder()

	_, err := NewBuilder(WithConfig(testConfig()), WithMetrics(rec)).Build(context.Background(), writeProject(t, testProject))
	require.NoError(t, err)

	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["pygraph_build_total"])
	assert.True(t, names["pygraph_build_phase_duration_seconds"])
	assert.True(t, names["pygraph_graph_edges_total"])
}

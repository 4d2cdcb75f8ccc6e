package ingestion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/pygraph/internal/graph"
)

const shopSource = `import external
from abc import ABC, abstractmethod

app = object()


class Base(ABC):
    @abstractmethod
    def run(self):
        pass

    def unused_helper(self):
        return 1


class Impl(Base):
    def run(self):
        return self._compute()

    def _compute(self):
        return 2

    def _orphan(self):
        return 3


class Plugin(external.Plugin):
    def on_load(self):
        pass


def _private_unused():
    pass


def public_unused():
    pass


def recursive():
    return recursive()


def main():
    Impl().run()


@app.route("/")
def index():
    pass


if __name__ == "__main__":
    main()
`

func buildProject(t *testing.T, files map[string]string) *graph.CodeGraph {
	t.Helper()
	g, err := NewBuilder(WithConfig(testConfig())).Build(context.Background(), writeProject(t, files))
	require.NoError(t, err)
	require.Empty(t, g.Report().Failures)
	return g
}

func TestFindDeadCode(t *testing.T) {
	t.Parallel()
	g := buildProject(t, map[string]string{"shop.py": shopSource})

	type flagged struct {
		ID         string
		Confidence Confidence
	}
	var got []flagged
	for _, d := range FindDeadCode(g) {
		got = append(got, flagged{d.Entity.ID, d.Confidence})
	}

	assert.Equal(t, []flagged{
		{"shop.py::Base.unused_helper", ConfidenceLow},
		{"shop.py::Impl._orphan", ConfidenceHigh},
		{"shop.py::Plugin", ConfidenceMedium},
		{"shop.py::Plugin.on_load", ConfidenceLow},
		{"shop.py::_private_unused", ConfidenceHigh},
		{"shop.py::public_unused", ConfidenceMedium},
		{"shop.py::recursive", ConfidenceMedium},
	}, got)

	t.Run("exemptions", func(t *testing.T) {
		flaggedIDs := make(map[string]bool)
		for _, f := range got {
			flaggedIDs[f.ID] = true
		}
		for _, id := range []string{
			"shop.py::Base",          // subclassed
			"shop.py::Base.run",      // abstract
			"shop.py::Impl.run",      // overrides an abstract method
			"shop.py::Impl._compute", // called through self
			"shop.py::main",          // entry point
			"shop.py::index",         // registered by a decorator
		} {
			assert.False(t, flaggedIDs[id], id)
		}
	})

	t.Run("tests are exempt", func(t *testing.T) {
		g := buildProject(t, map[string]string{
			"test_shop.py": "def helper():\n    pass\n",
			"checks.py":    "class TestThing:\n    def setUp(self):\n        pass\n\n\ndef test_it():\n    pass\n",
		})
		assert.Empty(t, FindDeadCode(g))
	})
}

func TestTraceFlows(t *testing.T) {
	t.Parallel()

	t.Run("entry points", func(t *testing.T) {
		g := buildProject(t, map[string]string{"shop.py": shopSource})
		flows := TraceFlows(g, 0)

		require.Len(t, flows, 3)
		assert.Equal(t, []string{"shop.py", "shop.py::main", "shop.py::Impl"}, flows[0].Steps)
		assert.Equal(t, "flow from shop", flows[0].Name())
		assert.Equal(t, []string{"shop.py::main", "shop.py::Impl"}, flows[1].Steps)
		assert.Equal(t, []string{"shop.py::index"}, flows[2].Steps)
	})

	t.Run("depth limit", func(t *testing.T) {
		g := buildProject(t, map[string]string{
			"chain.py": "def c():\n    pass\n\n\ndef b():\n    c()\n\n\ndef main():\n    b()\n",
		})
		flows := TraceFlows(g, 1)
		require.Len(t, flows, 1)
		assert.Equal(t, []string{"chain.py::main", "chain.py::b"}, flows[0].Steps)

		flows = TraceFlows(g, 0)
		assert.Equal(t, []string{"chain.py::main", "chain.py::b", "chain.py::c"}, flows[0].Steps)
	})
}

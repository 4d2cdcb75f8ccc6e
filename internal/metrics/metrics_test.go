package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/pygraph/internal/graph"
)

func TestRecorder(t *testing.T) {
	t.Parallel()

	t.Run("RecordBuild", func(t *testing.T) {
		r := NewRecorder()

		g := graph.NewCodeGraph()
		require.NoError(t, g.AddEntity(&graph.Entity{ID: "a.py", Name: "a", Kind: graph.KindModule, Unit: "a.py"}))
		require.NoError(t, g.AddEntity(&graph.Entity{ID: "a.py::f", Name: "f", Kind: graph.KindFunction, Unit: "a.py", ScopePath: []string{"a.py"}}))
		g.AddEdge(graph.Edge{Kind: graph.EdgeContains, From: "a.py", To: "a.py::f"})
		unresolved := g.AddEdge(graph.Edge{Kind: graph.EdgeCalls, From: "a.py::f", Target: "print"})

		report := &graph.BuildReport{
			Units:      2,
			Parsed:     1,
			Failures:   []graph.ParseFailure{{Unit: "b.py", Message: "syntax error at line 1, column 1"}},
			Unresolved: []graph.UnresolvedReference{{Edge: unresolved, Reason: graph.ReasonBuiltin}},
			Duration:   20 * time.Millisecond,
		}
		r.RecordBuild(g, report)

		assert.Equal(t, 1.0, testutil.ToFloat64(r.builds))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.units.WithLabelValues("parsed")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.units.WithLabelValues("failed")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.failures))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.edges.WithLabelValues("contains")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.edges.WithLabelValues("calls")))
		assert.Equal(t, 1.0, testutil.ToFloat64(r.unresolved.WithLabelValues("builtin")))
	})

	t.Run("ObservePhase", func(t *testing.T) {
		r := NewRecorder()
		r.ObservePhase("parsing", 5*time.Millisecond)
		r.ObservePhase("parsing", 7*time.Millisecond)
		r.ObservePhase("assembling", time.Millisecond)

		assert.Equal(t, 2, testutil.CollectAndCount(r.phaseDurations))
	})

	t.Run("private registries do not collide", func(t *testing.T) {
		a, b := NewRecorder(), NewRecorder()
		a.RecordBuild(nil, &graph.BuildReport{})
		assert.Equal(t, 1.0, testutil.ToFloat64(a.builds))
		assert.Equal(t, 0.0, testutil.ToFloat64(b.builds))
		assert.NotSame(t, a.Registry(), b.Registry())
	})

	t.Run("nil recorder is a no-op", func(t *testing.T) {
		var r *Recorder
		assert.NotPanics(t, func() {
			r.ObservePhase("parsing", time.Second)
			r.RecordBuild(nil, &graph.BuildReport{})
		})
		assert.Nil(t, r.Registry())
	})
}

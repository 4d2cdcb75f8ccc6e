package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/pygraph/internal/config"
	"github.com/Benny93/pygraph/internal/graph"
	"github.com/Benny93/pygraph/internal/ingestion"
)

var project = map[string]string{
	"models.py": `class Base:
    def save(self):
        pass


class User(Base):
    """A registered user."""

    def greet(self, other):
        return format_name(other)


def format_name(name):
    return name.title()


def _unused():
    pass
`,
	"app.py": `from models import User


def main():
    user = User()
    user.greet("bob")
`,
}

func buildGraph(t *testing.T) *graph.CodeGraph {
	t.Helper()
	root := t.TempDir()
	for path, content := range project {
		require.NoError(t, os.WriteFile(filepath.Join(root, path), []byte(content), 0o644))
	}
	g, err := ingestion.NewBuilder(ingestion.WithConfig(config.Default())).Build(context.Background(), root)
	require.NoError(t, err)
	return g
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer()
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.SetGraph(context.Background(), buildGraph(t)))
	return s
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	_, err := s.Connect(ctx, serverTransport)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text, result.IsError
}

func TestServer_Protocol(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	session := connect(t, s)
	ctx := context.Background()

	t.Run("lists tools", func(t *testing.T) {
		res, err := session.ListTools(ctx, nil)
		require.NoError(t, err)
		var names []string
		for _, tool := range res.Tools {
			names = append(names, tool.Name)
		}
		assert.ElementsMatch(t, []string{
			"pygraph_find", "pygraph_search", "pygraph_context", "pygraph_callers",
			"pygraph_callees", "pygraph_impact", "pygraph_dead_code", "pygraph_flows",
			"pygraph_report",
		}, names)
	})

	t.Run("calls a tool", func(t *testing.T) {
		text, isErr := callTool(t, session, "pygraph_callers", map[string]any{"symbol": "User.greet"})
		assert.False(t, isErr)
		assert.Contains(t, text, "## Callers of models.py::User.greet (1)")
		assert.Contains(t, text, "`main` (function) in app.py:4")
	})

	t.Run("tool errors are results", func(t *testing.T) {
		text, isErr := callTool(t, session, "pygraph_search", map[string]any{"query": " "})
		assert.True(t, isErr)
		assert.Equal(t, "Error: query required", text)
	})

	t.Run("arguments are checked against the schema", func(t *testing.T) {
		_, err := session.CallTool(ctx, &mcp.CallToolParams{
			Name:      "pygraph_dead_code",
			Arguments: map[string]any{"confidence": "certain"},
		})
		assert.Error(t, err)
	})

	t.Run("reads resources", func(t *testing.T) {
		res, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: "pygraph://overview"})
		require.NoError(t, err)
		require.Len(t, res.Contents, 1)
		assert.Contains(t, res.Contents[0].Text, "**Units:** 2")
		assert.Contains(t, res.Contents[0].Text, "- Classes: 2")
	})
}

func TestServer_CallTool(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ctx := context.Background()

	t.Run("find", func(t *testing.T) {
		out, err := s.CallTool(ctx, "pygraph_find", map[string]any{"kind": "class"})
		require.NoError(t, err)
		assert.Contains(t, out, "Found 2 entities")
		assert.Contains(t, out, "ID: models.py::User")

		out, err = s.CallTool(ctx, "pygraph_find", map[string]any{"contains": "name", "unit": "*.py"})
		require.NoError(t, err)
		assert.Contains(t, out, "ID: models.py::format_name")

		_, err = s.CallTool(ctx, "pygraph_find", map[string]any{"unit": "[bad"})
		assert.Error(t, err)
	})

	t.Run("search", func(t *testing.T) {
		out, err := s.CallTool(ctx, "pygraph_search", map[string]any{"query": "registered"})
		require.NoError(t, err)
		assert.Contains(t, out, "**User** (class)")

		_, err = s.CallTool(ctx, "pygraph_search", map[string]any{"query": " "})
		assert.Error(t, err)
	})

	t.Run("context", func(t *testing.T) {
		out, err := s.CallTool(ctx, "pygraph_context", map[string]any{"symbol": "User"})
		require.NoError(t, err)
		assert.Contains(t, out, "Context for symbol: **models.py::User**")
		assert.Contains(t, out, "**Doc:** A registered user.")
		assert.Contains(t, out, "## Bases (1)\n- models.py::Base")
		assert.Contains(t, out, "## Members (1)")
		assert.Contains(t, out, "## Callers (1)")

		out, err = s.CallTool(ctx, "pygraph_context", map[string]any{"symbol": "Base"})
		require.NoError(t, err)
		assert.Contains(t, out, "## Subclasses (1)")

		out, err = s.CallTool(ctx, "pygraph_context", map[string]any{"symbol": "missing"})
		require.NoError(t, err)
		assert.Contains(t, out, "Symbol 'missing' not found")
	})

	t.Run("callees", func(t *testing.T) {
		out, err := s.CallTool(ctx, "pygraph_callees", map[string]any{"symbol": "app.py::main"})
		require.NoError(t, err)
		assert.Contains(t, out, "`User` (class) in models.py:6 via instantiates")
		assert.Contains(t, out, "`User.greet` (method) in models.py:9 via calls")

		out, err = s.CallTool(ctx, "pygraph_callees", map[string]any{"symbol": "format_name"})
		require.NoError(t, err)
		assert.Contains(t, out, "`name.title` (unresolved calls)")
	})

	t.Run("impact", func(t *testing.T) {
		out, err := s.CallTool(ctx, "pygraph_impact", map[string]any{"symbol": "format_name"})
		require.NoError(t, err)
		assert.Contains(t, out, "## Affected Symbols (2)")
		assert.Contains(t, out, "### Depth 1 (Direct)\n- `User.greet`")
		assert.Contains(t, out, "### Depth 2 (Indirect)\n- `main`")

		out, err = s.CallTool(ctx, "pygraph_impact", map[string]any{"symbol": "format_name", "depth": 1})
		require.NoError(t, err)
		assert.Contains(t, out, "## Affected Symbols (1)")

		out, err = s.CallTool(ctx, "pygraph_impact", map[string]any{"symbol": "_unused"})
		require.NoError(t, err)
		assert.Contains(t, out, "No affected symbols found")
	})

	t.Run("dead code", func(t *testing.T) {
		out, err := s.CallTool(ctx, "pygraph_dead_code", map[string]any{"confidence": "high"})
		require.NoError(t, err)
		assert.Contains(t, out, "**Found 1 dead code symbols**")
		assert.Contains(t, out, "`_unused` (function) at line 17, high confidence")

		out, err = s.CallTool(ctx, "pygraph_dead_code", nil)
		require.NoError(t, err)
		assert.Contains(t, out, "`Base.save` (method)")

		_, err = s.CallTool(ctx, "pygraph_dead_code", map[string]any{"confidence": "certain"})
		assert.ErrorContains(t, err, `unknown confidence "certain"`)
	})

	t.Run("flows", func(t *testing.T) {
		out, err := s.CallTool(ctx, "pygraph_flows", nil)
		require.NoError(t, err)
		assert.Contains(t, out, "### flow from main")
		assert.Contains(t, out, "models.py::format_name")
	})

	t.Run("report", func(t *testing.T) {
		out, err := s.CallTool(ctx, "pygraph_report", nil)
		require.NoError(t, err)
		assert.Contains(t, out, "**Units:** 2 discovered, 2 parsed")
		assert.Contains(t, out, "### Unresolved References")
	})

	t.Run("unknown tool", func(t *testing.T) {
		_, err := s.CallTool(ctx, "pygraph_cypher", nil)
		assert.ErrorContains(t, err, "unknown tool")
	})
}

func TestServer_SetGraph(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := NewServer()
	defer s.Close()

	_, err := s.CallTool(ctx, "pygraph_report", nil)
	assert.ErrorIs(t, err, ErrNoGraph)
	_, err = s.ReadResource(ctx, "pygraph://overview")
	assert.ErrorIs(t, err, ErrNoGraph)

	schema, err := s.ReadResource(ctx, "pygraph://schema")
	require.NoError(t, err)
	assert.Contains(t, schema, "| `instantiates` |")

	require.NoError(t, s.SetGraph(ctx, buildGraph(t)))
	out, err := s.CallTool(ctx, "pygraph_search", map[string]any{"query": "greet"})
	require.NoError(t, err)
	assert.Contains(t, out, "models.py::User.greet")

	require.NoError(t, s.SetGraph(ctx, graph.NewCodeGraph()))
	out, err = s.CallTool(ctx, "pygraph_search", map[string]any{"query": "greet"})
	require.NoError(t, err)
	assert.Contains(t, out, "No results found")

	_, err = s.ReadResource(ctx, "pygraph://nope")
	assert.ErrorContains(t, err, "unknown resource")
}

func TestResolveSymbol(t *testing.T) {
	t.Parallel()
	g := graph.NewCodeGraph()
	for _, e := range []*graph.Entity{
		{ID: "a.py", Name: "a", Kind: graph.KindModule, Unit: "a.py"},
		{ID: "a.py::run", Name: "run", Kind: graph.KindFunction, Unit: "a.py"},
		{ID: "a.py::Job.run", Name: "run", Kind: graph.KindMethod, Unit: "a.py"},
	} {
		require.NoError(t, g.AddEntity(e))
	}

	e, others := resolveSymbol(g, "a.py::Job.run")
	require.NotNil(t, e)
	assert.Equal(t, "a.py::Job.run", e.ID)
	assert.Empty(t, others)

	e, others = resolveSymbol(g, "Job.run")
	assert.Equal(t, "a.py::Job.run", e.ID)
	assert.Empty(t, others)

	e, others = resolveSymbol(g, "run")
	assert.Equal(t, "a.py::run", e.ID)
	require.Len(t, others, 1)
	assert.Equal(t, "a.py::Job.run", others[0].ID)

	e, _ = resolveSymbol(g, "")
	assert.Nil(t, e)
}

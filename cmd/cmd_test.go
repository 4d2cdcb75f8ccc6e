package cmd

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleProject = map[string]string{
	"shapes/__init__.py": "from .circle import Circle\n",
	"shapes/circle.py": `import math


class Circle:
    """A circle with a radius."""

    def __init__(self, r):
        self.r = r

    def area(self):
        return math.pi * self.r ** 2
`,
	"main.py": `from shapes import Circle


def main():
    c = Circle(2)
    print(c.area())
`,
}

func writeSampleProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range sampleProject {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return root
}

// builtProject writes and builds the sample project with --quiet. The
// build summary is discarded so Out starts empty.
func builtProject(t *testing.T) (string, *Globals) {
	t.Helper()
	root := writeSampleProject(t)
	globals := &Globals{Quiet: true, Out: &bytes.Buffer{}}
	require.NoError(t, (&BuildCmd{Path: root, Workers: 2}).Run(globals))
	output(globals)
	return root, globals
}

func output(g *Globals) string {
	buf := g.Out.(*bytes.Buffer)
	defer buf.Reset()
	return buf.String()
}

func TestBuildCmd_Run(t *testing.T) {
	t.Parallel()

	t.Run("BuildAndSave", func(t *testing.T) {
		root := writeSampleProject(t)
		globals := &Globals{Quiet: true, Out: &bytes.Buffer{}}
		require.NoError(t, (&BuildCmd{Path: root, Workers: 2}).Run(globals))

		out := output(globals)
		assert.Contains(t, out, "Build complete")
		assert.Contains(t, out, "Units:          3 (3 parsed)")

		_, err := os.Stat(filepath.Join(root, indexDirName, "badger"))
		assert.NoError(t, err)

		var meta map[string]any
		data, err := os.ReadFile(filepath.Join(root, indexDirName, "meta.json"))
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &meta))
		assert.Equal(t, 3.0, meta["units"])
	})

	t.Run("NoSave", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("def f(:\n"), 0o644))

		globals := &Globals{Quiet: true, Out: &bytes.Buffer{}}
		require.NoError(t, (&BuildCmd{Path: root, NoSave: true}).Run(globals))
		assert.Contains(t, output(globals), "1 units failed to parse")

		_, err := os.Stat(filepath.Join(root, indexDirName))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("InvalidPath", func(t *testing.T) {
		err := (&BuildCmd{Path: "/nonexistent/path"}).Run(&Globals{Quiet: true})
		assert.Error(t, err)
	})

	t.Run("NotADirectory", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "file.txt")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0o644))

		err := (&BuildCmd{Path: tmpFile}).Run(&Globals{Quiet: true})
		assert.Error(t, err)
	})
}

func TestInspectCommands(t *testing.T) {
	t.Parallel()
	root, globals := builtProject(t)
	project := ProjectFlag{Project: root}

	t.Run("Query", func(t *testing.T) {
		require.NoError(t, (&QueryCmd{ProjectFlag: project, Query: "radius", Limit: 5}).Run(globals))
		assert.Contains(t, output(globals), "ID: shapes/circle.py::Circle")

		require.NoError(t, (&QueryCmd{ProjectFlag: project, Query: "zzz", Limit: 5}).Run(globals))
		assert.Contains(t, output(globals), "No results found")
	})

	t.Run("Find", func(t *testing.T) {
		require.NoError(t, (&FindCmd{ProjectFlag: project, Kind: "method", Limit: 10}).Run(globals))
		out := output(globals)
		assert.Contains(t, out, "Found 2 entities")
		assert.Contains(t, out, "ID: shapes/circle.py::Circle.area")
	})

	t.Run("Context", func(t *testing.T) {
		require.NoError(t, (&ContextCmd{ProjectFlag: project, Symbol: "Circle"}).Run(globals))
		out := output(globals)
		assert.Contains(t, out, "Context for symbol: **shapes/circle.py::Circle**")
		assert.Contains(t, out, "## Callers (1)")
	})

	t.Run("CallersAndCallees", func(t *testing.T) {
		require.NoError(t, (&CallersCmd{ProjectFlag: project, Symbol: "Circle.area"}).Run(globals))
		assert.Contains(t, output(globals), "`main` (function) in main.py:4")

		require.NoError(t, (&CalleesCmd{ProjectFlag: project, Symbol: "main"}).Run(globals))
		out := output(globals)
		assert.Contains(t, out, "via instantiates")
		assert.Contains(t, out, "`print` (unresolved calls)")
	})

	t.Run("Impact", func(t *testing.T) {
		require.NoError(t, (&ImpactCmd{ProjectFlag: project, Symbol: "Circle.area", Depth: 3}).Run(globals))
		assert.Contains(t, output(globals), "### Depth 1 (Direct)")
	})

	t.Run("Analyses", func(t *testing.T) {
		require.NoError(t, (&DeadCodeCmd{ProjectFlag: project}).Run(globals))
		assert.Contains(t, output(globals), "## Dead Code Report")

		require.NoError(t, (&FlowsCmd{ProjectFlag: project, Depth: 5}).Run(globals))
		assert.Contains(t, output(globals), "### flow from main")

		require.NoError(t, (&ReportCmd{ProjectFlag: project}).Run(globals))
		assert.Contains(t, output(globals), "**Units:** 3 discovered, 3 parsed")
	})

	t.Run("Status", func(t *testing.T) {
		require.NoError(t, (&StatusCmd{Path: root}).Run(globals))
		out := output(globals)
		assert.Contains(t, out, "Index status for")
		assert.Contains(t, out, "Units:          3")
	})
}

func TestExportCmd_Run(t *testing.T) {
	t.Parallel()
	root, globals := builtProject(t)
	project := ProjectFlag{Project: root}

	t.Run("JSONToStdout", func(t *testing.T) {
		require.NoError(t, (&ExportCmd{ProjectFlag: project, Format: "json", Stable: true}).Run(globals))
		out := output(globals)
		assert.True(t, strings.HasPrefix(out, "{"), "stdout holds only the document")
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &doc))
		assert.Len(t, doc["nodes"], 7)
	})

	t.Run("DOTToFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "graph.dot")
		require.NoError(t, (&ExportCmd{ProjectFlag: project, Format: "dot", Output: path, Kinds: []string{"calls"}}).Run(globals))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "digraph pygraph {")
		assert.NotContains(t, string(data), `label="contains"`)
	})

	t.Run("CSVToDirectory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "csv")
		require.NoError(t, (&ExportCmd{ProjectFlag: project, Format: "csv", Output: dir}).Run(globals))

		f, err := os.Open(filepath.Join(dir, "nodes.csv"))
		require.NoError(t, err)
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		assert.Len(t, rows, 8)

		_, err = os.Stat(filepath.Join(dir, "edges.csv"))
		assert.NoError(t, err)
	})

	t.Run("CSVNeedsOutput", func(t *testing.T) {
		assert.Error(t, (&ExportCmd{ProjectFlag: project, Format: "csv"}).Run(globals))
	})

	t.Run("NoIndex", func(t *testing.T) {
		err := (&ExportCmd{ProjectFlag: ProjectFlag{Project: t.TempDir()}, Format: "json"}).Run(globals)
		assert.ErrorIs(t, err, errNoIndex)
	})
}

func TestCleanCmd_Run(t *testing.T) {
	t.Parallel()
	root, globals := builtProject(t)

	require.NoError(t, (&CleanCmd{Path: root, Force: true}).Run(globals))
	_, err := os.Stat(filepath.Join(root, indexDirName))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, (&CleanCmd{Path: root, Force: true}).Run(globals), errNoIndex)
	assert.ErrorIs(t, (&StatusCmd{Path: root}).Run(globals), errNoIndex)
}

func TestSetupCmd_Run(t *testing.T) {
	t.Parallel()

	t.Run("Stdout", func(t *testing.T) {
		globals := &Globals{Out: &bytes.Buffer{}}
		require.NoError(t, (&SetupCmd{Client: "stdout", Watch: true}).Run(globals))
		assert.Contains(t, output(globals), `"--watch"`)
	})

	t.Run("MergesLocalConfig", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, ".claude", "mcp.json")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"other": {"command": "x"}}, "theme": "dark"}`), 0o644))

		globals := &Globals{Out: &bytes.Buffer{}}
		require.NoError(t, (&SetupCmd{Client: "claude", Dir: dir}).Run(globals))
		assert.Contains(t, output(globals), "Created claude MCP config")

		var cfg map[string]any
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &cfg))
		assert.Equal(t, "dark", cfg["theme"])
		servers := cfg["mcpServers"].(map[string]any)
		assert.Contains(t, servers, "other")
		assert.Equal(t, []any{"mcp"}, servers["pygraph"].(map[string]any)["args"])
	})
}

func TestCLI_Execute(t *testing.T) {
	t.Parallel()
	root, _ := builtProject(t)

	cli := NewCLI()
	cli.Out = &bytes.Buffer{}
	require.NoError(t, cli.Execute([]string{"status", root}))
	assert.Contains(t, cli.Out.(*bytes.Buffer).String(), "Entities:")

	assert.Error(t, NewCLI().Execute([]string{"no-such-command"}))
}

package cmd

import (
	"context"
	"fmt"

	"github.com/Benny93/pygraph/internal/source"
	"github.com/Benny93/pygraph/mcp"
)

// runTool answers a question about the saved graph with the same tool the
// MCP server exposes and prints the markdown result.
func runTool(globals *Globals, project, tool string, args map[string]any) error {
	ctx := context.Background()
	root, err := source.CheckRoot(project)
	if err != nil {
		return err
	}
	g, err := loadGraph(ctx, root)
	if err != nil {
		return err
	}

	server := mcp.NewServer(mcp.WithLogger(globals.Logger()))
	defer func() { _ = server.Close() }()
	if err := server.SetGraph(ctx, g); err != nil {
		return err
	}

	text, err := server.CallTool(ctx, tool, args)
	if err != nil {
		return err
	}
	fmt.Fprintln(globals.out(), text)
	return nil
}

// QueryCmd searches the saved graph.
type QueryCmd struct {
	ProjectFlag

	Query string `arg:"" help:"Search query"`
	Limit int    `short:"n" default:"20" help:"Maximum results"`
}

// Run executes the query command.
func (c *QueryCmd) Run(globals *Globals) error {
	ctx := context.Background()
	root, err := source.CheckRoot(c.Project)
	if err != nil {
		return err
	}
	store, err := openIndex(root, true)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	results, err := store.Search(ctx, c.Query, c.Limit)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	out := globals.out()
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "\n%d. %s (%s)\n", i+1, r.Name, r.Kind)
		fmt.Fprintf(out, "   ID: %s\n", r.EntityID)
		fmt.Fprintf(out, "   Score: %.0f\n", r.Score)
	}
	return nil
}

// FindCmd lists entities matching structural filters.
type FindCmd struct {
	ProjectFlag

	Name     string `help:"Exact entity name"`
	Contains string `short:"c" help:"Substring of the entity name"`
	Kind     string `short:"k" help:"Entity kind"`
	Unit     string `short:"u" help:"Glob over unit paths (e.g. models/*.py)"`
	Limit    int    `short:"n" default:"50" help:"Maximum results"`
}

// Run executes the find command.
func (c *FindCmd) Run(globals *Globals) error {
	return runTool(globals, c.Project, "pygraph_find", map[string]any{
		"name":     c.Name,
		"contains": c.Contains,
		"kind":     c.Kind,
		"unit":     c.Unit,
		"limit":    c.Limit,
	})
}

// ContextCmd shows 360-degree view of a symbol.
type ContextCmd struct {
	ProjectFlag

	Symbol string `arg:"" help:"Symbol id, qualified name or name"`
}

// Run executes the context command.
func (c *ContextCmd) Run(globals *Globals) error {
	return runTool(globals, c.Project, "pygraph_context", map[string]any{"symbol": c.Symbol})
}

// CallersCmd lists callers of a symbol.
type CallersCmd struct {
	ProjectFlag

	Symbol string `arg:"" help:"Symbol id, qualified name or name"`
}

// Run executes the callers command.
func (c *CallersCmd) Run(globals *Globals) error {
	return runTool(globals, c.Project, "pygraph_callers", map[string]any{"symbol": c.Symbol})
}

// CalleesCmd lists callees of a symbol.
type CalleesCmd struct {
	ProjectFlag

	Symbol string `arg:"" help:"Symbol id, qualified name or name"`
}

// Run executes the callees command.
func (c *CalleesCmd) Run(globals *Globals) error {
	return runTool(globals, c.Project, "pygraph_callees", map[string]any{"symbol": c.Symbol})
}

// ImpactCmd shows blast radius of changing a symbol.
type ImpactCmd struct {
	ProjectFlag

	Symbol string `arg:"" help:"Symbol to analyze"`
	Depth  int    `short:"d" default:"3" help:"Traversal depth"`
}

// Run executes the impact command.
func (c *ImpactCmd) Run(globals *Globals) error {
	return runTool(globals, c.Project, "pygraph_impact", map[string]any{"symbol": c.Symbol, "depth": c.Depth})
}

// DeadCodeCmd lists all detected dead code.
type DeadCodeCmd struct {
	ProjectFlag

	Confidence string `help:"Minimum confidence to report (high|medium|low)"`
}

// Run executes the dead-code command.
func (c *DeadCodeCmd) Run(globals *Globals) error {
	return runTool(globals, c.Project, "pygraph_dead_code", map[string]any{"confidence": c.Confidence})
}

// FlowsCmd traces call flows from entry points.
type FlowsCmd struct {
	ProjectFlag

	Depth int `short:"d" default:"10" help:"Maximum call depth"`
}

// Run executes the flows command.
func (c *FlowsCmd) Run(globals *Globals) error {
	return runTool(globals, c.Project, "pygraph_flows", map[string]any{"depth": c.Depth})
}

// ReportCmd prints the build report of the saved graph.
type ReportCmd struct {
	ProjectFlag
}

// Run executes the report command.
func (c *ReportCmd) Run(globals *Globals) error {
	return runTool(globals, c.Project, "pygraph_report", nil)
}

package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Benny93/pygraph/internal/graph"
	"github.com/Benny93/pygraph/internal/ingestion"
)

// resolveSymbol finds the entity a tool argument names. It tries an exact
// id, then a qualified name, then a bare name. When a name matches more
// than one entity the first is used and the rest are returned, qualified
// name matches ahead of bare name matches.
func resolveSymbol(g *graph.CodeGraph, symbol string) (*graph.Entity, []*graph.Entity) {
	if symbol == "" {
		return nil, nil
	}
	if e := g.Entity(symbol); e != nil {
		return e, nil
	}

	var matches []*graph.Entity
	seen := make(map[string]bool)
	for _, e := range g.Entities() {
		if e.Kind != graph.KindModule && e.QualifiedName() == symbol {
			matches = append(matches, e)
			seen[e.ID] = true
		}
	}
	for _, e := range g.FindByName(symbol) {
		if !seen[e.ID] {
			matches = append(matches, e)
			seen[e.ID] = true
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], matches[1:]
}

func describe(e *graph.Entity) string {
	loc := e.Unit
	if e.Span.StartLine > 0 {
		loc = fmt.Sprintf("%s:%d", e.Unit, e.Span.StartLine)
	}
	name := e.QualifiedName()
	if e.Kind == graph.KindModule {
		name = e.ID
	}
	return fmt.Sprintf("`%s` (%s) in %s", name, e.Kind, loc)
}

func writeAmbiguity(sb *strings.Builder, others []*graph.Entity) {
	if len(others) == 0 {
		return
	}
	sb.WriteString(fmt.Sprintf("Note: %d other symbols share this name:\n", len(others)))
	for _, o := range others {
		sb.WriteString(fmt.Sprintf("- %s\n", o.ID))
	}
	sb.WriteString("\n")
}

func notFound(symbol string) string {
	return fmt.Sprintf("Symbol '%s' not found in graph.\n\nNext: Use `pygraph_search` to look it up by keyword.", symbol)
}

func handleFind(g *graph.CodeGraph, name, contains, kind, unit string, limit int) (string, error) {
	q := graph.NewQuery(g).Limit(limit)
	if kind != "" {
		q = q.Kind(graph.EntityKind(kind))
	}
	if unit != "" {
		q = q.UnitPattern(unit)
	}
	if name != "" {
		q = q.Where(func(e *graph.Entity) bool { return e.Name == name })
	}
	if contains != "" {
		q = q.NameContains(contains)
	}
	found, err := q.Execute()
	if err != nil {
		return "", err
	}

	if len(found) == 0 {
		return "No entities match.\n", nil
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d entities:\n\n", len(found)))
	for i, e := range found {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, describe(e)))
		sb.WriteString(fmt.Sprintf("   ID: %s\n", e.ID))
	}
	sb.WriteString("\nNext: Use `pygraph_context` on a specific symbol for the full picture.")
	return sb.String(), nil
}

func (s *Server) handleSearch(ctx context.Context, query string, limit int) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query required")
	}
	results, err := s.store.Search(ctx, query, limit)
	if err != nil {
		return "", fmt.Errorf("searching: %w", err)
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results found for '%s'\n", query), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d results for '%s':\n\n", len(results), query))
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("%d. **%s** (%s)\n", i+1, r.Name, r.Kind))
		sb.WriteString(fmt.Sprintf("   ID: %s\n", r.EntityID))
		sb.WriteString(fmt.Sprintf("   Score: %.0f\n", r.Score))
	}
	sb.WriteString("\nNext: Use `pygraph_context` on a specific symbol for the full picture.")
	return sb.String(), nil
}

func handleContext(g *graph.CodeGraph, symbol string) (string, error) {
	e, others := resolveSymbol(g, symbol)
	if e == nil {
		return notFound(symbol), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Context for symbol: **%s**\n\n", e.ID))
	writeAmbiguity(&sb, others)
	sb.WriteString(fmt.Sprintf("**Kind:** %s\n", e.Kind))
	sb.WriteString(fmt.Sprintf("**Unit:** %s\n", e.Unit))
	if e.Span.StartLine > 0 {
		sb.WriteString(fmt.Sprintf("**Lines:** %d-%d\n", e.Span.StartLine, e.Span.EndLine))
	}
	if e.Signature != "" {
		sb.WriteString(fmt.Sprintf("**Signature:** `%s`\n", e.Signature))
	}
	if len(e.Decorators) > 0 {
		sb.WriteString(fmt.Sprintf("**Decorators:** %s\n", strings.Join(e.Decorators, ", ")))
	}
	if p := g.Parent(e.ID); p != nil {
		sb.WriteString(fmt.Sprintf("**Defined in:** %s\n", p.ID))
	}
	if e.Docstring != "" {
		doc, _, _ := strings.Cut(e.Docstring, "\n")
		sb.WriteString(fmt.Sprintf("**Doc:** %s\n", doc))
	}
	sb.WriteString("\n")

	if len(e.Bases) > 0 {
		sb.WriteString(fmt.Sprintf("## Bases (%d)\n", len(e.Bases)))
		for _, edge := range g.Outgoing(e.ID, graph.EdgeInherits) {
			sb.WriteString(fmt.Sprintf("- %s\n", edge.TargetLabel()))
		}
		sb.WriteString("\n")
	}

	if subs := incomingFrom(g, e.ID, graph.EdgeInherits); len(subs) > 0 {
		sb.WriteString(fmt.Sprintf("## Subclasses (%d)\n", len(subs)))
		for _, sub := range subs {
			sb.WriteString(fmt.Sprintf("- %s\n", describe(sub)))
		}
		sb.WriteString("\n")
	}

	if members := g.Children(e.ID); len(members) > 0 {
		sb.WriteString(fmt.Sprintf("## Members (%d)\n", len(members)))
		for _, m := range members {
			sb.WriteString(fmt.Sprintf("- %s\n", describe(m)))
		}
		sb.WriteString("\n")
	}

	callers := g.Callers(e.ID)
	if len(callers) > 0 {
		sb.WriteString(fmt.Sprintf("## Callers (%d)\n", len(callers)))
		for _, c := range callers {
			sb.WriteString(fmt.Sprintf("- %s\n", describe(c)))
		}
		sb.WriteString("\n")
	}

	callees := g.Outgoing(e.ID, graph.EdgeCalls, graph.EdgeInstantiates)
	if len(callees) > 0 {
		sb.WriteString(fmt.Sprintf("## Callees (%d)\n", len(callees)))
		writeCallees(&sb, g, callees)
		sb.WriteString("\n")
	}

	if len(callers) == 0 && len(callees) == 0 {
		sb.WriteString("No calls in or out. Symbol may be unused or only referenced dynamically.\n")
	}

	sb.WriteString("\nNext: Use `pygraph_impact` if planning changes to this symbol.")
	return sb.String(), nil
}

func writeCallees(sb *strings.Builder, g *graph.CodeGraph, edges []*graph.Edge) {
	for _, edge := range edges {
		if edge.Unresolved() {
			sb.WriteString(fmt.Sprintf("- `%s` (unresolved %s) at line %d\n", edge.Target, edge.Kind, edge.Span.StartLine))
			continue
		}
		sb.WriteString(fmt.Sprintf("- %s via %s at line %d\n", describe(g.Entity(edge.To)), edge.Kind, edge.Span.StartLine))
	}
}

// incomingFrom lists the distinct sources of resolved incoming edges.
func incomingFrom(g *graph.CodeGraph, id string, kinds ...graph.EdgeKind) []*graph.Entity {
	seen := make(map[string]bool)
	var out []*graph.Entity
	for _, edge := range g.Incoming(id, kinds...) {
		if seen[edge.From] {
			continue
		}
		seen[edge.From] = true
		if src := g.Entity(edge.From); src != nil {
			out = append(out, src)
		}
	}
	return out
}

func handleCallers(g *graph.CodeGraph, symbol string) (string, error) {
	e, others := resolveSymbol(g, symbol)
	if e == nil {
		return notFound(symbol), nil
	}

	var sb strings.Builder
	writeAmbiguity(&sb, others)
	callers := g.Callers(e.ID)
	if len(callers) == 0 {
		sb.WriteString(fmt.Sprintf("No callers of **%s**.\n\nNext: Use `pygraph_dead_code` to see whether it is unused.", e.ID))
		return sb.String(), nil
	}
	sb.WriteString(fmt.Sprintf("## Callers of %s (%d)\n\n", e.ID, len(callers)))
	for _, c := range callers {
		sb.WriteString(fmt.Sprintf("- %s\n", describe(c)))
	}
	return sb.String(), nil
}

func handleCallees(g *graph.CodeGraph, symbol string) (string, error) {
	e, others := resolveSymbol(g, symbol)
	if e == nil {
		return notFound(symbol), nil
	}

	var sb strings.Builder
	writeAmbiguity(&sb, others)
	edges := g.Outgoing(e.ID, graph.EdgeCalls, graph.EdgeInstantiates)
	if len(edges) == 0 {
		sb.WriteString(fmt.Sprintf("**%s** calls nothing.\n", e.ID))
		return sb.String(), nil
	}
	sb.WriteString(fmt.Sprintf("## Callees of %s (%d)\n\n", e.ID, len(edges)))
	writeCallees(&sb, g, edges)
	return sb.String(), nil
}

// impactKinds are the edges along which a change propagates to dependents.
var impactKinds = []graph.EdgeKind{graph.EdgeCalls, graph.EdgeInstantiates, graph.EdgeInherits}

// impactLevels walks dependents breadth-first and groups them by distance.
func impactLevels(g *graph.CodeGraph, id string, depth int) [][]*graph.Entity {
	visited := map[string]bool{id: true}
	frontier := []string{id}
	var levels [][]*graph.Entity
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var level []*graph.Entity
		var next []string
		for _, cur := range frontier {
			for _, src := range incomingFrom(g, cur, impactKinds...) {
				if visited[src.ID] {
					continue
				}
				visited[src.ID] = true
				level = append(level, src)
				next = append(next, src.ID)
			}
		}
		if len(level) > 0 {
			levels = append(levels, level)
		}
		frontier = next
	}
	return levels
}

func handleImpact(g *graph.CodeGraph, symbol string, depth int) (string, error) {
	e, others := resolveSymbol(g, symbol)
	if e == nil {
		return notFound(symbol), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Impact analysis for: **%s** (depth: %d)\n\n", e.ID, depth))
	writeAmbiguity(&sb, others)

	levels := impactLevels(g, e.ID, depth)
	if len(levels) == 0 {
		sb.WriteString("No affected symbols found. This symbol appears to be isolated.\n")
		sb.WriteString("\nTip: This might be an entry point or unused code.")
		return sb.String(), nil
	}

	total := 0
	for _, l := range levels {
		total += len(l)
	}
	sb.WriteString(fmt.Sprintf("## Affected Symbols (%d)\n\n", total))
	for i, level := range levels {
		label := "Transitive"
		switch i {
		case 0:
			label = "Direct"
		case 1:
			label = "Indirect"
		}
		sb.WriteString(fmt.Sprintf("### Depth %d (%s)\n", i+1, label))
		for _, n := range level {
			sb.WriteString(fmt.Sprintf("- %s\n", describe(n)))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Tip: Review each affected symbol before making changes.")
	return sb.String(), nil
}

var confidenceRank = map[ingestion.Confidence]int{
	ingestion.ConfidenceLow:    0,
	ingestion.ConfidenceMedium: 1,
	ingestion.ConfidenceHigh:   2,
}

func handleDeadCode(g *graph.CodeGraph, minConfidence string) (string, error) {
	floor := 0
	if minConfidence != "" {
		rank, ok := confidenceRank[ingestion.Confidence(minConfidence)]
		if !ok {
			return "", fmt.Errorf("unknown confidence %q", minConfidence)
		}
		floor = rank
	}

	var dead []ingestion.DeadSymbol
	for _, d := range ingestion.FindDeadCode(g) {
		if confidenceRank[d.Confidence] >= floor {
			dead = append(dead, d)
		}
	}

	var sb strings.Builder
	sb.WriteString("## Dead Code Report\n\n")
	if len(dead) == 0 {
		sb.WriteString("✅ **No dead code detected!**\n\n")
		sb.WriteString(fmt.Sprintf("Graph contains **%d entities**, all used or exempt.\n", g.EntityCount()))
		return sb.String(), nil
	}

	sb.WriteString(fmt.Sprintf("⚠️ **Found %d dead code symbols**\n\n", len(dead)))
	sb.WriteString("**Exempt from dead code detection:**\n")
	sb.WriteString("- Entry points (main, test functions, registered handlers)\n")
	sb.WriteString("- Dunder methods (__init__, __str__, etc.)\n")
	sb.WriteString("- Abstract methods and overrides of used methods\n\n")

	byUnit := make(map[string][]ingestion.DeadSymbol)
	var units []string
	for _, d := range dead {
		if _, ok := byUnit[d.Entity.Unit]; !ok {
			units = append(units, d.Entity.Unit)
		}
		byUnit[d.Entity.Unit] = append(byUnit[d.Entity.Unit], d)
	}
	sort.Strings(units)

	sb.WriteString("**Dead code by unit:**\n\n")
	for _, unit := range units {
		syms := byUnit[unit]
		sb.WriteString(fmt.Sprintf("### %s (%d symbols)\n", unit, len(syms)))
		for _, d := range syms {
			sb.WriteString(fmt.Sprintf("- `%s` (%s) at line %d, %s confidence\n",
				d.Entity.QualifiedName(), d.Entity.Kind, d.Entity.Span.StartLine, d.Confidence))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("**Next:** Review dead code symbols and consider removing or integrating them.")
	return sb.String(), nil
}

func handleFlows(g *graph.CodeGraph, depth int) (string, error) {
	flows := ingestion.TraceFlows(g, depth)

	var sb strings.Builder
	sb.WriteString("## Call Flows\n\n")
	if len(flows) == 0 {
		sb.WriteString("No entry points found.\n")
		return sb.String(), nil
	}
	for _, f := range flows {
		sb.WriteString(fmt.Sprintf("### %s (%d steps)\n", f.Name(), len(f.Steps)))
		for i, step := range f.Steps {
			sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, step))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Next: Use `pygraph_impact` on a step to see what else depends on it.")
	return sb.String(), nil
}

func handleReport(g *graph.CodeGraph) string {
	r := g.Report()
	if r == nil {
		return "No build report available.\n"
	}

	var sb strings.Builder
	sb.WriteString("## Build Report\n\n")
	sb.WriteString(fmt.Sprintf("**Build:** %s\n", r.BuildID))
	sb.WriteString(fmt.Sprintf("**Root:** %s\n", r.Root))
	sb.WriteString(fmt.Sprintf("**Units:** %d discovered, %d parsed\n", r.Units, r.Parsed))
	sb.WriteString(fmt.Sprintf("**Duration:** %s\n\n", r.Duration))

	if len(r.Failures) > 0 {
		sb.WriteString(fmt.Sprintf("### Parse Failures (%d)\n", len(r.Failures)))
		for _, f := range r.Failures {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", f.Unit, f.Message))
		}
		sb.WriteString("\n")
	}

	if len(r.Diagnostics) > 0 {
		sb.WriteString(fmt.Sprintf("### Diagnostics (%d)\n", len(r.Diagnostics)))
		for _, d := range r.Diagnostics {
			sb.WriteString(fmt.Sprintf("- [%s] %s:%d %s\n", d.Severity, d.Unit, d.Span.StartLine, d.Message))
		}
		sb.WriteString("\n")
	}

	byReason := r.UnresolvedByReason()
	if len(byReason) > 0 {
		reasons := make([]string, 0, len(byReason))
		for reason := range byReason {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		sb.WriteString(fmt.Sprintf("### Unresolved References (%d)\n", len(r.Unresolved)))
		for _, reason := range reasons {
			sb.WriteString(fmt.Sprintf("- %s: %d\n", reason, byReason[graph.UnresolvedReason(reason)]))
		}
	}
	return sb.String()
}

func getOverview(g *graph.CodeGraph) string {
	stats := g.Stats()

	var sb strings.Builder
	sb.WriteString("# pygraph Code Graph Overview\n\n")
	sb.WriteString(fmt.Sprintf("**Units:** %d\n", len(g.Units())))
	sb.WriteString(fmt.Sprintf("**Entities:** %d\n", stats["entities"]))
	sb.WriteString(fmt.Sprintf("**Edges:** %d (%d unresolved)\n", stats["edges"], stats["unresolved"]))
	sb.WriteString("\n## Entities\n\n")
	sb.WriteString(fmt.Sprintf("- Modules: %d\n", stats["modules"]))
	sb.WriteString(fmt.Sprintf("- Classes: %d\n", stats["classes"]))
	sb.WriteString(fmt.Sprintf("- Functions: %d\n", stats["functions"]))
	sb.WriteString(fmt.Sprintf("- Methods: %d\n", stats["methods"]))
	sb.WriteString("\n## Edges\n\n")
	for _, k := range graph.EdgeKinds {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", k, stats[string(k)]))
	}
	if r := g.Report(); r != nil && len(r.Failures) > 0 {
		sb.WriteString(fmt.Sprintf("\n⚠️ %d units failed to parse. Use `pygraph_report` for details.\n", len(r.Failures)))
	}
	return sb.String()
}

func getSchema() string {
	var sb strings.Builder
	sb.WriteString("# pygraph Code Graph Schema\n\n")
	sb.WriteString("## Entity Kinds\n\n")
	sb.WriteString("| Kind | Description | ID form |\n")
	sb.WriteString("|------|-------------|---------|\n")
	sb.WriteString("| `module` | One Python source file | `pkg/mod.py` |\n")
	sb.WriteString("| `class` | Class definition | `pkg/mod.py::Outer.Inner` |\n")
	sb.WriteString("| `function` | Function outside a class | `pkg/mod.py::f` |\n")
	sb.WriteString("| `method` | Function defined in a class body | `pkg/mod.py::Cls.m` |\n")
	sb.WriteString("\n## Edge Kinds\n\n")
	sb.WriteString("| Kind | Source → Target |\n")
	sb.WriteString("|------|-----------------|\n")
	sb.WriteString("| `contains` | Module/Class/Function → nested entity |\n")
	sb.WriteString("| `inherits` | Class → base class |\n")
	sb.WriteString("| `calls` | Caller → called function or method |\n")
	sb.WriteString("| `instantiates` | Caller → instantiated class |\n")
	sb.WriteString("| `imports` | Module → imported module |\n")
	sb.WriteString("\nEdges whose target could not be resolved keep the written name and render as `Unresolved(name)`.\n")
	return sb.String()
}

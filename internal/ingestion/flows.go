package ingestion

import (
	"strings"

	"github.com/Benny93/pygraph/internal/graph"
)

// DefaultFlowDepth bounds how many calls deep TraceFlows follows.
const DefaultFlowDepth = 10

// Flow is the set of entities reachable through calls from one entry point.
type Flow struct {
	Entry *graph.Entity `json:"entry"`

	// Steps lists the reached entity ids in breadth-first order, entry first.
	Steps []string `json:"steps"`
}

// Name returns a human-readable label for the flow.
func (f Flow) Name() string {
	return "flow from " + f.Entry.QualifiedName()
}

// decorator name fragments that register a handler with a framework.
var entryDecorators = []string{"route", "command", "get", "post", "put", "delete", "task", "handler", "fixture"}

// TraceFlows follows calls and instantiations from every entry point of g,
// at most maxDepth hops deep (DefaultFlowDepth when maxDepth <= 0). Flows
// with exactly the same steps are reported once.
func TraceFlows(g *graph.CodeGraph, maxDepth int) []Flow {
	if maxDepth <= 0 {
		maxDepth = DefaultFlowDepth
	}
	opts := graph.TraverseOptions{
		Kinds:     []graph.EdgeKind{graph.EdgeCalls, graph.EdgeInstantiates},
		Direction: graph.Outgoing,
		MaxDepth:  maxDepth,
	}

	seen := make(map[string]bool)
	var flows []Flow
	for _, e := range g.Entities() {
		if !isFlowEntry(g, e) {
			continue
		}
		steps := append([]string{e.ID}, g.BFS(e.ID, opts)...)
		key := strings.Join(steps, "->")
		if seen[key] {
			continue
		}
		seen[key] = true
		flows = append(flows, Flow{Entry: e, Steps: steps})
	}
	return flows
}

func isFlowEntry(g *graph.CodeGraph, e *graph.Entity) bool {
	if e.Kind == graph.KindModule {
		// Script code: a module whose top level calls into the project.
		return len(g.Callees(e.ID)) > 0
	}
	return isEntryPoint(e)
}

// isEntryPoint matches symbols invoked from outside the project: main
// functions, tests and framework-registered handlers.
func isEntryPoint(e *graph.Entity) bool {
	if e.Kind == graph.KindModule || e.Kind == graph.KindClass {
		return false
	}
	if e.Kind == graph.KindFunction && (e.Name == "main" || strings.HasPrefix(e.Name, "test_")) {
		return true
	}
	for _, d := range e.Decorators {
		last := strings.ToLower(d[strings.LastIndex(d, ".")+1:])
		for _, frag := range entryDecorators {
			if strings.Contains(last, frag) {
				return true
			}
		}
	}
	return false
}

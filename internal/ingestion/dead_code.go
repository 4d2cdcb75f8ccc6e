package ingestion

import (
	"path"
	"strings"

	"github.com/Benny93/pygraph/internal/graph"
)

// Confidence grades how likely a flagged symbol is really unused.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// DeadSymbol is a class, function or method nothing in the graph uses.
type DeadSymbol struct {
	Entity     *graph.Entity `json:"entity"`
	Confidence Confidence    `json:"confidence"`
}

// decorators that do not register the symbol anywhere.
var inertDecorators = map[string]bool{
	"staticmethod":        true,
	"classmethod":         true,
	"abstractmethod":      true,
	"abc.abstractmethod":  true,
	"functools.lru_cache": true,
	"functools.cache":     true,
	"lru_cache":           true,
	"typing.overload":     true,
	"overload":            true,
}

// FindDeadCode flags the symbols of g that have no incoming use.
//
// Detection runs in passes:
//  1. flag symbols without incoming calls, instantiations or subclasses
//  2. exempt entry points, tests, dunders and registered (decorated) symbols
//  3. exempt methods overriding a live or abstract ancestor method
//  4. grade what is left
//
// Results are in entity insertion order.
func FindDeadCode(g *graph.CodeGraph) []DeadSymbol {
	dead := make(map[string]bool)
	for _, e := range g.Entities() {
		if e.Kind == graph.KindModule {
			continue
		}
		if !hasIncomingUse(g, e) {
			dead[e.ID] = true
		}
	}

	for id := range dead {
		if isDeadCodeExempt(g.Entity(id)) {
			delete(dead, id)
		}
	}

	// Overrides see the state after exemptions, walked in insertion order.
	for _, e := range g.Entities() {
		if dead[e.ID] && e.Kind == graph.KindMethod && overridesLiveMethod(g, e, dead) {
			delete(dead, e.ID)
		}
	}

	var out []DeadSymbol
	for _, e := range g.Entities() {
		if dead[e.ID] {
			out = append(out, DeadSymbol{Entity: e, Confidence: deadCodeConfidence(g, e)})
		}
	}
	return out
}

// hasIncomingUse reports whether anything other than e itself calls,
// instantiates or subclasses e.
func hasIncomingUse(g *graph.CodeGraph, e *graph.Entity) bool {
	for _, edge := range g.Incoming(e.ID, graph.EdgeCalls, graph.EdgeInstantiates, graph.EdgeInherits) {
		if edge.From != e.ID {
			return true
		}
	}
	return false
}

func isDeadCodeExempt(e *graph.Entity) bool {
	switch {
	case isEntryPoint(e):
		return true
	case isTestSymbol(e):
		return true
	case strings.HasPrefix(e.Name, "__") && strings.HasSuffix(e.Name, "__"):
		return true
	case e.Attr(graph.AttrAbstract) == "true":
		return true
	}
	for _, d := range e.Decorators {
		if !inertDecorators[d] {
			return true
		}
	}
	return false
}

// isTestSymbol matches pytest and unittest naming conventions.
func isTestSymbol(e *graph.Entity) bool {
	base := path.Base(e.Unit)
	if strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") || base == "conftest.py" {
		return true
	}
	switch e.Kind {
	case graph.KindClass:
		return strings.HasPrefix(e.Name, "Test")
	default:
		return strings.HasPrefix(e.Name, "test_") || e.Name == "setUp" || e.Name == "tearDown"
	}
}

// overridesLiveMethod reports whether some ancestor of the method's class
// declares a method of the same name that is live or abstract.
func overridesLiveMethod(g *graph.CodeGraph, method *graph.Entity, dead map[string]bool) bool {
	class := g.Parent(method.ID)
	if class == nil || class.Kind != graph.KindClass {
		return false
	}
	ancestors := g.BFS(class.ID, graph.TraverseOptions{
		Kinds:     []graph.EdgeKind{graph.EdgeInherits},
		Direction: graph.Outgoing,
	})
	for _, id := range ancestors {
		for _, child := range g.Children(id) {
			if child.Kind != graph.KindMethod || child.Name != method.Name {
				continue
			}
			if !dead[child.ID] || child.Attr(graph.AttrAbstract) == "true" {
				return true
			}
		}
	}
	return false
}

// hasExternalBase reports whether class inherits from something outside
// the graph, whose hooks its methods may implement.
func hasExternalBase(g *graph.CodeGraph, class *graph.Entity) bool {
	for _, edge := range g.Outgoing(class.ID, graph.EdgeInherits) {
		if edge.Unresolved() {
			return true
		}
	}
	return false
}

func deadCodeConfidence(g *graph.CodeGraph, e *graph.Entity) Confidence {
	if e.Kind == graph.KindMethod {
		if class := g.Parent(e.ID); class != nil && hasExternalBase(g, class) {
			return ConfidenceLow
		}
	}
	// Public names may still be imported by code outside the project.
	if !strings.HasPrefix(e.Name, "_") {
		return ConfidenceMedium
	}
	return ConfidenceHigh
}

// Package extract walks one unit's syntax tree and produces its declared
// entities, the unresolved relationship intents found in their bodies and
// the per-entity scope information name resolution needs.
//
// Extraction is purely syntactic. Nothing here looks at another unit.
package extract

import (
	"strings"

	"github.com/Benny93/pygraph/internal/graph"
)

// Intent is a relationship observed in source text and not yet resolved.
type Intent struct {
	Kind graph.EdgeKind

	// From is the id of the entity whose body contains the reference.
	From string

	// To is set only for Contains intents, which need no lookup.
	To string

	// Target is the reference as written, e.g. "self.move" or "Dog".
	Target string

	// Style is set for Calls intents.
	Style graph.CallStyle

	// Receiver is the single identifier before the final attribute of a
	// Direct call, e.g. "calc" in calc.add().
	Receiver string

	// Attribute is the final name segment of a call target.
	Attribute string

	// Super marks super().m() calls, whose lookup starts at the bases.
	Super bool

	// Path holds the segments of a pure dotted target (a.b.c), for
	// Inherits intents and chained calls without intermediate calls.
	Path []string

	// Import is set for Imports intents.
	Import *Import

	Span graph.Span
}

// Import is one import binding site.
//
//	import a.b          -> Module "a.b"
//	import a.b as x     -> Module "a.b", Alias "x"
//	from .m import n    -> From, Level 1, Module "m", Names [{n}]
//	from m import *     -> From, Module "m", Wildcard
type Import struct {
	Module   string
	Level    int
	Alias    string
	From     bool
	Names    []ImportName
	Wildcard bool
	Span     graph.Span
}

// ImportName is one name of a from-import.
type ImportName struct {
	Name  string
	Alias string
}

// Bound returns the local name the import binds for a plain import.
func (i *Import) Bound() string {
	if i.Alias != "" {
		return i.Alias
	}
	if head, _, ok := strings.Cut(i.Module, "."); ok {
		return head
	}
	return i.Module
}

// Spec renders the imported module as written, with leading dots.
func (i *Import) Spec() string {
	return strings.Repeat(".", i.Level) + i.Module
}

// Scope is the name-binding information of one entity body.
type Scope struct {
	Entity string

	// Imports are the imports executed in this body, in declaration order.
	Imports []*Import

	// Bindings maps local variables to the expression naming their
	// statically inferable type, e.g. calc -> "Calculator".
	Bindings map[string]string

	// Instance is the instance binding of a method ("self"), if any.
	Instance string
}

func (s *Scope) bind(name, typeExpr string) {
	if name == "" || typeExpr == "" {
		return
	}
	if s.Bindings == nil {
		s.Bindings = make(map[string]string)
	}
	s.Bindings[name] = typeExpr
}

// Result is the write-once extraction output of one unit.
type Result struct {
	Unit       string
	ModuleName string

	// Entities are in declaration order, parents before children.
	Entities []*graph.Entity

	// Intents are in emission order: per entity in declaration order, its
	// Contains intents, then Inherits, then body references in syntactic
	// occurrence order.
	Intents []Intent

	// Scopes are keyed by entity id.
	Scopes map[string]*Scope
}

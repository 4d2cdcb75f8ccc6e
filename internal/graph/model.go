// Package graph provides the code graph data model for pygraph.
//
// It defines the entities recovered from Python source (modules, classes,
// functions, methods), the directed edges between them (contains, inherits,
// calls, instantiates, imports) and the build report that accompanies every
// graph.
package graph

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntityKind represents the type of a graph entity.
type EntityKind string

const (
	KindModule   EntityKind = "module"
	KindClass    EntityKind = "class"
	KindFunction EntityKind = "function"
	KindMethod   EntityKind = "method"
)

// EdgeKind represents the type of relationship between two entities.
type EdgeKind string

const (
	EdgeContains     EdgeKind = "contains"
	EdgeInherits     EdgeKind = "inherits"
	EdgeCalls        EdgeKind = "calls"
	EdgeInstantiates EdgeKind = "instantiates"
	EdgeImports      EdgeKind = "imports"
)

// EdgeKinds lists every edge kind in a stable order.
var EdgeKinds = []EdgeKind{EdgeContains, EdgeInherits, EdgeCalls, EdgeInstantiates, EdgeImports}

// EntityKinds lists every entity kind in a stable order.
var EntityKinds = []EntityKind{KindModule, KindClass, KindFunction, KindMethod}

// CallStyle records how a call target was written at the call site.
type CallStyle string

const (
	// StyleNone is used for edges that are not calls or instantiations.
	StyleNone CallStyle = ""

	// StyleDirect is a bare name or a single receiver hop: f(), mod.f(), obj.m().
	StyleDirect CallStyle = "direct"

	// StyleSelf is a call through the instance binding: self.m(), super().m().
	StyleSelf CallStyle = "self"

	// StyleChained is a call on the result of another call or on an
	// attribute chain longer than one segment: a.b.c(), f().g().
	StyleChained CallStyle = "chained"
)

// Well-known entity attribute keys.
const (
	AttrAbstract        = "abstract"
	AttrAsync           = "async"
	AttrStatic          = "static"
	AttrClassMethod     = "classmethod"
	AttrProperty        = "property"
	AttrInstanceBinding = "instance_binding"
	AttrModuleName      = "module_name"
)

// Span locates a construct inside a unit.
// Lines are 1-based, columns and byte offsets are 0-based.
type Span struct {
	Unit      string `json:"unit"`
	StartByte int    `json:"start_byte"`
	EndByte   int    `json:"end_byte"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
}

// String renders the span as unit:line:col.
func (s Span) String() string {
	return s.Unit + ":" + strconv.Itoa(s.StartLine) + ":" + strconv.Itoa(s.StartCol)
}

// Entity is a named, analyzable construct.
type Entity struct {
	// ID is globally unique within a build.
	// Format: {unit} for modules, {unit}::{Outer.Inner.name} otherwise.
	ID string `json:"id"`

	// Name is the declared name (module name for modules).
	Name string `json:"name"`

	// Kind is the entity kind.
	Kind EntityKind `json:"kind"`

	// Unit is the id of the unit that declares the entity.
	Unit string `json:"unit"`

	// ScopePath holds the enclosing entity ids, outermost first.
	// Empty for modules.
	ScopePath []string `json:"scope_path"`

	// Span covers the whole declaration, decorators excluded.
	Span Span `json:"span"`

	// Docstring is the first string literal of the body, quotes removed.
	Docstring string `json:"docstring,omitempty"`

	// Signature is the declaration header for functions and methods.
	Signature string `json:"signature,omitempty"`

	// Decorators holds decorator names as written, without the leading @.
	Decorators []string `json:"decorators,omitempty"`

	// Bases holds the base-class expressions of a class as written.
	Bases []string `json:"bases,omitempty"`

	// Attributes holds descriptive metadata (abstract, async, ...).
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Parent returns the id of the innermost enclosing entity, or "" for modules.
func (e *Entity) Parent() string {
	if len(e.ScopePath) == 0 {
		return ""
	}
	return e.ScopePath[len(e.ScopePath)-1]
}

// Attr returns the attribute value for key, or "".
func (e *Entity) Attr(key string) string {
	if e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// SetAttr sets an attribute, allocating the map on first use.
func (e *Entity) SetAttr(key, value string) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
}

// QualifiedName returns the dotted name of the entity inside its unit
// (e.g. "Dog.fetch"). Modules return their module name.
func (e *Entity) QualifiedName() string {
	if e.Kind == KindModule {
		return e.Name
	}
	if _, qual, ok := strings.Cut(e.ID, IDSeparator); ok {
		return qual
	}
	return e.Name
}

// IDSeparator separates the unit from the qualified name in entity ids.
const IDSeparator = "::"

// ModuleID returns the entity id of a unit's synthetic module.
func ModuleID(unit string) string {
	return unit
}

// EntityID creates a deterministic entity id from a unit and the qualified
// name segments of the entity.
func EntityID(unit string, qualified ...string) string {
	if len(qualified) == 0 {
		return ModuleID(unit)
	}
	return unit + IDSeparator + strings.Join(qualified, ".")
}

// Edge is a resolved, directed relationship.
// An edge whose To is empty points at the Unresolved(Target) sentinel.
type Edge struct {
	// Seq is the position of the edge in the graph's edge sequence.
	Seq int `json:"seq"`

	Kind EdgeKind `json:"kind"`
	From string   `json:"from"`

	// To is the target entity id, empty when unresolved.
	To string `json:"to,omitempty"`

	// Target is the raw textual reference as written (e.g. "self.move").
	Target string `json:"target,omitempty"`

	// Style is set for calls and instantiations.
	Style CallStyle `json:"style,omitempty"`

	// Span locates the reference site, when known.
	Span Span `json:"span"`
}

// Unresolved reports whether the edge points at the Unresolved sentinel.
func (e *Edge) Unresolved() bool {
	return e.To == ""
}

// TargetLabel returns the target id, or Unresolved(name) for unresolved edges.
func (e *Edge) TargetLabel() string {
	if e.Unresolved() {
		return "Unresolved(" + e.Target + ")"
	}
	return e.To
}

// String renders the edge as kind(from -> to).
func (e *Edge) String() string {
	return fmt.Sprintf("%s(%s -> %s)", e.Kind, e.From, e.TargetLabel())
}

// ParseFailure describes a unit that produced no usable syntax tree.
type ParseFailure struct {
	Unit    string `json:"unit"`
	Message string `json:"message"`

	// Span is the best-known failure point and may be approximate.
	Span Span `json:"span"`
}

// Error implements error.
func (f *ParseFailure) Error() string {
	return f.Unit + ": " + f.Message
}

// Severity classifies a diagnostic.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is a non-fatal problem found while building the graph,
// such as a partially recovered parse.
type Diagnostic struct {
	Unit     string   `json:"unit"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Span     Span     `json:"span"`
}

// UnresolvedReason explains why a reference found no entity.
type UnresolvedReason string

const (
	ReasonNotFound UnresolvedReason = "not_found"
	ReasonBuiltin  UnresolvedReason = "builtin"
	ReasonExternal UnresolvedReason = "external"
	ReasonDynamic  UnresolvedReason = "dynamic"
	ReasonCycle    UnresolvedReason = "cycle"
)

// UnresolvedReference records an edge that points at the Unresolved sentinel.
type UnresolvedReference struct {
	Edge   *Edge            `json:"edge"`
	Reason UnresolvedReason `json:"reason"`
}

// BuildReport aggregates everything a build could not turn into graph content.
type BuildReport struct {
	// BuildID uniquely identifies the build invocation.
	BuildID string `json:"build_id"`

	// Root is the project root the build ran against.
	Root string `json:"root"`

	// Units is the number of units selected for the build.
	Units int `json:"units"`

	// Parsed is the number of units that contributed a syntax tree.
	Parsed int `json:"parsed"`

	Failures    []ParseFailure        `json:"failures"`
	Diagnostics []Diagnostic          `json:"diagnostics"`
	Unresolved  []UnresolvedReference `json:"unresolved"`

	Duration time.Duration `json:"duration"`
}

// HasFailures reports whether any unit failed to parse.
func (r *BuildReport) HasFailures() bool {
	return len(r.Failures) > 0
}

// FailureFor returns the parse failure recorded for unit, or nil.
func (r *BuildReport) FailureFor(unit string) *ParseFailure {
	for i := range r.Failures {
		if r.Failures[i].Unit == unit {
			return &r.Failures[i]
		}
	}
	return nil
}

// UnresolvedByReason counts unresolved references per reason.
func (r *BuildReport) UnresolvedByReason() map[UnresolvedReason]int {
	counts := make(map[UnresolvedReason]int)
	for _, u := range r.Unresolved {
		counts[u.Reason]++
	}
	return counts
}

package resolve

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Benny93/pygraph/internal/extract"
	"github.com/Benny93/pygraph/internal/graph"
)

var assemblerTracer = otel.Tracer("pygraph.resolve")

// Assembler resolves intents against linked tables and materializes the
// resulting CodeGraph.
//
// Every entity is inserted before any edge. Inherits intents of all units
// are resolved first so that ancestor lookups see the full hierarchy, but
// edges are appended per unit in intent emission order.
type Assembler struct {
	logger *slog.Logger
}

// NewAssembler creates an assembler.
func NewAssembler(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{logger: logger}
}

// resolution is the outcome of resolving one intent.
type resolution struct {
	to     string
	kind   graph.EdgeKind
	reason graph.UnresolvedReason
}

// Assemble links units and builds the graph. Units must be in unit-id order.
func (a *Assembler) Assemble(ctx context.Context, units []*UnitTable, report *graph.BuildReport) *graph.CodeGraph {
	return a.AssembleLinked(ctx, Link(units), report)
}

// AssembleLinked builds the graph from already linked tables. Unresolved
// references are appended to report, which also becomes the graph's report.
func (a *Assembler) AssembleLinked(ctx context.Context, t *Tables, report *graph.BuildReport) *graph.CodeGraph {
	units := t.units
	_, span := assemblerTracer.Start(ctx, "resolve.Assembler.Assemble",
		trace.WithAttributes(attribute.Int("units", len(units))))
	defer span.End()

	if report == nil {
		report = &graph.BuildReport{}
	}

	g := graph.NewCodeGraph()

	for _, u := range units {
		for _, e := range u.Result.Entities {
			if err := g.AddEntity(e); err != nil {
				a.logger.Warn("skipping entity", slog.String("id", e.ID), slog.String("error", err.Error()))
			}
		}
	}

	t.bases = make(map[string][]string)
	t.baseMisses = make(map[string]graph.UnresolvedReason)
	inherits := make(map[*extract.Intent]resolution)
	for _, u := range units {
		for i := range u.Result.Intents {
			it := &u.Result.Intents[i]
			if it.Kind != graph.EdgeInherits {
				continue
			}
			res := t.resolveBase(it)
			inherits[it] = res
			if res.to != "" {
				t.bases[it.From] = append(t.bases[it.From], res.to)
			} else if _, seen := t.baseMisses[it.From]; !seen {
				t.baseMisses[it.From] = res.reason
			}
		}
	}

	for _, u := range units {
		for i := range u.Result.Intents {
			it := &u.Result.Intents[i]

			var res []resolution
			switch it.Kind {
			case graph.EdgeContains:
				res = []resolution{{to: it.To, kind: graph.EdgeContains}}
			case graph.EdgeInherits:
				res = []resolution{inherits[it]}
			case graph.EdgeCalls:
				res = []resolution{t.resolveCall(it)}
			case graph.EdgeImports:
				res = t.resolveImport(u, it)
			}

			for _, r := range res {
				edge := g.AddEdge(graph.Edge{
					Kind:   r.kind,
					From:   it.From,
					To:     r.to,
					Target: it.Target,
					Style:  it.Style,
					Span:   it.Span,
				})
				if edge.Unresolved() {
					report.Unresolved = append(report.Unresolved, graph.UnresolvedReference{
						Edge:   edge,
						Reason: r.reason,
					})
				}
			}
		}
	}

	g.SetReport(report)
	span.SetAttributes(
		attribute.Int("entities", g.EntityCount()),
		attribute.Int("edges", g.EdgeCount()),
		attribute.Int("unresolved", len(report.Unresolved)),
	)
	a.logger.Debug("graph assembled",
		slog.Int("entities", g.EntityCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Int("unresolved", len(report.Unresolved)))
	return g
}

// resolveBase resolves a base-class expression in the scope enclosing the
// class.
func (t *Tables) resolveBase(it *extract.Intent) resolution {
	miss := resolution{kind: graph.EdgeInherits}
	chain := t.scopeChain(it.From)
	if len(chain) > 0 {
		chain = chain[1:]
	}
	if len(it.Path) == 0 {
		miss.reason = graph.ReasonDynamic
		return miss
	}

	r := t.dotted(chain, it.Path, 0)
	switch {
	case r.kind == refEntity && t.entities[r.id].Kind == graph.KindClass:
		if r.id == it.From {
			miss.reason = graph.ReasonCycle
			return miss
		}
		return resolution{to: r.id, kind: graph.EdgeInherits}
	case r.kind == refMissing:
		miss.reason = r.reason
	case r.kind == refEntity:
		miss.reason = graph.ReasonNotFound
	default:
		miss.reason = graph.ReasonDynamic
	}
	return miss
}

// resolveCall resolves a call site. A call that lands on a class is an
// instantiation.
func (t *Tables) resolveCall(it *extract.Intent) resolution {
	r := t.callTarget(it)
	if r.kind != refEntity {
		reason := r.reason
		if r.kind != refMissing {
			reason = graph.ReasonDynamic
		}
		return resolution{kind: graph.EdgeCalls, reason: reason}
	}
	if t.entities[r.id].Kind == graph.KindClass {
		return resolution{to: r.id, kind: graph.EdgeInstantiates}
	}
	if t.entities[r.id].Kind == graph.KindModule {
		return resolution{kind: graph.EdgeCalls, reason: graph.ReasonDynamic}
	}
	return resolution{to: r.id, kind: graph.EdgeCalls}
}

func (t *Tables) callTarget(it *extract.Intent) ref {
	chain := t.scopeChain(it.From)

	switch it.Style {
	case graph.StyleSelf:
		class := t.enclosingClass(it.From)
		if class == "" {
			return missing(graph.ReasonDynamic)
		}
		return t.classMember(class, it.Attribute, it.Super)

	case graph.StyleDirect:
		if it.Receiver == "" {
			r := t.lookup(chain, it.Attribute)
			if r.kind == refInstance {
				return missing(graph.ReasonDynamic)
			}
			return r
		}
		recv := t.lookup(chain, it.Receiver)
		if recv.kind == refMissing && recv.reason == graph.ReasonNotFound {
			return missing(graph.ReasonDynamic)
		}
		return t.attr(recv, it.Attribute)

	default:
		if len(it.Path) == 0 {
			return missing(graph.ReasonDynamic)
		}
		if head := t.lookup(chain, it.Path[0]); head.kind == refMissing && head.reason == graph.ReasonNotFound {
			return missing(graph.ReasonDynamic)
		}
		return t.dotted(chain, it.Path, 0)
	}
}

// resolveImport maps an import site to module edges. A plain import yields
// one edge. A from-import yields one edge per imported submodule, plus one
// edge to the source module for the remaining names.
func (t *Tables) resolveImport(u *UnitTable, it *extract.Intent) []resolution {
	imp := it.Import
	if imp == nil {
		return []resolution{{kind: graph.EdgeImports, reason: graph.ReasonNotFound}}
	}

	target := func(name string, relative bool) resolution {
		if id, ok := t.modules[name]; ok {
			return resolution{to: id, kind: graph.EdgeImports}
		}
		if relative || t.packages[name] {
			return resolution{kind: graph.EdgeImports, reason: graph.ReasonNotFound}
		}
		return resolution{kind: graph.EdgeImports, reason: graph.ReasonExternal}
	}

	if !imp.From {
		return []resolution{target(imp.Module, false)}
	}

	base := t.absoluteModule(u, imp)
	relative := imp.Level > 0
	baseID, baseOK := t.modules[base]

	var out []resolution
	seen := make(map[string]bool)
	needBase := imp.Wildcard || len(imp.Names) == 0
	for _, n := range imp.Names {
		sub := base + "." + n.Name
		if base == "" {
			sub = n.Name
		}
		if id, ok := t.modules[sub]; ok {
			if _, member := t.members[baseID][n.Name]; !baseOK || !member {
				if !seen[id] {
					seen[id] = true
					out = append(out, resolution{to: id, kind: graph.EdgeImports})
				}
				continue
			}
		}
		needBase = true
	}
	if needBase && !seen[baseID] {
		out = append(out, target(base, relative))
	}
	return out
}

package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateEntity is returned when an entity id is added twice.
var ErrDuplicateEntity = errors.New("duplicate entity id")

// CodeGraph is an in-memory directed graph of code entities and their
// relationships.
//
// Entities live in an arena keyed by id; edges reference entities by id only,
// so cyclic relationships (mutual calls, circular imports) never create
// cyclic ownership. Entities and edges are kept in insertion order, which is
// the deterministic traversal order of the graph.
//
// The graph is populated by a single assembler and treated as immutable once
// handed to a caller. Query methods are safe for concurrent use.
type CodeGraph struct {
	mu sync.RWMutex

	entities map[string]*Entity
	order    []string
	edges    []*Edge

	// Secondary indexes, kept in sync by AddEntity/AddEdge.
	byKind      map[EntityKind][]string
	byUnit      map[string][]string
	byName      map[string][]string
	edgesByKind map[EdgeKind][]int
	outgoing    map[string][]int
	incoming    map[string][]int

	report *BuildReport
}

// NewCodeGraph creates a new empty code graph.
func NewCodeGraph() *CodeGraph {
	return &CodeGraph{
		entities:    make(map[string]*Entity),
		byKind:      make(map[EntityKind][]string),
		byUnit:      make(map[string][]string),
		byName:      make(map[string][]string),
		edgesByKind: make(map[EdgeKind][]int),
		outgoing:    make(map[string][]int),
		incoming:    make(map[string][]int),
		report:      &BuildReport{},
	}
}

// AddEntity adds an entity to the arena.
func (g *CodeGraph) AddEntity(e *Entity) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.entities[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEntity, e.ID)
	}

	g.entities[e.ID] = e
	g.order = append(g.order, e.ID)
	g.byKind[e.Kind] = append(g.byKind[e.Kind], e.ID)
	g.byUnit[e.Unit] = append(g.byUnit[e.Unit], e.ID)
	g.byName[e.Name] = append(g.byName[e.Name], e.ID)
	return nil
}

// AddEdge appends an edge to the edge sequence and returns the stored edge.
// Edges are never deduplicated: two call sites produce two edges.
func (g *CodeGraph) AddEdge(e Edge) *Edge {
	g.mu.Lock()
	defer g.mu.Unlock()

	stored := e
	stored.Seq = len(g.edges)
	g.edges = append(g.edges, &stored)

	g.edgesByKind[stored.Kind] = append(g.edgesByKind[stored.Kind], stored.Seq)
	g.outgoing[stored.From] = append(g.outgoing[stored.From], stored.Seq)
	if stored.To != "" {
		g.incoming[stored.To] = append(g.incoming[stored.To], stored.Seq)
	}
	return &stored
}

// SetReport attaches the build report.
func (g *CodeGraph) SetReport(r *BuildReport) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.report = r
}

// Report returns the build report attached to the graph.
func (g *CodeGraph) Report() *BuildReport {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.report
}

// EntityCount returns the number of entities.
func (g *CodeGraph) EntityCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities)
}

// EdgeCount returns the number of edges.
func (g *CodeGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Entity returns the entity with the given id, or nil if it does not exist.
func (g *CodeGraph) Entity(id string) *Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entities[id]
}

// Entities returns all entities in insertion order.
func (g *CodeGraph) Entities() []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveIDs(g.order)
}

// EntityIDs returns all entity ids in insertion order.
func (g *CodeGraph) EntityIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// EntitiesByKind returns all entities of the given kind in insertion order.
func (g *CodeGraph) EntitiesByKind(kind EntityKind) []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveIDs(g.byKind[kind])
}

// EntitiesInUnit returns all entities declared in the unit.
func (g *CodeGraph) EntitiesInUnit(unit string) []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveIDs(g.byUnit[unit])
}

// FindByName returns all entities with the given declared name.
func (g *CodeGraph) FindByName(name string) []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveIDs(g.byName[name])
}

// Units returns the ids of all units that contributed entities, sorted.
func (g *CodeGraph) Units() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	units := make([]string, 0, len(g.byUnit))
	for u := range g.byUnit {
		units = append(units, u)
	}
	sort.Strings(units)
	return units
}

// Edges returns the full edge sequence in deterministic order.
func (g *CodeGraph) Edges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// EdgesByKind returns all edges of the given kind in sequence order.
func (g *CodeGraph) EdgesByKind(kind EdgeKind) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveSeqs(g.edgesByKind[kind], nil)
}

// Outgoing returns edges originating from the entity.
// If kinds are provided, only edges of those kinds are returned.
func (g *CodeGraph) Outgoing(id string, kinds ...EdgeKind) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveSeqs(g.outgoing[id], kinds)
}

// Incoming returns resolved edges targeting the entity.
// If kinds are provided, only edges of those kinds are returned.
func (g *CodeGraph) Incoming(id string, kinds ...EdgeKind) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveSeqs(g.incoming[id], kinds)
}

// Children returns the entities directly contained by id.
func (g *CodeGraph) Children(id string) []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Entity
	for _, seq := range g.outgoing[id] {
		e := g.edges[seq]
		if e.Kind != EdgeContains {
			continue
		}
		if child, ok := g.entities[e.To]; ok {
			out = append(out, child)
		}
	}
	return out
}

// Parent returns the innermost enclosing entity, or nil for modules.
func (g *CodeGraph) Parent(id string) *Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.entities[id]
	if !ok {
		return nil
	}
	return g.entities[e.Parent()]
}

// Callers returns the distinct entities that call or instantiate id,
// in the order of their first call edge.
func (g *CodeGraph) Callers(id string) []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var out []*Entity
	for _, seq := range g.incoming[id] {
		e := g.edges[seq]
		if e.Kind != EdgeCalls && e.Kind != EdgeInstantiates {
			continue
		}
		if seen[e.From] {
			continue
		}
		seen[e.From] = true
		if caller, ok := g.entities[e.From]; ok {
			out = append(out, caller)
		}
	}
	return out
}

// Callees returns the distinct resolved entities called or instantiated by id,
// in the order of their first call edge.
func (g *CodeGraph) Callees(id string) []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	var out []*Entity
	for _, seq := range g.outgoing[id] {
		e := g.edges[seq]
		if e.Kind != EdgeCalls && e.Kind != EdgeInstantiates {
			continue
		}
		if e.To == "" || seen[e.To] {
			continue
		}
		seen[e.To] = true
		if callee, ok := g.entities[e.To]; ok {
			out = append(out, callee)
		}
	}
	return out
}

// UnresolvedEdges returns edges that point at the Unresolved sentinel.
func (g *CodeGraph) UnresolvedEdges() []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Edge
	for _, e := range g.edges {
		if e.Unresolved() {
			out = append(out, e)
		}
	}
	return out
}

// Stats returns a summary of graph size.
func (g *CodeGraph) Stats() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stats := map[string]int{
		"entities": len(g.entities),
		"edges":    len(g.edges),
	}
	stats["modules"] = len(g.byKind[KindModule])
	stats["classes"] = len(g.byKind[KindClass])
	stats["functions"] = len(g.byKind[KindFunction])
	stats["methods"] = len(g.byKind[KindMethod])
	for _, k := range EdgeKinds {
		stats[string(k)] = len(g.edgesByKind[k])
	}
	unresolved := 0
	for _, e := range g.edges {
		if e.Unresolved() {
			unresolved++
		}
	}
	stats["unresolved"] = unresolved
	return stats
}

// resolveIDs maps ids to entities. Must be called with the read lock held.
func (g *CodeGraph) resolveIDs(ids []string) []*Entity {
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := g.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// resolveSeqs maps edge sequence numbers to edges, optionally filtered by kind.
// Must be called with the read lock held.
func (g *CodeGraph) resolveSeqs(seqs []int, kinds []EdgeKind) []*Edge {
	if len(seqs) == 0 {
		return nil
	}
	out := make([]*Edge, 0, len(seqs))
	for _, seq := range seqs {
		e := g.edges[seq]
		if len(kinds) > 0 && !containsKind(kinds, e.Kind) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func containsKind(kinds []EdgeKind, k EdgeKind) bool {
	for _, kk := range kinds {
		if kk == k {
			return true
		}
	}
	return false
}

// Package resolve turns per-unit extraction results into a CodeGraph.
//
// Resolution runs in two passes. UnitTable is the first pass and depends on
// one unit only, so it can be computed next to extraction on a worker. Link
// is the second pass; it needs every unit's table and therefore runs after
// the build barrier, followed by the Assembler.
package resolve

import (
	"strings"

	"github.com/Benny93/pygraph/internal/extract"
	"github.com/Benny93/pygraph/internal/graph"
	"github.com/Benny93/pygraph/internal/source"
)

// UnitTable is the local name table of one unit.
type UnitTable struct {
	Result *extract.Result

	// Members maps an entity id to the names declared directly in its body.
	// A later declaration of the same name shadows an earlier one.
	Members map[string]map[string]string

	// Package is the dotted package relative imports resolve against.
	Package string
}

// NewUnitTable builds the local table of one extracted unit.
func NewUnitTable(res *extract.Result) *UnitTable {
	t := &UnitTable{
		Result:  res,
		Members: make(map[string]map[string]string),
		Package: packageOf(res.Unit, res.ModuleName),
	}
	for _, e := range res.Entities {
		parent := e.Parent()
		if parent == "" {
			continue
		}
		m := t.Members[parent]
		if m == nil {
			m = make(map[string]string)
			t.Members[parent] = m
		}
		m[e.Name] = e.ID
	}
	return t
}

// packageOf returns the package a unit lives in. A package's __init__ is
// its own package.
func packageOf(unit, module string) string {
	if source.IsPackageInit(unit) {
		return module
	}
	if i := strings.LastIndex(module, "."); i >= 0 {
		return module[:i]
	}
	return ""
}

// Tables is the linked, project-wide view used for resolution.
type Tables struct {
	units []*UnitTable

	entities map[string]*graph.Entity
	members  map[string]map[string]string
	scopes   map[string]*extract.Scope

	// modules maps dotted module names to module entity ids.
	modules map[string]string

	// packages holds every dotted prefix of a module name, so namespace
	// packages without an __init__ still resolve.
	packages map[string]bool

	// unitOf maps an entity id to its unit table.
	unitOf map[string]*UnitTable

	// bases holds the resolved base classes of each class, in declared
	// order, once the Inherits pass ran.
	bases map[string][]string

	// baseMisses holds the reason of the first unresolved base of a class.
	baseMisses map[string]graph.UnresolvedReason
}

// Link merges unit tables into project tables.
func Link(units []*UnitTable) *Tables {
	t := &Tables{
		units:      units,
		entities:   make(map[string]*graph.Entity),
		members:    make(map[string]map[string]string),
		scopes:     make(map[string]*extract.Scope),
		modules:    make(map[string]string),
		packages:   make(map[string]bool),
		unitOf:     make(map[string]*UnitTable),
		bases:      make(map[string][]string),
		baseMisses: make(map[string]graph.UnresolvedReason),
	}

	for _, u := range units {
		for _, e := range u.Result.Entities {
			t.entities[e.ID] = e
			t.unitOf[e.ID] = u
		}
		for id, m := range u.Members {
			t.members[id] = m
		}
		for id, s := range u.Result.Scopes {
			t.scopes[id] = s
		}

		name := u.Result.ModuleName
		if _, dup := t.modules[name]; !dup {
			t.modules[name] = graph.ModuleID(u.Result.Unit)
		}
		parts := strings.Split(name, ".")
		for i := 1; i < len(parts); i++ {
			t.packages[strings.Join(parts[:i], ".")] = true
		}
	}
	return t
}

// Module returns the module entity id of a dotted name.
func (t *Tables) Module(name string) (string, bool) {
	id, ok := t.modules[name]
	return id, ok
}

// Member returns the id declared as name directly inside entity id.
func (t *Tables) Member(id, name string) (string, bool) {
	m, ok := t.members[id][name]
	return m, ok
}

// scopeChain returns the scopes a bare name is looked up in, innermost
// first: the entity itself, then its enclosing entities.
func (t *Tables) scopeChain(id string) []string {
	e := t.entities[id]
	if e == nil {
		return nil
	}
	chain := make([]string, 0, len(e.ScopePath)+1)
	chain = append(chain, id)
	for i := len(e.ScopePath) - 1; i >= 0; i-- {
		chain = append(chain, e.ScopePath[i])
	}
	return chain
}

// enclosingClass returns the innermost class around id, or "".
func (t *Tables) enclosingClass(id string) string {
	for _, sid := range t.scopeChain(id) {
		if e := t.entities[sid]; e != nil && e.Kind == graph.KindClass {
			return sid
		}
	}
	return ""
}

// absoluteModule resolves the module an import refers to.
func (t *Tables) absoluteModule(u *UnitTable, imp *extract.Import) string {
	if imp.Level == 0 {
		return imp.Module
	}
	pkg := u.Package
	for i := 1; i < imp.Level; i++ {
		if j := strings.LastIndex(pkg, "."); j >= 0 {
			pkg = pkg[:j]
		} else {
			pkg = ""
		}
	}
	switch {
	case pkg == "":
		return imp.Module
	case imp.Module == "":
		return pkg
	default:
		return pkg + "." + imp.Module
	}
}

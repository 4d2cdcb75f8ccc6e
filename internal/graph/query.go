package graph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Query is a fluent filter over the entities of a CodeGraph.
//
//	classes, err := graph.NewQuery(g).
//		Kind(graph.KindClass).
//		UnitPattern("models/*.py").
//		Execute()
//
// Filters are conjunctive. Results keep the graph's insertion order.
type Query struct {
	g       *CodeGraph
	kind    EntityKind
	unit    string
	filters []func(*Entity) bool
	limit   int
	err     error
}

// NewQuery creates a query over g that matches every entity.
func NewQuery(g *CodeGraph) *Query {
	return &Query{g: g}
}

// Kind restricts results to one entity kind.
func (q *Query) Kind(k EntityKind) *Query {
	q.kind = k
	return q
}

// InUnit restricts results to entities declared in the unit.
func (q *Query) InUnit(unit string) *Query {
	q.unit = unit
	return q
}

// UnitPattern restricts results to units matching a glob such as
// "models/*.py" or "**/test_*.py".
func (q *Query) UnitPattern(pattern string) *Query {
	m, err := glob.Compile(pattern, '/')
	if err != nil {
		q.setErr(fmt.Errorf("invalid unit pattern %q: %w", pattern, err))
		return q
	}
	return q.Where(func(e *Entity) bool { return m.Match(e.Unit) })
}

// NameContains restricts results to names containing s.
func (q *Query) NameContains(s string) *Query {
	return q.Where(func(e *Entity) bool { return strings.Contains(e.Name, s) })
}

// NameMatches restricts results to names matching a regular expression.
func (q *Query) NameMatches(pattern string) *Query {
	re, err := regexp.Compile(pattern)
	if err != nil {
		q.setErr(fmt.Errorf("invalid name pattern %q: %w", pattern, err))
		return q
	}
	return q.Where(func(e *Entity) bool { return re.MatchString(e.Name) })
}

// Attribute restricts results to entities whose attribute key equals value.
// An empty value only requires the attribute to be present.
func (q *Query) Attribute(key, value string) *Query {
	return q.Where(func(e *Entity) bool {
		v, ok := e.Attributes[key]
		if !ok {
			return false
		}
		return value == "" || v == value
	})
}

// Where adds a custom predicate.
func (q *Query) Where(fn func(*Entity) bool) *Query {
	q.filters = append(q.filters, fn)
	return q
}

// Limit caps the number of results. Zero means no limit.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Execute runs the query.
func (q *Query) Execute() ([]*Entity, error) {
	if q.err != nil {
		return nil, q.err
	}

	var candidates []*Entity
	switch {
	case q.unit != "":
		candidates = q.g.EntitiesInUnit(q.unit)
	case q.kind != "":
		candidates = q.g.EntitiesByKind(q.kind)
	default:
		candidates = q.g.Entities()
	}

	var out []*Entity
	for _, e := range candidates {
		if !q.matches(e) {
			continue
		}
		out = append(out, e)
		if q.limit > 0 && len(out) >= q.limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of matching entities, ignoring Limit.
func (q *Query) Count() (int, error) {
	limit := q.limit
	q.limit = 0
	defer func() { q.limit = limit }()

	res, err := q.Execute()
	if err != nil {
		return 0, err
	}
	return len(res), nil
}

// Exists reports whether at least one entity matches.
func (q *Query) Exists() (bool, error) {
	limit := q.limit
	q.limit = 1
	defer func() { q.limit = limit }()

	res, err := q.Execute()
	if err != nil {
		return false, err
	}
	return len(res) > 0, nil
}

func (q *Query) matches(e *Entity) bool {
	if q.kind != "" && e.Kind != q.kind {
		return false
	}
	if q.unit != "" && e.Unit != q.unit {
		return false
	}
	for _, f := range q.filters {
		if !f(e) {
			return false
		}
	}
	return true
}

func (q *Query) setErr(err error) {
	if q.err == nil {
		q.err = err
	}
}

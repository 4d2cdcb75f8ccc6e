// Package storage persists built code graphs.
//
// A store holds one graph snapshot at a time: its entities in insertion
// order, its edges in sequence order, the build report and a small meta
// record. Loading a snapshot yields a graph with the same entity ids and
// the same edge order as the one saved.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Benny93/pygraph/internal/graph"
)

var (
	// ErrNotInitialized is returned when a store is used before Initialize
	// or after Close.
	ErrNotInitialized = errors.New("store not initialized")

	// ErrNoGraph is returned by Load when nothing has been saved yet.
	ErrNoGraph = errors.New("no graph saved")
)

// SchemaVersion is bumped whenever the snapshot layout changes.
const SchemaVersion = 1

// Store defines the interface for graph persistence.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Save replaces the stored snapshot with g.
	Save(ctx context.Context, g *graph.CodeGraph) error

	// Load rebuilds the stored graph.
	Load(ctx context.Context) (*graph.CodeGraph, error)

	// Meta returns the meta record of the stored snapshot.
	Meta(ctx context.Context) (*Meta, error)

	// Search finds entities whose name, signature or docstring match query.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Close releases all resources held by the store.
	Close() error
}

// Meta describes a stored snapshot.
type Meta struct {
	Version  int       `json:"version"`
	BuildID  string    `json:"build_id"`
	Root     string    `json:"root"`
	SavedAt  time.Time `json:"saved_at"`
	Units    int       `json:"units"`
	Entities int       `json:"entities"`
	Edges    int       `json:"edges"`
}

// NewMeta describes g as of now.
func NewMeta(g *graph.CodeGraph) *Meta {
	m := &Meta{
		Version:  SchemaVersion,
		SavedAt:  time.Now().UTC(),
		Entities: g.EntityCount(),
		Edges:    g.EdgeCount(),
	}
	if r := g.Report(); r != nil {
		m.BuildID = r.BuildID
		m.Root = r.Root
		m.Units = r.Units
	}
	return m
}

// SearchResult is one search hit.
type SearchResult struct {
	EntityID string           `json:"entity_id"`
	Name     string           `json:"name"`
	Kind     graph.EntityKind `json:"kind"`
	Unit     string           `json:"unit"`

	// Score is the summed token frequency (higher is better).
	Score float64 `json:"score"`
}

// rebuild reassembles a graph from snapshot parts. Unresolved references
// in the report are re-pointed at the rebuilt edges by sequence number.
func rebuild(entities []*graph.Entity, edges []graph.Edge, report *graph.BuildReport) (*graph.CodeGraph, error) {
	g := graph.NewCodeGraph()
	for _, e := range entities {
		if err := g.AddEntity(e); err != nil {
			return nil, fmt.Errorf("restoring entity: %w", err)
		}
	}

	stored := make([]*graph.Edge, 0, len(edges))
	for i, e := range edges {
		if e.Seq != i {
			return nil, fmt.Errorf("restoring edges: sequence gap at %d (found %d)", i, e.Seq)
		}
		stored = append(stored, g.AddEdge(e))
	}

	if report == nil {
		report = &graph.BuildReport{}
	}
	for i := range report.Unresolved {
		ref := &report.Unresolved[i]
		if ref.Edge == nil || ref.Edge.Seq < 0 || ref.Edge.Seq >= len(stored) {
			return nil, fmt.Errorf("restoring report: unresolved reference %d has no edge", i)
		}
		ref.Edge = stored[ref.Edge.Seq]
	}
	g.SetReport(report)
	return g, nil
}

// edgesOf copies the edge sequence of g.
func edgesOf(g *graph.CodeGraph) []graph.Edge {
	src := g.Edges()
	out := make([]graph.Edge, len(src))
	for i, e := range src {
		out[i] = *e
	}
	return out
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Benny93/pygraph/internal/graph"
)

// MemoryStore is an in-memory Store. Snapshots are kept JSON-encoded so a
// loaded graph never aliases the one that was saved.
type MemoryStore struct {
	mu       sync.RWMutex
	entities [][]byte
	edges    [][]byte
	report   []byte
	meta     *Meta
	tokens   map[string]map[string]int // token -> entity id -> frequency
	closed   bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entities, m.edges, m.report, m.meta, m.tokens = nil, nil, nil, nil, nil
	return nil
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, g *graph.CodeGraph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrNotInitialized
	}

	var (
		entities [][]byte
		edges    [][]byte
		tokens   = make(map[string]map[string]int)
	)
	for _, e := range g.Entities() {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling entity: %w", err)
		}
		entities = append(entities, data)
		for token, freq := range entityTokens(e) {
			if tokens[token] == nil {
				tokens[token] = make(map[string]int)
			}
			tokens[token][e.ID] = freq
		}
	}
	for _, e := range edgesOf(g) {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling edge: %w", err)
		}
		edges = append(edges, data)
	}
	report, err := json.Marshal(g.Report())
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	m.entities, m.edges, m.report, m.tokens = entities, edges, report, tokens
	m.meta = NewMeta(g)
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(ctx context.Context) (*graph.CodeGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrNotInitialized
	}
	if m.meta == nil {
		return nil, ErrNoGraph
	}

	entities := make([]*graph.Entity, 0, len(m.entities))
	for _, data := range m.entities {
		var e graph.Entity
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("unmarshaling entity: %w", err)
		}
		entities = append(entities, &e)
	}
	edges := make([]graph.Edge, 0, len(m.edges))
	for _, data := range m.edges {
		var e graph.Edge
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("unmarshaling edge: %w", err)
		}
		edges = append(edges, e)
	}
	report := &graph.BuildReport{}
	if err := json.Unmarshal(m.report, report); err != nil {
		return nil, fmt.Errorf("unmarshaling report: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rebuild(entities, edges, report)
}

// Meta implements Store.
func (m *MemoryStore) Meta(ctx context.Context) (*Meta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrNotInitialized
	}
	if m.meta == nil {
		return nil, ErrNoGraph
	}
	meta := *m.meta
	return &meta, nil
}

// Search implements Store.
func (m *MemoryStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrNotInitialized
	}

	scores := make(map[string]float64)
	for _, token := range tokenize(query) {
		for id, freq := range m.tokens[token] {
			scores[id] += float64(freq)
		}
	}

	results := []SearchResult{}
	for _, data := range m.entities {
		if len(scores) == 0 {
			break
		}
		var e graph.Entity
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("unmarshaling entity: %w", err)
		}
		if score, ok := scores[e.ID]; ok {
			results = append(results, SearchResult{
				EntityID: e.ID,
				Name:     e.Name,
				Kind:     e.Kind,
				Unit:     e.Unit,
				Score:    score,
			})
		}
	}
	return rankResults(results, limit), nil
}

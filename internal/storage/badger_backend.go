package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/Benny93/pygraph/internal/graph"
)

// Key prefixes for the snapshot parts.
const (
	prefixEntity = "e:" // e:{insertion index} -> entity
	prefixEdge   = "g:" // g:{sequence} -> edge
	prefixToken  = "t:" // t:{token}:{entity id} -> frequency
	keyReport    = "r:"
	keyMeta      = "m:"
)

// BadgerStore is a BadgerDB-backed Store.
type BadgerStore struct {
	mu       sync.RWMutex
	db       *badger.DB
	readOnly bool
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore creates an unopened store.
func NewBadgerStore() *BadgerStore {
	return &BadgerStore{}
}

// Initialize opens or creates the database at path.
func (b *BadgerStore) Initialize(path string, readOnly bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := badger.DefaultOptions(path).
		WithNumCompactors(2).
		WithNumMemtables(5).
		WithLoggingLevel(badger.ERROR)
	if readOnly {
		opts = opts.WithReadOnly(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("opening badger DB: %w", err)
	}
	b.db = db
	b.readOnly = readOnly
	return nil
}

// Close implements Store.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// seqKey zero-pads n so that lexicographic key order is numeric order.
func seqKey(prefix string, n int) []byte {
	return []byte(fmt.Sprintf("%s%010d", prefix, n))
}

func tokenKey(token, id string) []byte {
	return []byte(prefixToken + token + ":" + id)
}

// Save implements Store.
func (b *BadgerStore) Save(ctx context.Context, g *graph.CodeGraph) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return ErrNotInitialized
	}
	if b.readOnly {
		return errors.New("store is read-only")
	}
	if err := b.db.DropAll(); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	set := func(key []byte, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", key, err)
		}
		return wb.Set(key, data)
	}

	for i, e := range g.Entities() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := set(seqKey(prefixEntity, i), e); err != nil {
			return err
		}
		for token, freq := range entityTokens(e) {
			if err := wb.Set(tokenKey(token, e.ID), []byte(strconv.Itoa(freq))); err != nil {
				return fmt.Errorf("setting token index: %w", err)
			}
		}
	}

	for _, e := range edgesOf(g) {
		if err := set(seqKey(prefixEdge, e.Seq), e); err != nil {
			return err
		}
	}

	if err := set([]byte(keyReport), g.Report()); err != nil {
		return err
	}
	if err := set([]byte(keyMeta), NewMeta(g)); err != nil {
		return err
	}
	return wb.Flush()
}

// Load implements Store.
func (b *BadgerStore) Load(ctx context.Context) (*graph.CodeGraph, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, ErrNotInitialized
	}

	var (
		entities []*graph.Entity
		edges    []graph.Edge
		report   *graph.BuildReport
	)
	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(keyMeta)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNoGraph
		} else if err != nil {
			return err
		}

		err := scan(txn, prefixEntity, func(val []byte) error {
			var e graph.Entity
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("unmarshaling entity: %w", err)
			}
			entities = append(entities, &e)
			return ctx.Err()
		})
		if err != nil {
			return err
		}

		err = scan(txn, prefixEdge, func(val []byte) error {
			var e graph.Edge
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("unmarshaling edge: %w", err)
			}
			edges = append(edges, e)
			return ctx.Err()
		})
		if err != nil {
			return err
		}

		report = &graph.BuildReport{}
		return getJSON(txn, keyReport, report)
	})
	if err != nil {
		return nil, err
	}
	return rebuild(entities, edges, report)
}

// Meta implements Store.
func (b *BadgerStore) Meta(ctx context.Context) (*Meta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, ErrNotInitialized
	}
	var m Meta
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, keyMeta, &m)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoGraph
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Search implements Store with summed token frequency scoring.
func (b *BadgerStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.db == nil {
		return nil, ErrNotInitialized
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return []SearchResult{}, nil
	}

	var results []SearchResult
	err := b.db.View(func(txn *badger.Txn) error {
		scores := make(map[string]float64)
		for _, token := range queryTokens {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(prefixToken + token + ":")
			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()
				id := strings.TrimPrefix(string(item.Key()), string(opts.Prefix))
				var freq int
				_ = item.Value(func(val []byte) error {
					freq, _ = strconv.Atoi(string(val))
					return nil
				})
				scores[id] += float64(freq)
			}
			it.Close()
		}
		if len(scores) == 0 {
			return nil
		}

		// Entity keys are positional, so hits are joined by a single scan.
		return scan(txn, prefixEntity, func(val []byte) error {
			var e graph.Entity
			if err := json.Unmarshal(val, &e); err != nil {
				return fmt.Errorf("unmarshaling entity: %w", err)
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
			return ctx.Err()
		})
	})
	if err != nil {
		return nil, err
	}
	return rankResults(results, limit), nil
}

// scan calls fn with the value of every key under prefix, in key order.
func scan(txn *badger.Txn, prefix string, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

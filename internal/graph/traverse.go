package graph

import "sort"

// Direction selects which edges a traversal follows.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

// DefaultMaxPathDepth bounds FindPaths when no depth is given.
const DefaultMaxPathDepth = 100

// TraverseOptions configures BFS, DFS and FindPaths.
type TraverseOptions struct {
	// Kinds restricts the edge kinds followed. Empty follows every kind.
	Kinds []EdgeKind

	Direction Direction

	// MaxDepth limits the number of hops from the start. Zero is unlimited.
	MaxDepth int
}

// neighbors returns the resolved neighbor ids of id in edge order,
// without duplicates.
func (g *CodeGraph) neighbors(id string, opts TraverseOptions) []string {
	var edges []*Edge
	if opts.Direction == Outgoing || opts.Direction == Both {
		edges = append(edges, g.Outgoing(id, opts.Kinds...)...)
	}
	if opts.Direction == Incoming || opts.Direction == Both {
		edges = append(edges, g.Incoming(id, opts.Kinds...)...)
	}

	seen := make(map[string]bool, len(edges))
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		if e.Unresolved() {
			continue
		}
		n := e.To
		if e.From != id {
			n = e.From
		}
		if n == id || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// BFS returns the ids reachable from start in breadth-first order,
// excluding start itself.
func (g *CodeGraph) BFS(start string, opts TraverseOptions) []string {
	type item struct {
		id    string
		depth int
	}

	visited := map[string]bool{start: true}
	queue := []item{{id: start}}
	var result []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if opts.MaxDepth > 0 && current.depth >= opts.MaxDepth {
			continue
		}
		for _, n := range g.neighbors(current.id, opts) {
			if visited[n] {
				continue
			}
			visited[n] = true
			result = append(result, n)
			queue = append(queue, item{id: n, depth: current.depth + 1})
		}
	}
	return result
}

// DFS returns the ids reachable from start in depth-first preorder,
// excluding start itself. Neighbors are visited in edge order.
func (g *CodeGraph) DFS(start string, opts TraverseOptions) []string {
	type item struct {
		id    string
		depth int
	}

	visited := map[string]bool{start: true}
	stack := []item{{id: start}}
	var result []string

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current.id != start {
			result = append(result, current.id)
		}
		if opts.MaxDepth > 0 && current.depth >= opts.MaxDepth {
			continue
		}

		next := g.neighbors(current.id, opts)
		// Push in reverse so the first neighbor is popped first.
		for i := len(next) - 1; i >= 0; i-- {
			n := next[i]
			if visited[n] {
				continue
			}
			visited[n] = true
			stack = append(stack, item{id: n, depth: current.depth + 1})
		}
	}
	return result
}

// StronglyConnectedComponents finds cycles over the given edge kinds using an
// iterative Tarjan's algorithm. Only non-trivial components are returned:
// two or more entities, or a single entity with an edge to itself.
// Members of each component are listed in graph insertion order.
func (g *CodeGraph) StronglyConnectedComponents(kinds ...EdgeKind) [][]string {
	opts := TraverseOptions{Kinds: kinds, Direction: Outgoing}
	ids := g.EntityIDs()
	position := make(map[string]int, len(ids))
	for i, id := range ids {
		position[id] = i
	}

	var (
		counter int
		index   = make(map[string]int)
		low     = make(map[string]int)
		onStack = make(map[string]bool)
		stack   []string
		sccs    [][]string
	)

	type frame struct {
		id   string
		next []string
		i    int
	}

	visit := func(v string) frame {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true
		return frame{id: v, next: g.neighbors(v, opts)}
	}

	for _, root := range ids {
		if _, ok := index[root]; ok {
			continue
		}

		calls := []frame{visit(root)}
		for len(calls) > 0 {
			top := len(calls) - 1
			f := &calls[top]

			if f.i < len(f.next) {
				w := f.next[f.i]
				f.i++
				if _, seen := index[w]; !seen {
					calls = append(calls, visit(w))
				} else if onStack[w] && index[w] < low[f.id] {
					low[f.id] = index[w]
				}
				continue
			}

			v := f.id
			calls = calls[:top]
			if len(calls) > 0 {
				parent := calls[len(calls)-1].id
				if low[v] < low[parent] {
					low[parent] = low[v]
				}
			}
			if low[v] != index[v] {
				continue
			}

			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 || g.hasSelfEdge(v, kinds) {
				sort.Slice(scc, func(a, b int) bool { return position[scc[a]] < position[scc[b]] })
				sccs = append(sccs, scc)
			}
		}
	}
	return sccs
}

func (g *CodeGraph) hasSelfEdge(id string, kinds []EdgeKind) bool {
	for _, e := range g.Outgoing(id, kinds...) {
		if e.To == id {
			return true
		}
	}
	return false
}

// FindPaths enumerates simple paths from one entity to another. Each path
// lists entity ids from start to end. MaxDepth bounds the number of hops and
// defaults to DefaultMaxPathDepth.
func (g *CodeGraph) FindPaths(from, to string, opts TraverseOptions) [][]string {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxPathDepth
	}

	var paths [][]string
	path := []string{from}
	onPath := map[string]bool{from: true}

	var walk func(current string)
	walk = func(current string) {
		if current == to {
			found := make([]string, len(path))
			copy(found, path)
			paths = append(paths, found)
			return
		}
		if len(path)-1 >= maxDepth {
			return
		}
		for _, n := range g.neighbors(current, opts) {
			if onPath[n] {
				continue
			}
			onPath[n] = true
			path = append(path, n)
			walk(n)
			path = path[:len(path)-1]
			onPath[n] = false
		}
	}
	walk(from)
	return paths
}

package resolve

import (
	"strings"

	"github.com/Benny93/pygraph/internal/extract"
	"github.com/Benny93/pygraph/internal/graph"
)

type refKind int

const (
	refMissing refKind = iota
	refEntity
	refNamespace
	refInstance
)

// ref is what a name or dotted path evaluates to.
type ref struct {
	kind refKind

	// id is the entity for refEntity.
	id string

	// path is the dotted package name for refNamespace.
	path string

	// typ and chain locate the type expression of a refInstance; the
	// expression is looked up in chain, where it was bound.
	typ   string
	chain []string

	// reason explains a refMissing.
	reason graph.UnresolvedReason
}

func missing(reason graph.UnresolvedReason) ref {
	return ref{kind: refMissing, reason: reason}
}

func entity(id string) ref {
	return ref{kind: refEntity, id: id}
}

// lookup binds a bare name, innermost scope first. At each level the local
// bindings and declarations are consulted before the imports of that level,
// so a local definition shadows an imported name.
func (t *Tables) lookup(chain []string, name string) ref {
	for i, sid := range chain {
		scope := t.scopes[sid]
		if scope != nil {
			if typ, ok := scope.Bindings[name]; ok {
				return ref{kind: refInstance, typ: typ, chain: chain[i:]}
			}
		}
		if id, ok := t.members[sid][name]; ok {
			return entity(id)
		}
		if scope != nil {
			if r, ok := t.lookupImports(scope, name, nil); ok {
				return r
			}
		}
	}
	if builtins[name] {
		return missing(graph.ReasonBuiltin)
	}
	return missing(graph.ReasonNotFound)
}

// lookupImports binds name against the imports of one scope in declaration
// order. visited guards re-export chains between modules.
func (t *Tables) lookupImports(scope *extract.Scope, name string, visited map[string]bool) (ref, bool) {
	u := t.unitOf[scope.Entity]
	for _, imp := range scope.Imports {
		if !imp.From {
			if imp.Bound() != name {
				continue
			}
			if imp.Alias != "" {
				return t.moduleRef(imp.Module), true
			}
			return t.moduleRef(name), true
		}

		base := imp.Module
		if u != nil {
			base = t.absoluteModule(u, imp)
		}
		for _, n := range imp.Names {
			bound := n.Name
			if n.Alias != "" {
				bound = n.Alias
			}
			if bound == name {
				return t.memberOfModule(base, n.Name, visited), true
			}
		}
		if imp.Wildcard {
			if mid, ok := t.modules[base]; ok {
				if id, ok := t.members[mid][name]; ok {
					return entity(id), true
				}
			}
		}
	}
	return ref{}, false
}

// moduleRef evaluates a dotted module name.
func (t *Tables) moduleRef(name string) ref {
	if id, ok := t.modules[name]; ok {
		return entity(id)
	}
	if t.packages[name] {
		return ref{kind: refNamespace, path: name}
	}
	return missing(graph.ReasonExternal)
}

// memberOfModule evaluates module.name: a declaration of the module, a
// submodule, or a name the module itself imports.
func (t *Tables) memberOfModule(module, name string, visited map[string]bool) ref {
	mid, ok := t.modules[module]
	if !ok {
		if t.packages[module] {
			return t.moduleRef(module + "." + name)
		}
		return missing(graph.ReasonExternal)
	}
	if id, ok := t.members[mid][name]; ok {
		return entity(id)
	}
	if sub, ok := t.modules[module+"."+name]; ok {
		return entity(sub)
	}

	if visited[mid] {
		return missing(graph.ReasonCycle)
	}
	if visited == nil {
		visited = make(map[string]bool)
	}
	visited[mid] = true
	if scope := t.scopes[mid]; scope != nil {
		if r, ok := t.lookupImports(scope, name, visited); ok {
			return r
		}
	}
	return missing(graph.ReasonNotFound)
}

// attr evaluates r.name.
func (t *Tables) attr(r ref, name string) ref {
	switch r.kind {
	case refNamespace:
		return t.moduleRef(r.path + "." + name)
	case refInstance:
		cls := t.instanceClass(r)
		if cls.kind != refEntity {
			return cls
		}
		return t.classMember(cls.id, name, false)
	case refEntity:
		e := t.entities[r.id]
		switch e.Kind {
		case graph.KindModule:
			return t.memberOfModule(e.Attr(graph.AttrModuleName), name, nil)
		case graph.KindClass:
			return t.classMember(r.id, name, false)
		default:
			return missing(graph.ReasonDynamic)
		}
	default:
		return r
	}
}

// instanceClass resolves the class an instance binding was created from.
func (t *Tables) instanceClass(r ref) ref {
	cls := t.dotted(r.chain, strings.Split(r.typ, "."), 0)
	if cls.kind == refEntity && t.entities[cls.id].Kind == graph.KindClass {
		return cls
	}
	if cls.kind == refMissing && cls.reason != graph.ReasonNotFound {
		return cls
	}
	return missing(graph.ReasonDynamic)
}

// dotted evaluates a dotted path left to right. depth bounds instance
// bindings that refer to each other.
func (t *Tables) dotted(chain []string, path []string, depth int) ref {
	if len(path) == 0 {
		return missing(graph.ReasonDynamic)
	}
	r := t.lookup(chain, path[0])
	for _, seg := range path[1:] {
		if r.kind == refInstance {
			if depth > maxBindingDepth {
				return missing(graph.ReasonDynamic)
			}
			cls := t.dotted(r.chain, strings.Split(r.typ, "."), depth+1)
			if cls.kind != refEntity || t.entities[cls.id].Kind != graph.KindClass {
				return missing(graph.ReasonDynamic)
			}
			r = t.classMember(cls.id, seg, false)
			continue
		}
		r = t.attr(r, seg)
		if r.kind == refMissing {
			return r
		}
	}
	return r
}

const maxBindingDepth = 8

// classMember looks name up in a class and its ancestors, depth-first and
// left to right over the declared bases. With skipSelf the class's own body
// is not consulted, which is how super() lookups start.
//
// Each class is visited at most once, so diamond hierarchies are walked
// without repetition. Reaching a class that is already on the current path
// is an inheritance cycle.
func (t *Tables) classMember(class, name string, skipSelf bool) ref {
	type frame struct {
		class string
		next  int
	}

	visited := map[string]bool{class: true}
	onPath := map[string]bool{class: true}
	stack := []frame{{class: class}}
	cycle := false
	var miss graph.UnresolvedReason

	if !skipSelf {
		if id, ok := t.members[class][name]; ok {
			return entity(id)
		}
	}
	if r, ok := t.baseMisses[class]; ok {
		miss = r
	}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		bases := t.bases[top.class]
		if top.next >= len(bases) {
			onPath[top.class] = false
			stack = stack[:len(stack)-1]
			continue
		}
		base := bases[top.next]
		top.next++

		if onPath[base] {
			cycle = true
			continue
		}
		if visited[base] {
			continue
		}
		visited[base] = true

		if id, ok := t.members[base][name]; ok {
			return entity(id)
		}
		if r, ok := t.baseMisses[base]; ok && miss == "" {
			miss = r
		}
		onPath[base] = true
		stack = append(stack, frame{class: base})
	}

	switch {
	case cycle:
		return missing(graph.ReasonCycle)
	case miss != "":
		return missing(miss)
	default:
		return missing(graph.ReasonNotFound)
	}
}

// builtins are names Python resolves without an import.
var builtins = map[string]bool{
	"abs": true, "aiter": true, "all": true, "anext": true, "any": true,
	"ascii": true, "bin": true, "bool": true, "breakpoint": true,
	"bytearray": true, "bytes": true, "callable": true, "chr": true,
	"classmethod": true, "compile": true, "complex": true, "delattr": true,
	"dict": true, "dir": true, "divmod": true, "enumerate": true, "eval": true,
	"exec": true, "filter": true, "float": true, "format": true,
	"frozenset": true, "getattr": true, "globals": true, "hasattr": true,
	"hash": true, "help": true, "hex": true, "id": true, "input": true,
	"int": true, "isinstance": true, "issubclass": true, "iter": true,
	"len": true, "list": true, "locals": true, "map": true, "max": true,
	"memoryview": true, "min": true, "next": true, "object": true, "oct": true,
	"open": true, "ord": true, "pow": true, "print": true, "property": true,
	"range": true, "repr": true, "reversed": true, "round": true, "set": true,
	"setattr": true, "slice": true, "sorted": true, "staticmethod": true,
	"str": true, "sum": true, "super": true, "tuple": true, "type": true,
	"vars": true, "zip": true, "__import__": true,

	"BaseException": true, "Exception": true, "ArithmeticError": true,
	"AssertionError": true, "AttributeError": true, "EOFError": true,
	"FileExistsError": true, "FileNotFoundError": true, "ImportError": true,
	"IndexError": true, "KeyError": true, "KeyboardInterrupt": true,
	"LookupError": true, "MemoryError": true, "NameError": true,
	"NotImplementedError": true, "OSError": true, "IOError": true,
	"OverflowError": true, "PermissionError": true, "RecursionError": true,
	"RuntimeError": true, "StopIteration": true, "StopAsyncIteration": true,
	"SyntaxError": true, "SystemExit": true, "TimeoutError": true,
	"TypeError": true, "UnicodeError": true, "ValueError": true,
	"ZeroDivisionError": true, "Warning": true, "DeprecationWarning": true,
	"UserWarning": true, "NotImplemented": true, "Ellipsis": true,
}

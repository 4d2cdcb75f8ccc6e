package extract

import (
	"strings"

	"github.com/Benny93/pygraph/internal/graph"
	"github.com/Benny93/pygraph/internal/parsers"
)

// relations walks one entity body and emits its Calls and Imports intents
// in syntactic occurrence order.
//
// Nested definitions are entities of their own and are skipped, except
// inside methods, where nested functions are folded into the method.
// Decorator expressions belong to the enclosing body.
type relations struct {
	w     *walker
	from  *graph.Entity
	scope *Scope
	fold  bool

	// declared holds the definition nodes that became child entities.
	declared map[*parsers.Node]bool
}

func (r *relations) visit(n *parsers.Node) {
	if n == nil {
		return
	}
	switch n.Type {
	case "decorated_definition":
		for _, dec := range n.ChildrenOfType("decorator") {
			r.visit(dec)
		}
		if r.fold && !r.declared[n] {
			r.visit(n.Field("definition"))
		}
		return
	case "class_definition", "function_definition":
		if !r.fold || r.declared[n] {
			return
		}
		if p := n.Field("parameters"); p != nil {
			r.w.bindParams(r.scope, p)
		}
	case "call":
		r.call(n)
	case "import_statement":
		r.plainImport(n)
		return
	case "import_from_statement":
		r.fromImport(n)
		return
	case "future_import_statement":
		return
	case "assignment":
		r.assignment(n)
	}
	for _, c := range n.Children {
		r.visit(c)
	}
}

func (r *relations) emit(it Intent) {
	r.w.res.Intents = append(r.w.res.Intents, it)
}

func (r *relations) call(n *parsers.Node) {
	fn := n.Field("function")
	if fn == nil {
		return
	}

	it := Intent{
		Kind:   graph.EdgeCalls,
		From:   r.from.ID,
		Target: compact(fn.Text()),
		Span:   n.Span,
	}

	switch fn.Type {
	case "identifier":
		it.Style = graph.StyleDirect
		it.Attribute = fn.Text()
		it.Path = []string{fn.Text()}
	case "attribute":
		obj := fn.Field("object")
		it.Attribute = fn.Field("attribute").Text()
		switch {
		case obj == nil:
			it.Style = graph.StyleChained
		case obj.Type == "identifier" && r.scope.Instance != "" && obj.Text() == r.scope.Instance:
			it.Style = graph.StyleSelf
		case obj.Type == "call" && isSuperCall(obj):
			it.Style = graph.StyleSelf
			it.Super = true
		case obj.Type == "identifier":
			it.Style = graph.StyleDirect
			it.Receiver = obj.Text()
			it.Path = []string{obj.Text(), it.Attribute}
		default:
			it.Style = graph.StyleChained
			it.Path = dottedPath(fn)
		}
	default:
		it.Style = graph.StyleChained
	}

	if r.w.x.cfg.SkipDunderCalls && isDunder(it.Attribute) {
		return
	}
	r.emit(it)
}

func isSuperCall(n *parsers.Node) bool {
	fn := n.Field("function")
	return fn != nil && fn.Type == "identifier" && fn.Text() == "super"
}

// assignment records x = ClassName(...) and x: ClassName = ... bindings.
func (r *relations) assignment(n *parsers.Node) {
	left := n.Field("left")
	if left == nil || left.Type != "identifier" {
		return
	}
	if t := typeName(n.Field("type")); t != "" {
		r.scope.bind(left.Text(), t)
		return
	}
	right := n.Field("right")
	if right == nil || right.Type != "call" {
		return
	}
	if path := dottedPath(right.Field("function")); path != nil {
		r.scope.bind(left.Text(), strings.Join(path, "."))
	}
}

func (r *relations) plainImport(n *parsers.Node) {
	for _, c := range n.Children {
		imp := &Import{Span: c.Span}
		switch c.Type {
		case "dotted_name":
			imp.Module = compact(c.Text())
		case "aliased_import":
			imp.Module = compact(c.Field("name").Text())
			imp.Alias = c.Field("alias").Text()
		default:
			continue
		}
		r.addImport(imp)
	}
}

func (r *relations) fromImport(n *parsers.Node) {
	module := n.Field("module_name")
	if module == nil {
		return
	}

	imp := &Import{From: true, Span: n.Span}
	spec := compact(module.Text())
	imp.Level = len(spec) - len(strings.TrimLeft(spec, "."))
	imp.Module = spec[imp.Level:]

	for _, c := range n.Children {
		if c == module {
			continue
		}
		switch c.Type {
		case "dotted_name":
			imp.Names = append(imp.Names, ImportName{Name: compact(c.Text())})
		case "aliased_import":
			imp.Names = append(imp.Names, ImportName{
				Name:  compact(c.Field("name").Text()),
				Alias: c.Field("alias").Text(),
			})
		case "wildcard_import":
			imp.Wildcard = true
		}
	}
	r.addImport(imp)
}

func (r *relations) addImport(imp *Import) {
	r.scope.Imports = append(r.scope.Imports, imp)
	r.emit(Intent{
		Kind:   graph.EdgeImports,
		From:   r.from.ID,
		Target: imp.Spec(),
		Import: imp,
		Span:   imp.Span,
	})
}

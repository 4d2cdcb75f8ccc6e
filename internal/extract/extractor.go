package extract

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/Benny93/pygraph/internal/config"
	"github.com/Benny93/pygraph/internal/graph"
	"github.com/Benny93/pygraph/internal/parsers"
)

// Extractor turns syntax trees into entities and intents.
//
// Thread Safety: safe for concurrent use; all state lives in the per-call
// walker.
type Extractor struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates an extractor. A nil config means config.Default().
func New(cfg *config.Config, logger *slog.Logger) *Extractor {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

// Extract walks one unit. moduleName is the dotted import name of the unit.
func (x *Extractor) Extract(tree *parsers.Tree, moduleName string) *Result {
	w := &walker{
		x:      x,
		unit:   tree.Unit,
		src:    tree.Source,
		res:    &Result{Unit: tree.Unit, ModuleName: moduleName, Scopes: make(map[string]*Scope)},
		counts: make(map[string]map[string]int),
	}

	module := &graph.Entity{
		ID:        graph.ModuleID(tree.Unit),
		Name:      moduleName,
		Kind:      graph.KindModule,
		Unit:      tree.Unit,
		Span:      tree.Root.Span,
		Docstring: docstring(tree.Root),
	}
	module.SetAttr(graph.AttrModuleName, moduleName)

	w.entity(&decl{entity: module, body: tree.Root})

	x.logger.Debug("extracted unit",
		slog.String("unit", tree.Unit),
		slog.Int("entities", len(w.res.Entities)),
		slog.Int("intents", len(w.res.Intents)))
	return w.res
}

// decl is a declared entity waiting to be walked.
type decl struct {
	entity *graph.Entity
	body   *parsers.Node
	bases  []*parsers.Node
	params *parsers.Node
}

type walker struct {
	x    *Extractor
	unit string
	src  []byte
	res  *Result

	// counts tracks declared names per parent for duplicate suffixes.
	counts map[string]map[string]int
}

func (w *walker) scope(id string) *Scope {
	s, ok := w.res.Scopes[id]
	if !ok {
		s = &Scope{Entity: id}
		w.res.Scopes[id] = s
	}
	return s
}

// entity records d, declares its children, emits its intents and recurses.
// The result is a preorder of entities with each entity's intents emitted
// before its children's.
func (w *walker) entity(d *decl) {
	e := d.entity
	w.res.Entities = append(w.res.Entities, e)
	scope := w.scope(e.ID)
	scope.Instance = e.Attr(graph.AttrInstanceBinding)

	// Functions nested in a method are folded into it. Classes declared in
	// a method body are entities, and their definitions are skipped when the
	// method body is walked.
	var children []*decl
	declared := make(map[*parsers.Node]bool)
	for _, n := range collectDecls(d.body) {
		if e.Kind == graph.KindMethod && !isClassDecl(n) {
			continue
		}
		if child := w.declare(e, n); child != nil {
			children = append(children, child)
			declared[n] = true
		}
	}

	if e.Kind == graph.KindClass {
		for _, c := range children {
			if c.entity.Attr(graph.AttrAbstract) == "true" {
				e.SetAttr(graph.AttrAbstract, "true")
				break
			}
		}
	}

	for _, c := range children {
		w.res.Intents = append(w.res.Intents, Intent{
			Kind:   graph.EdgeContains,
			From:   e.ID,
			To:     c.entity.ID,
			Target: c.entity.Name,
			Span:   c.entity.Span,
		})
	}

	for _, b := range d.bases {
		target := b
		if b.Type == "subscript" && b.Field("value") != nil {
			target = b.Field("value")
		}
		w.res.Intents = append(w.res.Intents, Intent{
			Kind:   graph.EdgeInherits,
			From:   e.ID,
			Target: compact(target.Text()),
			Path:   dottedPath(target),
			Span:   b.Span,
		})
	}

	if d.params != nil {
		w.bindParams(scope, d.params)
	}

	r := &relations{w: w, from: e, scope: scope, fold: e.Kind == graph.KindMethod, declared: declared}
	r.visit(d.body)

	for _, c := range children {
		w.entity(c)
	}
}

// declare builds the entity for a definition node. It returns nil for nodes
// that are not usable declarations.
func (w *walker) declare(parent *graph.Entity, n *parsers.Node) *decl {
	def := n
	var decorators []*parsers.Node
	if n.Type == "decorated_definition" {
		decorators = n.ChildrenOfType("decorator")
		def = n.Field("definition")
		if def == nil {
			return nil
		}
	}

	name := def.Field("name").Text()
	if name == "" {
		return nil
	}
	if !w.x.cfg.IncludePrivate && isPrivate(name) {
		return nil
	}

	var kind graph.EntityKind
	switch def.Type {
	case "class_definition":
		kind = graph.KindClass
	case "function_definition":
		kind = graph.KindFunction
		if parent.Kind == graph.KindClass {
			kind = graph.KindMethod
		}
	default:
		return nil
	}

	segment := name
	if w.counts[parent.ID] == nil {
		w.counts[parent.ID] = make(map[string]int)
	}
	w.counts[parent.ID][name]++
	if n := w.counts[parent.ID][name]; n > 1 {
		segment = name + "#" + strconv.Itoa(n)
	}

	qualified := segment
	if parent.Kind != graph.KindModule {
		qualified = parent.QualifiedName() + "." + segment
	}

	scopePath := make([]string, 0, len(parent.ScopePath)+1)
	scopePath = append(scopePath, parent.ScopePath...)
	scopePath = append(scopePath, parent.ID)

	body := def.Field("body")
	e := &graph.Entity{
		ID:        graph.EntityID(w.unit, qualified),
		Name:      name,
		Kind:      kind,
		Unit:      w.unit,
		ScopePath: scopePath,
		Span:      def.Span,
		Docstring: docstring(body),
	}

	for _, dec := range decorators {
		e.Decorators = append(e.Decorators, decoratorName(dec))
	}

	d := &decl{entity: e, body: body}

	switch kind {
	case graph.KindClass:
		d.bases = w.classBases(e, def.Field("superclasses"))
	case graph.KindFunction, graph.KindMethod:
		e.Signature = w.signature(def, body)
		if def.HasToken("async") {
			e.SetAttr(graph.AttrAsync, "true")
		}
		applyDecorators(e)
		params := def.Field("parameters")
		d.params = params
		if kind == graph.KindMethod && e.Attr(graph.AttrStatic) != "true" {
			if first := firstParam(params); first != "" {
				e.SetAttr(graph.AttrInstanceBinding, first)
			}
		}
	}
	return d
}

// classBases records the base list of a class and returns the positional
// base expressions.
func (w *walker) classBases(e *graph.Entity, args *parsers.Node) []*parsers.Node {
	if args == nil {
		return nil
	}
	var bases []*parsers.Node
	for _, arg := range args.Children {
		switch arg.Type {
		case "keyword_argument":
			if arg.Field("name").Text() == "metaclass" && isABCName(compact(arg.Field("value").Text()), "ABCMeta") {
				e.SetAttr(graph.AttrAbstract, "true")
			}
		case "list_splat", "dictionary_splat":
		default:
			text := compact(arg.Text())
			e.Bases = append(e.Bases, text)
			if isABCName(text, "ABC") {
				e.SetAttr(graph.AttrAbstract, "true")
			}
			bases = append(bases, arg)
		}
	}
	return bases
}

func (w *walker) signature(def, body *parsers.Node) string {
	end := def.Span.EndByte
	if body != nil {
		end = body.Span.StartByte
	}
	sig := strings.TrimSpace(string(w.src[def.Span.StartByte:end]))
	sig = strings.TrimSuffix(sig, ":")
	return strings.Join(strings.Fields(sig), " ")
}

// bindParams records annotated parameters as typed local bindings.
func (w *walker) bindParams(scope *Scope, params *parsers.Node) {
	for _, p := range params.Children {
		switch p.Type {
		case "typed_parameter":
			if len(p.Children) > 0 && p.Children[0].Type == "identifier" {
				scope.bind(p.Children[0].Text(), typeName(p.Field("type")))
			}
		case "typed_default_parameter":
			scope.bind(p.Field("name").Text(), typeName(p.Field("type")))
		}
	}
}

// collectDecls returns the definitions declared directly in a body,
// looking through compound statements (if, try, with, ...) but never into
// other definitions.
func collectDecls(body *parsers.Node) []*parsers.Node {
	var out []*parsers.Node
	body.Walk(func(n *parsers.Node) bool {
		if n == body {
			return true
		}
		switch n.Type {
		case "class_definition", "function_definition", "decorated_definition":
			out = append(out, n)
			return false
		case "lambda", "call", "expression_statement", "assignment", "return_statement":
			return false
		}
		return true
	})
	return out
}

// isClassDecl reports whether n defines a class, decorated or not.
func isClassDecl(n *parsers.Node) bool {
	if n.Type == "decorated_definition" {
		n = n.Field("definition")
	}
	return n != nil && n.Type == "class_definition"
}

func firstParam(params *parsers.Node) string {
	if params == nil || len(params.Children) == 0 {
		return ""
	}
	p := params.Children[0]
	switch p.Type {
	case "identifier":
		return p.Text()
	case "typed_parameter":
		if len(p.Children) > 0 && p.Children[0].Type == "identifier" {
			return p.Children[0].Text()
		}
	case "default_parameter", "typed_default_parameter":
		return p.Field("name").Text()
	}
	return ""
}

func decoratorName(dec *parsers.Node) string {
	if len(dec.Children) == 0 {
		return strings.TrimPrefix(compact(dec.Text()), "@")
	}
	expr := dec.Children[0]
	if expr.Type == "call" && expr.Field("function") != nil {
		expr = expr.Field("function")
	}
	return compact(expr.Text())
}

// applyDecorators derives descriptive attributes from decorator names.
func applyDecorators(e *graph.Entity) {
	for _, d := range e.Decorators {
		last := d
		if i := strings.LastIndex(d, "."); i >= 0 {
			last = d[i+1:]
		}
		switch last {
		case "abstractmethod", "abstractproperty", "abstractclassmethod", "abstractstaticmethod":
			e.SetAttr(graph.AttrAbstract, "true")
		case "staticmethod":
			e.SetAttr(graph.AttrStatic, "true")
		case "classmethod":
			e.SetAttr(graph.AttrClassMethod, "true")
		case "property", "cached_property":
			e.SetAttr(graph.AttrProperty, "true")
		}
	}
}

func isABCName(text, name string) bool {
	return text == name || text == "abc."+name
}

func isDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

func isPrivate(name string) bool {
	return strings.HasPrefix(name, "_") && !isDunder(name)
}

// docstring returns the first string literal of a body, quotes removed.
func docstring(body *parsers.Node) string {
	if body == nil || len(body.Children) == 0 {
		return ""
	}
	first := body.Children[0]
	if first.Type != "expression_statement" || len(first.Children) == 0 {
		return ""
	}
	str := first.Children[0]
	if str.Type != "string" {
		return ""
	}
	return strings.TrimSpace(unquote(str.Text()))
}

func unquote(s string) string {
	s = strings.TrimLeft(s, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

// typeName reduces an annotation to the name of its outer type:
// "Calculator", "models.User", "Optional[Dog]" -> "Optional".
func typeName(n *parsers.Node) string {
	if n == nil {
		return ""
	}
	text := compact(n.Text())
	text = strings.Trim(text, `"'`)
	if i := strings.IndexAny(text, "[|("); i >= 0 {
		text = text[:i]
	}
	if !isDotted(text) {
		return ""
	}
	return text
}

// dottedPath returns the segments of an identifier or a pure attribute
// chain (a.b.c), or nil for anything else.
func dottedPath(n *parsers.Node) []string {
	if n == nil {
		return nil
	}
	switch n.Type {
	case "identifier":
		return []string{n.Text()}
	case "attribute":
		head := dottedPath(n.Field("object"))
		if head == nil || n.Field("attribute") == nil {
			return nil
		}
		return append(head, n.Field("attribute").Text())
	}
	return nil
}

func isDotted(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" {
			return false
		}
		for i, r := range part {
			if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
				continue
			}
			if r > 127 {
				continue
			}
			return false
		}
	}
	return true
}

// compact removes all whitespace from reference text, so multi-line chains
// read the same as single-line ones.
func compact(s string) string {
	if !strings.ContainsAny(s, " \t\r\n\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\r', '\n', '\\':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

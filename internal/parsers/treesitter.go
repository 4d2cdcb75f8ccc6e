package parsers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/Benny93/pygraph/internal/graph"
)

// fieldNames are the grammar fields copied onto converted nodes.
var fieldNames = []string{
	"name",
	"body",
	"superclasses",
	"parameters",
	"return_type",
	"function",
	"arguments",
	"object",
	"attribute",
	"left",
	"right",
	"definition",
	"module_name",
	"alias",
	"condition",
	"value",
	"type",
	"subscript",
}

// PythonParser parses Python source with tree-sitter.
//
// Tree-sitter always produces a tree; syntax errors show up as ERROR and
// MISSING nodes, which are collected into Tree.Errors. The returned Tree is
// a Go copy, so no C memory outlives the call.
//
// Thread Safety: safe for concurrent use. A new tree-sitter parser is created
// per call.
type PythonParser struct {
	logger *slog.Logger
}

// NewPythonParser creates a tree-sitter Python parser.
func NewPythonParser(logger *slog.Logger) *PythonParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &PythonParser{logger: logger}
}

// Language returns the language this parser handles.
func (p *PythonParser) Language() string {
	return "python"
}

// Parse parses Python source code.
func (p *PythonParser) Parse(ctx context.Context, unit string, content []byte) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("tree-sitter parse interrupted: %w", ctxErr)
		}
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, errors.New("tree-sitter returned nil root node")
	}

	c := converter{unit: unit, src: content}
	out := &Tree{
		Unit:   unit,
		Source: content,
		Root:   c.convert(root),
	}
	if root.HasError() {
		out.Errors = c.collectErrors(root)
		p.logger.Debug("tree-sitter recovered from syntax errors",
			slog.String("unit", unit),
			slog.Int("errors", len(out.Errors)))
	}
	return out, nil
}

type converter struct {
	unit string
	src  []byte
}

func (c *converter) span(n *sitter.Node) graph.Span {
	start, end := n.StartPoint(), n.EndPoint()
	return graph.Span{
		Unit:      c.unit,
		StartByte: int(n.StartByte()),
		EndByte:   int(n.EndByte()),
		StartLine: int(start.Row) + 1,
		StartCol:  int(start.Column),
		EndLine:   int(end.Row) + 1,
		EndCol:    int(end.Column),
	}
}

func (c *converter) convert(n *sitter.Node) *Node {
	out := &Node{Type: n.Type(), Span: c.span(n), src: c.src}

	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if !child.IsNamed() {
			out.Tokens = append(out.Tokens, child.Type())
			continue
		}
		if child.Type() == "comment" {
			continue
		}
		out.Children = append(out.Children, c.convert(child))
	}

	for _, name := range fieldNames {
		fn := n.ChildByFieldName(name)
		if fn == nil {
			continue
		}
		start, end, typ := int(fn.StartByte()), int(fn.EndByte()), fn.Type()
		for _, child := range out.Children {
			if child.Span.StartByte == start && child.Span.EndByte == end && child.Type == typ {
				if out.fields == nil {
					out.fields = make(map[string]*Node)
				}
				out.fields[name] = child
				break
			}
		}
	}
	return out
}

// collectErrors finds ERROR and MISSING nodes, pruning subtrees without errors.
func (c *converter) collectErrors(root *sitter.Node) []SyntaxError {
	var errs []SyntaxError
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.IsMissing() {
			errs = append(errs, SyntaxError{Missing: true, Token: n.Type(), Span: c.span(n)})
			continue
		}
		if n.Type() == "ERROR" {
			errs = append(errs, SyntaxError{Span: c.span(n)})
			continue
		}
		if !n.HasError() {
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			if child := n.Child(i); child != nil {
				stack = append(stack, child)
			}
		}
	}

	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Span.StartByte < errs[j].Span.StartByte
	})
	return errs
}

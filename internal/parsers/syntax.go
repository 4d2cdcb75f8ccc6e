package parsers

import (
	"fmt"
	"strings"

	"github.com/Benny93/pygraph/internal/graph"
)

// Tree is the syntax tree of one unit.
type Tree struct {
	Unit   string
	Source []byte
	Root   *Node

	// Errors lists syntax errors the backend recovered from, in source order.
	Errors []SyntaxError
}

// HasErrors reports whether the backend recovered from any syntax error.
func (t *Tree) HasErrors() bool {
	return len(t.Errors) > 0
}

// Diagnostics converts the recovered syntax errors of a tree into warnings.
func (t *Tree) Diagnostics() []graph.Diagnostic {
	if len(t.Errors) == 0 {
		return nil
	}
	out := make([]graph.Diagnostic, 0, len(t.Errors))
	for _, e := range t.Errors {
		out = append(out, graph.Diagnostic{
			Unit:     t.Unit,
			Severity: graph.SeverityWarning,
			Message:  e.Message(),
			Span:     e.Span,
		})
	}
	return out
}

// SyntaxError is one recovered syntax problem.
type SyntaxError struct {
	// Missing is set when the backend inserted a missing token.
	Missing bool

	// Token is the missing token type, when Missing is set.
	Token string

	Span graph.Span
}

// Message renders the error with 1-based line and column numbers.
func (e SyntaxError) Message() string {
	if e.Missing {
		return fmt.Sprintf("missing %s at line %d, column %d", strings.Trim(e.Token, `"`), e.Span.StartLine, e.Span.StartCol+1)
	}
	return fmt.Sprintf("syntax error at line %d, column %d", e.Span.StartLine, e.Span.StartCol+1)
}

// Node is a named syntax node.
//
// Children holds the named children in source order with comments removed.
// Tokens holds the anonymous children (keywords and punctuation) so callers
// can check for markers such as "async".
type Node struct {
	Type     string
	Span     graph.Span
	Children []*Node
	Tokens   []string

	fields map[string]*Node
	src    []byte
}

// Text returns the source text covered by the node.
func (n *Node) Text() string {
	if n == nil || n.src == nil {
		return ""
	}
	return string(n.src[n.Span.StartByte:n.Span.EndByte])
}

// Field returns the child stored under a grammar field name, or nil.
func (n *Node) Field(name string) *Node {
	if n == nil {
		return nil
	}
	return n.fields[name]
}

// HasToken reports whether an anonymous child of the given type is present.
func (n *Node) HasToken(tok string) bool {
	if n == nil {
		return false
	}
	for _, t := range n.Tokens {
		if t == tok {
			return true
		}
	}
	return false
}

// ChildrenOfType returns the direct children of the given type.
func (n *Node) ChildrenOfType(typ string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

// FirstChild returns the first direct child of the given type, or nil.
func (n *Node) FirstChild(typ string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Type == typ {
			return c
		}
	}
	return nil
}

// Walk visits n and its descendants depth-first in source order.
// Returning false from fn skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil {
		return
	}
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(cur) {
			continue
		}
		for i := len(cur.Children) - 1; i >= 0; i-- {
			stack = append(stack, cur.Children[i])
		}
	}
}

// NewNode builds a node by hand. It is used by alternative backends and
// tests; fields maps grammar field names to children.
func NewNode(typ string, span graph.Span, src []byte, children []*Node, fields map[string]*Node) *Node {
	return &Node{Type: typ, Span: span, Children: children, fields: fields, src: src}
}

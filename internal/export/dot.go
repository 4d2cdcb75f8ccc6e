package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/Benny93/pygraph/internal/graph"
)

type dotStyle struct {
	shape string
	color string
}

var nodeStyles = map[graph.EntityKind]dotStyle{
	graph.KindModule:   {shape: "folder", color: "lightgrey"},
	graph.KindClass:    {shape: "box", color: "lightblue"},
	graph.KindFunction: {shape: "ellipse", color: "lightyellow"},
	graph.KindMethod:   {shape: "ellipse", color: "palegreen"},
}

var edgeStyles = map[graph.EdgeKind]string{
	graph.EdgeContains:     `color="gray60", style=dotted, arrowhead=none`,
	graph.EdgeInherits:     `color="navy", arrowhead=empty`,
	graph.EdgeCalls:        `color="black"`,
	graph.EdgeInstantiates: `color="darkgreen", arrowhead=diamond`,
	graph.EdgeImports:      `color="purple", penwidth=1.5`,
}

// dotQuote renders s as a DOT double-quoted string.
func dotQuote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

// DOT writes g as a Graphviz digraph. Entities are shaped and filled by
// kind, edges are styled by kind, and every distinct unresolved target is
// drawn once as a plaintext node reached by dashed edges.
func DOT(w io.Writer, g *graph.CodeGraph, opts Options) error {
	if err := checkSize(g, opts); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph pygraph {")
	fmt.Fprintln(bw, "  rankdir=LR;")
	fmt.Fprintln(bw, `  node [fontname="Helvetica", fontsize=10, style=filled];`)
	fmt.Fprintln(bw, `  edge [fontname="Helvetica", fontsize=8];`)
	fmt.Fprintln(bw)

	for _, e := range g.Entities() {
		st := nodeStyles[e.Kind]
		label := e.QualifiedName()
		if e.Kind == graph.KindModule {
			label = e.ID
		}
		fmt.Fprintf(bw, "  %s [label=%s, shape=%s, fillcolor=%s];\n",
			dotQuote(e.ID), dotQuote(label), st.shape, dotQuote(st.color))
	}

	edges := opts.edges(g)
	declared := make(map[string]bool)
	for _, e := range edges {
		if !e.Unresolved() || declared[e.TargetLabel()] {
			continue
		}
		if len(declared) == 0 {
			fmt.Fprintln(bw)
		}
		declared[e.TargetLabel()] = true
		fmt.Fprintf(bw, "  %s [label=%s, shape=plaintext, style=\"\", fontcolor=\"gray40\"];\n",
			dotQuote(e.TargetLabel()), dotQuote(e.Target))
	}

	if len(edges) > 0 {
		fmt.Fprintln(bw)
	}
	for _, e := range edges {
		attrs := edgeStyles[e.Kind]
		if e.Unresolved() {
			attrs += ", style=dashed"
		}
		fmt.Fprintf(bw, "  %s -> %s [label=%s, %s];\n",
			dotQuote(e.From), dotQuote(e.TargetLabel()), dotQuote(string(e.Kind)), attrs)
	}
	fmt.Fprintln(bw, "}")

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing dot: %w", err)
	}
	return nil
}

package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Benny93/pygraph/internal/graph"
)

var (
	nodeHeader = []string{
		"id", "kind", "name", "qualified_name", "unit", "start_line", "end_line",
		"signature", "decorators", "bases", "attributes", "docstring",
	}
	edgeHeader = []string{
		"seq", "kind", "source", "target", "text", "style", "unresolved", "reason", "line",
	}
)

// CSV writes entities to nodes and edges to edges, one row each with a
// header. List columns are joined with ";".
func CSV(nodes, edges io.Writer, g *graph.CodeGraph, opts Options) error {
	if err := checkSize(g, opts); err != nil {
		return err
	}

	nw := csv.NewWriter(nodes)
	if err := nw.Write(nodeHeader); err != nil {
		return fmt.Errorf("writing node header: %w", err)
	}
	for _, e := range g.Entities() {
		row := []string{
			e.ID,
			string(e.Kind),
			e.Name,
			e.QualifiedName(),
			e.Unit,
			strconv.Itoa(e.Span.StartLine),
			strconv.Itoa(e.Span.EndLine),
			e.Signature,
			strings.Join(e.Decorators, ";"),
			strings.Join(e.Bases, ";"),
			strings.Join(attributeList(e.Attributes), ";"),
			e.Docstring,
		}
		if err := nw.Write(row); err != nil {
			return fmt.Errorf("writing node %s: %w", e.ID, err)
		}
	}
	nw.Flush()
	if err := nw.Error(); err != nil {
		return fmt.Errorf("writing nodes: %w", err)
	}

	why := reasons(g)
	ew := csv.NewWriter(edges)
	if err := ew.Write(edgeHeader); err != nil {
		return fmt.Errorf("writing edge header: %w", err)
	}
	for _, e := range opts.edges(g) {
		row := []string{
			strconv.Itoa(e.Seq),
			string(e.Kind),
			e.From,
			e.TargetLabel(),
			e.Target,
			string(e.Style),
			strconv.FormatBool(e.Unresolved()),
			string(why[e.Seq]),
			strconv.Itoa(e.Span.StartLine),
		}
		if err := ew.Write(row); err != nil {
			return fmt.Errorf("writing edge %d: %w", e.Seq, err)
		}
	}
	ew.Flush()
	if err := ew.Error(); err != nil {
		return fmt.Errorf("writing edges: %w", err)
	}
	return nil
}

package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Benny93/pygraph/internal/graph"
)

// jsonLink is an edge in the "links" array.
type jsonLink struct {
	ID         int                    `json:"id"`
	Source     string                 `json:"source"`
	Target     string                 `json:"target"`
	Kind       graph.EdgeKind         `json:"kind"`
	Text       string                 `json:"text,omitempty"`
	Style      graph.CallStyle        `json:"style,omitempty"`
	Unresolved bool                   `json:"unresolved,omitempty"`
	Reason     graph.UnresolvedReason `json:"reason,omitempty"`
	Line       int                    `json:"line,omitempty"`
}

type jsonReport struct {
	BuildID     string                         `json:"build_id,omitempty"`
	Root        string                         `json:"root,omitempty"`
	Units       int                            `json:"units"`
	Parsed      int                            `json:"parsed"`
	Failures    []graph.ParseFailure           `json:"failures"`
	Diagnostics []graph.Diagnostic             `json:"diagnostics"`
	Unresolved  map[graph.UnresolvedReason]int `json:"unresolved"`
	DurationMS  int64                          `json:"duration_ms,omitempty"`
}

type jsonDocument struct {
	Nodes  []*graph.Entity `json:"nodes"`
	Links  []jsonLink      `json:"links"`
	Report jsonReport      `json:"report"`
}

// JSON writes g as an indented document with "nodes" and "links" arrays,
// the layout force-directed graph libraries consume, plus a build report
// summary. Unresolved edges target "Unresolved(name)".
func JSON(w io.Writer, g *graph.CodeGraph, opts Options) error {
	if err := checkSize(g, opts); err != nil {
		return err
	}

	why := reasons(g)
	doc := jsonDocument{
		Nodes: g.Entities(),
		Links: []jsonLink{},
	}
	if doc.Nodes == nil {
		doc.Nodes = []*graph.Entity{}
	}
	for _, e := range opts.edges(g) {
		doc.Links = append(doc.Links, jsonLink{
			ID:         e.Seq,
			Source:     e.From,
			Target:     e.TargetLabel(),
			Kind:       e.Kind,
			Text:       e.Target,
			Style:      e.Style,
			Unresolved: e.Unresolved(),
			Reason:     why[e.Seq],
			Line:       e.Span.StartLine,
		})
	}

	report := g.Report()
	if report == nil {
		report = &graph.BuildReport{}
	}
	doc.Report = jsonReport{
		Units:       report.Units,
		Parsed:      report.Parsed,
		Failures:    report.Failures,
		Diagnostics: report.Diagnostics,
		Unresolved:  report.UnresolvedByReason(),
	}
	if doc.Report.Failures == nil {
		doc.Report.Failures = []graph.ParseFailure{}
	}
	if doc.Report.Diagnostics == nil {
		doc.Report.Diagnostics = []graph.Diagnostic{}
	}
	if !opts.Stable {
		doc.Report.BuildID = report.BuildID
		doc.Report.Root = report.Root
		doc.Report.DurationMS = report.Duration.Milliseconds()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}

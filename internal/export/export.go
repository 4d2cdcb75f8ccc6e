// Package export serializes a CodeGraph for external tools: JSON for web
// visualizations, CSV for spreadsheets and dataframes, Graphviz DOT, and
// N-Triples for RDF stores.
//
// Every format walks entities in insertion order and edges in sequence
// order, so exporting the same graph twice gives the same bytes.
package export

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/Benny93/pygraph/internal/graph"
)

// Format names an output format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatDOT     Format = "dot"
	FormatTriples Format = "triples"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatCSV, FormatDOT, FormatTriples}

const (
	// MaxEntities is the largest graph that will be exported.
	MaxEntities = 100_000

	// warnEntities is the size above which exporting logs a warning.
	warnEntities = 10_000
)

var (
	// ErrTooLarge is returned for graphs above MaxEntities.
	ErrTooLarge = errors.New("graph too large for export")

	// ErrUnknownFormat is returned by ParseFormat and Write.
	ErrUnknownFormat = errors.New("unknown export format")
)

// Options tunes an export.
type Options struct {
	// Kinds restricts the exported edges. Empty exports every kind.
	Kinds []graph.EdgeKind

	// OmitUnresolved drops edges that point at the Unresolved sentinel.
	OmitUnresolved bool

	// Stable leaves out the fields that differ between two builds of the
	// same project (build id, root and duration).
	Stable bool

	Logger *slog.Logger
}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	if !slices.Contains(Formats, f) {
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
	return f, nil
}

// Write exports g to w in a single-stream format. CSV needs two streams
// and must go through CSV.
func Write(w io.Writer, format Format, g *graph.CodeGraph, opts Options) error {
	switch format {
	case FormatJSON:
		return JSON(w, g, opts)
	case FormatDOT:
		return DOT(w, g, opts)
	case FormatTriples:
		return Triples(w, g, opts)
	case FormatCSV:
		return fmt.Errorf("%w: csv writes separate node and edge files", ErrUnknownFormat)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func checkSize(g *graph.CodeGraph, opts Options) error {
	n := g.EntityCount()
	if n > MaxEntities {
		return fmt.Errorf("%w (%d entities, limit %d)", ErrTooLarge, n, MaxEntities)
	}
	if n > warnEntities {
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("exporting large graph", slog.Int("entities", n))
	}
	return nil
}

// edges returns the edges selected by opts, in sequence order.
func (o Options) edges(g *graph.CodeGraph) []*graph.Edge {
	var out []*graph.Edge
	for _, e := range g.Edges() {
		if len(o.Kinds) > 0 && !slices.Contains(o.Kinds, e.Kind) {
			continue
		}
		if o.OmitUnresolved && e.Unresolved() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// reasons maps edge sequence numbers to their unresolved reason.
func reasons(g *graph.CodeGraph) map[int]graph.UnresolvedReason {
	out := make(map[int]graph.UnresolvedReason)
	if r := g.Report(); r != nil {
		for _, ref := range r.Unresolved {
			if ref.Edge != nil {
				out[ref.Edge.Seq] = ref.Reason
			}
		}
	}
	return out
}

// attributeList renders attributes as sorted key=value pairs.
func attributeList(attrs map[string]string) []string {
	out := make([]string, 0, len(attrs))
	for k, v := range attrs {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}

package export

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/Benny93/pygraph/internal/graph"
)

// iri renders an IRI with characters outside the N-Triples IRI set escaped.
func iri(scheme, id string) string {
	return "<" + scheme + ":" + url.PathEscape(id) + ">"
}

func literal(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}

// Triples writes g in N-Triples form: one type triple and a few property
// triples per entity, then one triple per edge. Unresolved targets become
// <unresolved:name> resources.
func Triples(w io.Writer, g *graph.CodeGraph, opts Options) error {
	if err := checkSize(g, opts); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, e := range g.Entities() {
		subject := iri("entity", e.ID)
		fmt.Fprintf(bw, "%s <rdf:type> %s .\n", subject, iri("kind", string(e.Kind)))
		fmt.Fprintf(bw, "%s <prop:name> %s .\n", subject, literal(e.Name))
		fmt.Fprintf(bw, "%s <prop:unit> %s .\n", subject, literal(e.Unit))
		if e.Span.StartLine > 0 {
			fmt.Fprintf(bw, "%s <prop:line> \"%s\"^^<xsd:integer> .\n", subject, strconv.Itoa(e.Span.StartLine))
		}
		for _, kv := range attributeList(e.Attributes) {
			k, v, _ := strings.Cut(kv, "=")
			fmt.Fprintf(bw, "%s <prop:%s> %s .\n", subject, url.PathEscape(k), literal(v))
		}
	}

	for _, e := range opts.edges(g) {
		object := iri("entity", e.To)
		if e.Unresolved() {
			object = iri("unresolved", e.Target)
		}
		fmt.Fprintf(bw, "%s <edge:%s> %s .\n", iri("entity", e.From), e.Kind, object)
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing triples: %w", err)
	}
	return nil
}

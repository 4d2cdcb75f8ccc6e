// Package parsers turns unit text into language-neutral syntax trees.
//
// A Parser backend produces a Tree or an error. The Adapter wraps a backend
// with the per-unit policy: size and encoding checks, a timeout, panic
// recovery and the strict/recover syntax mode. It never returns anything
// but a Tree or a *graph.ParseFailure.
package parsers

import (
	"context"
	"errors"
)

var (
	// ErrFileTooLarge is returned for content over the configured size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent is returned for content that is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")

	// ErrParseTimeout is returned when a parse exceeds its time budget.
	ErrParseTimeout = errors.New("parse timed out")
)

// Parser is a parsing backend for one language.
type Parser interface {
	// Parse parses content and returns a copied, language-neutral tree.
	// Syntax errors are reported as tree diagnostics when the backend can
	// recover, or as an error when it cannot produce a tree at all.
	Parse(ctx context.Context, unit string, content []byte) (*Tree, error)

	// Language returns the language this parser handles.
	Language() string
}

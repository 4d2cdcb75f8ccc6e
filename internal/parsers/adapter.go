package parsers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Benny93/pygraph/internal/config"
	"github.com/Benny93/pygraph/internal/graph"
)

var adapterTracer = otel.Tracer("pygraph.parsers")

// Adapter applies the per-unit parse policy on top of a backend.
//
// Parse returns either a usable Tree or a *graph.ParseFailure as the error.
// The only other error it returns is the caller's context error, when the
// whole build is canceled.
type Adapter struct {
	backend Parser
	mode    config.SyntaxMode
	timeout time.Duration
	maxSize int64
	logger  *slog.Logger
}

// NewAdapter wraps backend with the policy from cfg. A nil config means
// config.Default().
func NewAdapter(backend Parser, cfg *config.Config, logger *slog.Logger) *Adapter {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		backend: backend,
		mode:    cfg.SyntaxMode,
		timeout: cfg.ParseTimeout,
		maxSize: cfg.MaxFileSize,
		logger:  logger,
	}
}

type outcome struct {
	tree *Tree
	err  error
}

// Parse parses one unit.
func (a *Adapter) Parse(ctx context.Context, unit string, content []byte) (*Tree, error) {
	ctx, span := adapterTracer.Start(ctx, "parsers.Adapter.Parse",
		trace.WithAttributes(
			attribute.String("unit", unit),
			attribute.Int("size", len(content)),
			attribute.String("language", a.backend.Language()),
		),
	)
	defer span.End()

	tree, err := a.parse(ctx, unit, content)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("syntax_errors", len(tree.Errors)))
	return tree, nil
}

func (a *Adapter) parse(ctx context.Context, unit string, content []byte) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if a.maxSize > 0 && int64(len(content)) > a.maxSize {
		return nil, a.failure(unit, graph.Span{Unit: unit},
			fmt.Errorf("%w (%d bytes, limit %d)", ErrFileTooLarge, len(content), a.maxSize))
	}
	if !utf8.Valid(content) {
		return nil, a.failure(unit, graph.Span{Unit: unit},
			fmt.Errorf("%w: not valid UTF-8", ErrInvalidContent))
	}

	pctx := ctx
	cancel := context.CancelFunc(func() {})
	if a.timeout > 0 {
		pctx, cancel = context.WithTimeout(ctx, a.timeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("parser panic: %v", r)}
			}
		}()
		tree, err := a.backend.Parse(pctx, unit, content)
		done <- outcome{tree: tree, err: err}
	}()

	var (
		out      outcome
		received bool
	)
	select {
	case out = <-done:
		received = true
	case <-pctx.Done():
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timedOut := errors.Is(pctx.Err(), context.DeadlineExceeded)
	if !received || (out.err != nil && timedOut) {
		return nil, a.failure(unit, graph.Span{Unit: unit},
			fmt.Errorf("%w after %s", ErrParseTimeout, a.timeout))
	}
	if out.err != nil {
		return nil, a.failure(unit, graph.Span{Unit: unit}, out.err)
	}
	if out.tree == nil || out.tree.Root == nil {
		return nil, a.failure(unit, graph.Span{Unit: unit}, errors.New("parser produced no tree"))
	}

	if out.tree.HasErrors() && a.mode == config.SyntaxStrict {
		first := out.tree.Errors[0]
		return nil, a.failure(unit, first.Span, errors.New(first.Message()))
	}
	return out.tree, nil
}

func (a *Adapter) failure(unit string, span graph.Span, err error) *graph.ParseFailure {
	a.logger.Warn("parse failed", slog.String("unit", unit), slog.String("error", err.Error()))
	return &graph.ParseFailure{Unit: unit, Message: err.Error(), Span: span}
}

// Package ingestion provides the project build pipeline for pygraph.
//
// A build runs as a batch state machine:
//
//	Idle -> Loading -> Parsing -> Extracting -> Resolving -> Assembling -> Done
//
// Loading, Parsing and Extracting are per-unit and run on a bounded worker
// pool; each phase finishes for every unit before the next starts. Resolving
// and Assembling are the barrier and run on the calling goroutine.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Benny93/pygraph/internal/config"
	"github.com/Benny93/pygraph/internal/extract"
	"github.com/Benny93/pygraph/internal/graph"
	"github.com/Benny93/pygraph/internal/metrics"
	"github.com/Benny93/pygraph/internal/parsers"
	"github.com/Benny93/pygraph/internal/resolve"
	"github.com/Benny93/pygraph/internal/source"
)

// Phase is a state of the build state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseLoading    Phase = "loading"
	PhaseParsing    Phase = "parsing"
	PhaseExtracting Phase = "extracting"
	PhaseResolving  Phase = "resolving"
	PhaseAssembling Phase = "assembling"
	PhaseDone       Phase = "done"
)

// ProgressCallback is called with the current phase and how many of its
// units are done. Calls are serialized.
type ProgressCallback func(phase Phase, done, total int)

// Option configures a Builder.
type Option func(*Builder)

// WithConfig sets the configuration. Without it, Build loads pygraph.yaml
// from the project root.
func WithConfig(cfg *config.Config) Option {
	return func(b *Builder) { b.cfg = cfg }
}

// WithParser replaces the tree-sitter backend.
func WithParser(p parsers.Parser) Option {
	return func(b *Builder) { b.parser = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// WithMetrics records build metrics into r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(b *Builder) { b.metrics = r }
}

// WithProgress registers a progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(b *Builder) { b.progress = cb }
}

// Builder builds code graphs. A Builder may run several builds one after
// another; it is not meant for concurrent builds.
type Builder struct {
	cfg      *config.Config
	parser   parsers.Parser
	logger   *slog.Logger
	metrics  *metrics.Recorder
	progress ProgressCallback
	debounce time.Duration

	phase      atomic.Value
	progressMu sync.Mutex
}

// NewBuilder creates a builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	if b.parser == nil {
		b.parser = parsers.NewPythonParser(b.logger)
	}
	b.phase.Store(PhaseIdle)
	return b
}

// Phase returns the state of the current or last build.
func (b *Builder) Phase() Phase {
	return b.phase.Load().(Phase)
}

// Build walks root and builds the graph of every selected unit.
//
// Only a bad root, an invalid configuration or cancellation produce an
// error. Per-unit problems are recorded in the graph's BuildReport.
func (b *Builder) Build(ctx context.Context, root string) (*graph.CodeGraph, error) {
	abs, cfg, err := b.prepare(root)
	if err != nil {
		return nil, err
	}
	ids, err := source.NewLoader(cfg, b.logger).Discover(abs)
	if err != nil {
		return nil, fmt.Errorf("discovering units: %w", err)
	}
	return b.run(ctx, abs, cfg, ids)
}

// BuildFiles builds the graph of an explicit file list under root.
func (b *Builder) BuildFiles(ctx context.Context, root string, files []string) (*graph.CodeGraph, error) {
	abs, cfg, err := b.prepare(root)
	if err != nil {
		return nil, err
	}
	ids, err := source.NewLoader(cfg, b.logger).UnitIDs(abs, files)
	if err != nil {
		return nil, err
	}
	return b.run(ctx, abs, cfg, ids)
}

func (b *Builder) prepare(root string) (string, *config.Config, error) {
	abs, err := source.CheckRoot(root)
	if err != nil {
		return "", nil, err
	}
	cfg := b.cfg
	if cfg == nil {
		if cfg, err = config.Load(abs); err != nil {
			return "", nil, err
		}
	} else if err := cfg.Validate(); err != nil {
		return "", nil, err
	}
	return abs, cfg, nil
}

// slot holds the write-once per-unit results, indexed by unit position.
type slot struct {
	id      string
	unit    *source.Unit
	tree    *parsers.Tree
	table   *resolve.UnitTable
	failure *graph.ParseFailure
}

func (b *Builder) run(ctx context.Context, root string, cfg *config.Config, ids []string) (*graph.CodeGraph, error) {
	start := time.Now()
	report := &graph.BuildReport{
		BuildID: uuid.NewString(),
		Root:    root,
		Units:   len(ids),
	}
	logger := b.logger.With(slog.String("build_id", report.BuildID))
	logger.Info("build started", slog.String("root", root), slog.Int("units", len(ids)))

	slots := make([]slot, len(ids))
	for i, id := range ids {
		slots[i].id = id
	}

	loader := source.NewLoader(cfg, logger)
	err := b.stage(ctx, PhaseLoading, cfg.Workers, slots, func(_ context.Context, s *slot) error {
		s.unit, s.failure = loader.Read(root, s.id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	adapter := parsers.NewAdapter(b.parser, cfg, logger)
	err = b.stage(ctx, PhaseParsing, cfg.Workers, slots, func(ctx context.Context, s *slot) error {
		if s.unit == nil {
			return nil
		}
		tree, err := adapter.Parse(ctx, s.id, s.unit.Content)
		var failure *graph.ParseFailure
		switch {
		case errors.As(err, &failure):
			s.failure = failure
		case err != nil:
			return err
		default:
			s.tree = tree
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	extractor := extract.New(cfg, logger)
	err = b.stage(ctx, PhaseExtracting, cfg.Workers, slots, func(_ context.Context, s *slot) error {
		if s.tree == nil {
			return nil
		}
		s.table = resolve.NewUnitTable(extractor.Extract(s.tree, s.unit.ModuleName))
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Barrier: every unit is extracted, results are merged in unit order.
	if err := ctx.Err(); err != nil {
		b.cancel(logger, PhaseExtracting)
		return nil, err
	}

	var tables []*resolve.UnitTable
	for i := range slots {
		s := &slots[i]
		if s.failure != nil {
			report.Failures = append(report.Failures, *s.failure)
		}
		if s.tree != nil {
			report.Parsed++
			report.Diagnostics = append(report.Diagnostics, s.tree.Diagnostics()...)
		}
		if s.table != nil {
			tables = append(tables, s.table)
		}
	}

	phaseStart := b.enter(PhaseResolving, len(tables))
	linked := resolve.Link(tables)
	b.leave(PhaseResolving, phaseStart, len(tables))

	phaseStart = b.enter(PhaseAssembling, len(tables))
	g := resolve.NewAssembler(logger).AssembleLinked(ctx, linked, report)
	b.leave(PhaseAssembling, phaseStart, len(tables))

	report.Duration = time.Since(start)
	b.phase.Store(PhaseDone)
	b.metrics.RecordBuild(g, report)

	logger.Info("build finished",
		slog.Int("entities", g.EntityCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Int("failures", len(report.Failures)),
		slog.Int("unresolved", len(report.Unresolved)),
		slog.Duration("duration", report.Duration))
	return g, nil
}

// stage runs fn for every slot on at most workers goroutines. Cancellation
// is checked before each unit starts; a canceled stage returns ctx.Err()
// and its partial results are discarded with the build.
func (b *Builder) stage(ctx context.Context, phase Phase, workers int, slots []slot, fn func(context.Context, *slot) error) error {
	phaseStart := b.enter(phase, len(slots))

	if workers < 1 {
		workers = 1
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	var done atomic.Int64
	for i := range slots {
		if egCtx.Err() != nil {
			break
		}
		s := &slots[i]
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			if err := fn(egCtx, s); err != nil {
				return err
			}
			b.report(phase, int(done.Add(1)), len(slots))
			return nil
		})
	}

	err := eg.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		b.cancel(b.logger, phase)
		return ctxErr
	}
	if err != nil {
		return fmt.Errorf("%s: %w", phase, err)
	}

	b.leave(phase, phaseStart, len(slots))
	return nil
}

func (b *Builder) enter(phase Phase, total int) time.Time {
	b.phase.Store(phase)
	b.logger.Debug("phase started", slog.String("phase", string(phase)), slog.Int("units", total))
	b.report(phase, 0, total)
	return time.Now()
}

func (b *Builder) leave(phase Phase, start time.Time, total int) {
	if phase == PhaseResolving || phase == PhaseAssembling {
		b.report(phase, total, total)
	}
	b.metrics.ObservePhase(string(phase), time.Since(start))
}

func (b *Builder) cancel(logger *slog.Logger, phase Phase) {
	logger.Info("build canceled", slog.String("phase", string(phase)))
	b.phase.Store(PhaseIdle)
}

func (b *Builder) report(phase Phase, done, total int) {
	if b.progress == nil {
		return
	}
	b.progressMu.Lock()
	defer b.progressMu.Unlock()
	b.progress(phase, done, total)
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Benny93/pygraph/internal/config"
	"github.com/Benny93/pygraph/internal/export"
	"github.com/Benny93/pygraph/internal/graph"
	"github.com/Benny93/pygraph/internal/ingestion"
	"github.com/Benny93/pygraph/internal/metrics"
	"github.com/Benny93/pygraph/internal/source"
)

// newBuilder loads the project config, lets tune adjust it and creates a
// builder for root.
func newBuilder(root string, logger *slog.Logger, tune func(*config.Config), opts ...ingestion.Option) (*ingestion.Builder, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if tune != nil {
		tune(cfg)
	}
	opts = append([]ingestion.Option{ingestion.WithConfig(cfg), ingestion.WithLogger(logger)}, opts...)
	return ingestion.NewBuilder(opts...), nil
}

func buildOnce(ctx context.Context, root string, logger *slog.Logger) (*graph.CodeGraph, error) {
	builder, err := newBuilder(root, logger, nil)
	if err != nil {
		return nil, err
	}
	return builder.Build(ctx, root)
}

// BuildCmd builds a project into a code graph.
type BuildCmd struct {
	Path    string `arg:"" optional:"" default:"." help:"Path to project root"`
	Workers int    `short:"j" help:"Parallel workers (default: one per CPU)"`
	Recover bool   `help:"Keep partially broken units instead of failing them"`
	NoSave  bool   `help:"Do not write the graph to .pygraph"`
}

// Run executes the build command.
func (c *BuildCmd) Run(globals *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, err := source.CheckRoot(c.Path)
	if err != nil {
		return err
	}
	out := globals.out()
	if !globals.Quiet {
		color.New(color.FgGreen).Fprintf(out, "Building %s\n", root)
	}

	var opts []ingestion.Option
	if !globals.Quiet {
		opts = append(opts, ingestion.WithProgress(func(phase ingestion.Phase, done, total int) {
			fmt.Fprintf(os.Stderr, "\r\033[K%s (%d/%d)", phase, done, total)
		}))
	}
	builder, err := newBuilder(root, globals.Logger(), func(cfg *config.Config) {
		if c.Workers > 0 {
			cfg.Workers = c.Workers
		}
		if c.Recover {
			cfg.SyntaxMode = config.SyntaxRecover
		}
	}, opts...)
	if err != nil {
		return err
	}

	g, err := builder.Build(ctx, root)
	if !globals.Quiet {
		fmt.Fprintln(os.Stderr) // Newline after progress
	}
	if err != nil {
		return fmt.Errorf("building graph: %w", err)
	}

	if !c.NoSave {
		if err := saveGraph(ctx, root, g); err != nil {
			return err
		}
	}
	printSummary(out, g)
	return nil
}

func printSummary(out io.Writer, g *graph.CodeGraph) {
	r := g.Report()
	stats := g.Stats()

	color.New(color.FgGreen).Fprintln(out, "\n✓ Build complete")
	fmt.Fprintf(out, "  Units:          %d (%d parsed)\n", r.Units, r.Parsed)
	fmt.Fprintf(out, "  Entities:       %d\n", stats["entities"])
	fmt.Fprintf(out, "  Edges:          %d (%d unresolved)\n", stats["edges"], stats["unresolved"])
	fmt.Fprintf(out, "  Duration:       %.2fs\n", r.Duration.Seconds())

	if len(r.Failures) > 0 {
		warn := color.New(color.FgYellow)
		warn.Fprintf(out, "\n⚠️ %d units failed to parse\n", len(r.Failures))
		for _, f := range r.Failures {
			warn.Fprintf(out, "  %s: %s\n", f.Unit, f.Message)
		}
	}
}

// ExportCmd writes the saved graph in an external format.
type ExportCmd struct {
	ProjectFlag

	Format         string   `short:"f" enum:"json,csv,dot,triples" default:"json" help:"Output format (json|csv|dot|triples)"`
	Output         string   `short:"o" help:"Output file, or directory for csv (default: stdout)"`
	Kinds          []string `help:"Only export these edge kinds"`
	OmitUnresolved bool     `help:"Drop edges whose target could not be resolved"`
	Stable         bool     `help:"Leave out build id, root and duration"`
}

// Run executes the export command.
func (c *ExportCmd) Run(globals *Globals) error {
	ctx := context.Background()
	root, err := source.CheckRoot(c.Project)
	if err != nil {
		return err
	}
	format, err := export.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	g, err := loadGraph(ctx, root)
	if err != nil {
		return err
	}

	opts := export.Options{
		OmitUnresolved: c.OmitUnresolved,
		Stable:         c.Stable,
		Logger:         globals.Logger(),
	}
	for _, k := range c.Kinds {
		opts.Kinds = append(opts.Kinds, graph.EdgeKind(k))
	}

	if format == export.FormatCSV {
		if c.Output == "" {
			return fmt.Errorf("csv export writes nodes.csv and edges.csv, set --output to a directory")
		}
		return exportCSV(c.Output, g, opts)
	}

	if c.Output == "" {
		return export.Write(globals.out(), format, g, opts)
	}
	f, err := os.Create(c.Output)
	if err != nil {
		return fmt.Errorf("creating %s: %w", c.Output, err)
	}
	if err := export.Write(f, format, g, opts); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func exportCSV(dir string, g *graph.CodeGraph, opts export.Options) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	nodes, err := os.Create(filepath.Join(dir, "nodes.csv"))
	if err != nil {
		return err
	}
	defer nodes.Close()
	edges, err := os.Create(filepath.Join(dir, "edges.csv"))
	if err != nil {
		return err
	}
	defer edges.Close()

	if err := export.CSV(nodes, edges, g, opts); err != nil {
		return err
	}
	if err := nodes.Sync(); err != nil {
		return err
	}
	return edges.Sync()
}

// WatchCmd rebuilds and saves the graph whenever sources change.
type WatchCmd struct {
	Path        string `arg:"" optional:"" default:"." help:"Path to project root"`
	MetricsAddr string `help:"Serve Prometheus metrics on this address (e.g. :9090)"`
}

// Run executes the watch command.
func (c *WatchCmd) Run(globals *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, err := source.CheckRoot(c.Path)
	if err != nil {
		return err
	}
	logger := globals.Logger()
	rec := metrics.NewRecorder()

	if c.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              c.MetricsAddr,
			Handler:           promhttp.HandlerFor(rec.Registry(), promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	builder, err := newBuilder(root, logger, nil, ingestion.WithMetrics(rec))
	if err != nil {
		return err
	}

	out := globals.out()
	fmt.Fprintln(out, "## Watch Mode")
	fmt.Fprintf(out, "Watching %s for changes (Ctrl+C to stop)\n\n", root)

	err = builder.Watch(ctx, root, func(g *graph.CodeGraph, err error) {
		if err != nil {
			color.New(color.FgRed).Fprintf(out, "✗ Build failed: %v\n", err)
			return
		}
		if err := saveGraph(ctx, root, g); err != nil {
			color.New(color.FgRed).Fprintf(out, "✗ Saving failed: %v\n", err)
			return
		}
		r := g.Report()
		color.New(color.FgGreen).Fprintf(out, "✓ %s: %d units, %d entities, %d edges in %.2fs\n",
			time.Now().Format("15:04:05"), r.Units, g.EntityCount(), g.EdgeCount(), r.Duration.Seconds())
		if len(r.Failures) > 0 {
			color.New(color.FgYellow).Fprintf(out, "  %d units failed to parse\n", len(r.Failures))
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch error: %w", err)
	}

	fmt.Fprintln(out, "Watch mode stopped.")
	return nil
}

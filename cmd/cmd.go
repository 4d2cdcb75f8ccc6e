// Package cmd provides CLI command implementations for pygraph.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"github.com/Benny93/pygraph/internal/graph"
	"github.com/Benny93/pygraph/internal/source"
	"github.com/Benny93/pygraph/internal/storage"
	"github.com/Benny93/pygraph/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// indexDirName is the per-project directory holding the saved graph.
const indexDirName = ".pygraph"

var errNoIndex = errors.New("no index found")

// Globals holds the flags shared by every command.
type Globals struct {
	Verbose bool `short:"v" help:"Enable verbose output"`
	Quiet   bool `short:"q" help:"Suppress non-essential output"`

	// Out receives command output; nil means stdout.
	Out io.Writer `kong:"-"`
}

func (g *Globals) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

// Logger returns a text logger on stderr. Stdout is left to command output
// and to the MCP stdio transport.
func (g *Globals) Logger() *slog.Logger {
	level := slog.LevelWarn
	switch {
	case g.Quiet:
		level = slog.LevelError
	case g.Verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// ProjectFlag selects the project whose saved graph a command reads.
type ProjectFlag struct {
	Project string `short:"p" default:"." help:"Project root containing the .pygraph index"`
}

// MCPCmd starts the MCP server.
type MCPCmd struct {
	Path  string `arg:"" optional:"" default:"." help:"Project root"`
	Watch bool   `short:"w" help:"Rebuild and swap the graph when sources change"`
}

// Run executes the mcp command.
func (c *MCPCmd) Run(globals *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := globals.Logger()
	root, err := source.CheckRoot(c.Path)
	if err != nil {
		return err
	}

	mcp.Version = Version
	server := mcp.NewServer(mcp.WithLogger(logger))
	defer func() { _ = server.Close() }()

	if c.Watch {
		// The watcher's first build seeds the server.
		builder, err := newBuilder(root, logger, nil)
		if err != nil {
			return err
		}
		go func() {
			err := builder.Watch(ctx, root, func(g *graph.CodeGraph, err error) {
				if err != nil {
					logger.Error("rebuild failed", "error", err)
					return
				}
				if err := server.SetGraph(ctx, g); err != nil {
					logger.Error("swapping graph", "error", err)
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("watch stopped", "error", err)
			}
		}()
	} else {
		g, err := loadGraph(ctx, root)
		if errors.Is(err, errNoIndex) {
			logger.Info("no saved graph, building", "root", root)
			g, err = buildOnce(ctx, root, logger)
		}
		if err != nil {
			return err
		}
		if err := server.SetGraph(ctx, g); err != nil {
			return err
		}
	}

	// Note: No output to stdout - MCP server uses stdio for JSON-RPC only
	return server.Run(ctx)
}

// StatusCmd shows index status for a project.
type StatusCmd struct {
	Path string `arg:"" optional:"" default:"." help:"Project root"`
}

// Run executes the status command.
func (c *StatusCmd) Run(globals *Globals) error {
	root, err := source.CheckRoot(c.Path)
	if err != nil {
		return err
	}

	metaBytes, err := os.ReadFile(filepath.Join(root, indexDirName, "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w at %s. Run 'pygraph build' first", errNoIndex, root)
		}
		return fmt.Errorf("reading meta.json: %w", err)
	}

	var meta storage.Meta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return fmt.Errorf("parsing meta.json: %w", err)
	}

	out := globals.out()
	fmt.Fprintf(out, "Index status for %s\n", root)
	fmt.Fprintf(out, "  Build:          %s\n", meta.BuildID)
	fmt.Fprintf(out, "  Last built:     %s\n", meta.SavedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "  Units:          %d\n", meta.Units)
	fmt.Fprintf(out, "  Entities:       %d\n", meta.Entities)
	fmt.Fprintf(out, "  Edges:          %d\n", meta.Edges)
	if meta.Version != storage.SchemaVersion {
		color.New(color.FgYellow).Fprintf(out, "  Index schema %d is outdated, run 'pygraph build'\n", meta.Version)
	}
	return nil
}

// CleanCmd deletes the index of a project.
type CleanCmd struct {
	Path  string `arg:"" optional:"" default:"." help:"Project root"`
	Force bool   `short:"f" help:"Skip confirmation"`
}

// Run executes the clean command.
func (c *CleanCmd) Run(globals *Globals) error {
	root, err := source.CheckRoot(c.Path)
	if err != nil {
		return err
	}

	dir := filepath.Join(root, indexDirName)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%w at %s. Nothing to clean", errNoIndex, root)
	}

	out := globals.out()
	if !c.Force {
		fmt.Fprintf(out, "Delete index at %s? [y/N] ", dir)
		var response string
		_, _ = fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted")
			return nil
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("deleting index: %w", err)
	}
	color.New(color.FgGreen).Fprintf(out, "Deleted %s\n", dir)
	return nil
}

// openIndex opens the project's badger store. A read-only open of a
// project that was never built fails with errNoIndex.
func openIndex(root string, readOnly bool) (*storage.BadgerStore, error) {
	dbPath := filepath.Join(root, indexDirName, "badger")
	if readOnly {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s. Run 'pygraph build' first", errNoIndex, root)
		}
	} else if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s directory: %w", indexDirName, err)
	}

	store := storage.NewBadgerStore()
	if err := store.Initialize(dbPath, readOnly); err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	return store, nil
}

// loadGraph reads the saved graph of the project at root.
func loadGraph(ctx context.Context, root string) (*graph.CodeGraph, error) {
	store, err := openIndex(root, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	g, err := store.Load(ctx)
	if errors.Is(err, storage.ErrNoGraph) {
		return nil, fmt.Errorf("%w at %s. Run 'pygraph build' first", errNoIndex, root)
	}
	return g, err
}

// saveGraph replaces the saved graph and rewrites meta.json.
func saveGraph(ctx context.Context, root string, g *graph.CodeGraph) error {
	store, err := openIndex(root, false)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Save(ctx, g); err != nil {
		return fmt.Errorf("saving graph: %w", err)
	}
	meta, err := store.Meta(ctx)
	if err != nil {
		return err
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding meta.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, indexDirName, "meta.json"), metaJSON, 0o644); err != nil {
		return fmt.Errorf("writing meta.json: %w", err)
	}
	return nil
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	// Commands
	Build    BuildCmd    `cmd:"" help:"Build the code graph of a Python project"`
	Export   ExportCmd   `cmd:"" help:"Export the saved graph as json, csv, dot or triples"`
	Query    QueryCmd    `cmd:"" help:"Search entity names, signatures and docstrings"`
	Find     FindCmd     `cmd:"" help:"Find entities by name, kind and unit"`
	Context  ContextCmd  `cmd:"" help:"Show 360-degree view of a symbol"`
	Callers  CallersCmd  `cmd:"" help:"List callers of a symbol"`
	Callees  CalleesCmd  `cmd:"" help:"List callees of a symbol"`
	Impact   ImpactCmd   `cmd:"" help:"Show blast radius of changing a symbol"`
	DeadCode DeadCodeCmd `cmd:"" help:"List all detected dead code"`
	Flows    FlowsCmd    `cmd:"" help:"Trace call flows from entry points"`
	Report   ReportCmd   `cmd:"" help:"Show the build report of the saved graph"`
	Watch    WatchCmd    `cmd:"" help:"Watch mode with live rebuilding"`
	Setup    SetupCmd    `cmd:"" help:"Configure MCP for Claude Code / Cursor / Qwen"`
	MCP      MCPCmd      `cmd:"" help:"Start MCP server (stdio transport)"`
	Status   StatusCmd   `cmd:"" help:"Show index status for a project"`
	Clean    CleanCmd    `cmd:"" help:"Delete the index of a project"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command.
func (c *CLI) Execute(args []string) error {
	parser, err := kong.New(c,
		kong.Name("pygraph"),
		kong.Description("Static code graph builder for Python projects"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
	)
	if err != nil {
		return err
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}
	return kongCtx.Run(&c.Globals)
}

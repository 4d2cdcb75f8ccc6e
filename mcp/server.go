// Package mcp provides the MCP (Model Context Protocol) server for pygraph.
//
// The server answers questions about one built code graph. The graph can be
// swapped while the server runs, which is how watch mode keeps it current.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Benny93/pygraph/internal/graph"
	"github.com/Benny93/pygraph/internal/storage"
)

// Version is reported to clients during initialization.
var Version = "dev"

// ErrNoGraph is returned by tools and resources before a graph is set.
var ErrNoGraph = errors.New("no graph loaded, run `pygraph build` first")

// Server represents the MCP server.
type Server struct {
	mu     sync.RWMutex
	graph  *graph.CodeGraph
	store  *storage.MemoryStore
	server *mcp.Server
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Logs must never go to stdout while the stdio
// transport is in use.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a server with every tool and resource registered and
// no graph loaded.
func NewServer(opts ...Option) *Server {
	s := &Server{
		store:  storage.NewMemoryStore(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "pygraph",
		Version: Version,
	}, nil)

	for _, tool := range s.ListTools() {
		name := tool.Name
		mcp.AddTool(s.server, tool, func(ctx context.Context, _ *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
			text, err := s.CallTool(ctx, name, args)
			if err != nil {
				return toolError(err), nil, nil
			}
			return toolText(text), nil, nil
		})
	}
	for _, res := range s.ListResources() {
		s.server.AddResource(res, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.ReadResource(ctx, req.Params.URI)
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{
					URI:      req.Params.URI,
					MIMEType: "text/markdown",
					Text:     text,
				}},
			}, nil
		})
	}
	return s
}

// SetGraph replaces the graph the server answers from and re-indexes it for
// search.
func (s *Server) SetGraph(ctx context.Context, g *graph.CodeGraph) error {
	if err := s.store.Save(ctx, g); err != nil {
		return fmt.Errorf("indexing graph: %w", err)
	}
	s.mu.Lock()
	s.graph = g
	s.mu.Unlock()
	s.logger.Debug("graph loaded", "entities", g.EntityCount(), "edges", g.EdgeCount())
	return nil
}

// Graph returns the current graph, or nil.
func (s *Server) Graph() *graph.CodeGraph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph
}

// Close releases the search index.
func (s *Server) Close() error {
	return s.store.Close()
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []*mcp.Tool {
	symbol := &jsonschema.Schema{Type: "string", Description: "Entity id (models/user.py::User.greet), qualified name (User.greet) or bare name"}
	return []*mcp.Tool{
		{
			Name:        "pygraph_find",
			Description: "Find entities by name, kind and unit. Returns matching modules, classes, functions and methods.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"name":     {Type: "string", Description: "Exact entity name"},
					"contains": {Type: "string", Description: "Substring the entity name must contain"},
					"kind":     {Type: "string", Enum: []any{"module", "class", "function", "method"}, Description: "Entity kind"},
					"unit":     {Type: "string", Description: "Glob over unit paths, e.g. models/*.py"},
					"limit":    {Type: "integer", Description: "Maximum number of results"},
				},
			},
		},
		{
			Name:        "pygraph_search",
			Description: "Search entity names, signatures and docstrings. Returns symbols ranked by token matches.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"query": {Type: "string", Description: "Search query text"},
					"limit": {Type: "integer", Description: "Maximum number of results"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "pygraph_context",
			Description: "Get a 360-degree view of a symbol: definition, parent, members, bases, callers and callees.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{"symbol": symbol},
				Required:   []string{"symbol"},
			},
		},
		{
			Name:        "pygraph_callers",
			Description: "List the functions, methods and modules that call or instantiate a symbol.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{"symbol": symbol},
				Required:   []string{"symbol"},
			},
		},
		{
			Name:        "pygraph_callees",
			Description: "List what a symbol calls or instantiates, including unresolved targets.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{"symbol": symbol},
				Required:   []string{"symbol"},
			},
		},
		{
			Name:        "pygraph_impact",
			Description: "Blast radius analysis: find all symbols affected by changing a given symbol.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"symbol": symbol,
					"depth":  {Type: "integer", Description: "Maximum traversal depth"},
				},
				Required: []string{"symbol"},
			},
		},
		{
			Name:        "pygraph_dead_code",
			Description: "List classes, functions and methods nothing in the project uses, graded by confidence.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"confidence": {Type: "string", Enum: []any{"high", "medium", "low"}, Description: "Minimum confidence to report"},
				},
			},
		},
		{
			Name:        "pygraph_flows",
			Description: "Trace call flows from entry points: main functions, registered handlers and module bodies.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"depth": {Type: "integer", Description: "Maximum call depth"},
				},
			},
		},
		{
			Name:        "pygraph_report",
			Description: "Show the build report: parse failures, diagnostics and unresolved references by reason.",
			InputSchema: &jsonschema.Schema{
				Type:       "object",
				Properties: map[string]*jsonschema.Schema{},
			},
		},
	}
}

// ListResources returns all registered resources.
func (s *Server) ListResources() []*mcp.Resource {
	return []*mcp.Resource{
		{
			URI:         "pygraph://overview",
			Name:        "Codebase Overview",
			Description: "High-level statistics about the built graph",
			MIMEType:    "text/markdown",
		},
		{
			URI:         "pygraph://dead-code",
			Name:        "Dead Code Report",
			Description: "List of all symbols nothing uses",
			MIMEType:    "text/markdown",
		},
		{
			URI:         "pygraph://schema",
			Name:        "Graph Schema",
			Description: "Entity and edge kinds of the pygraph code graph",
			MIMEType:    "text/markdown",
		},
	}
}

// CallTool executes a tool with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	g := s.Graph()
	if g == nil {
		return "", ErrNoGraph
	}
	s.logger.Debug("tool call", "tool", name)

	switch name {
	case "pygraph_find":
		return handleFind(g, stringArg(args, "name"), stringArg(args, "contains"),
			stringArg(args, "kind"), stringArg(args, "unit"), intArg(args, "limit", 20))
	case "pygraph_search":
		return s.handleSearch(ctx, stringArg(args, "query"), intArg(args, "limit", 20))
	case "pygraph_context":
		return handleContext(g, stringArg(args, "symbol"))
	case "pygraph_callers":
		return handleCallers(g, stringArg(args, "symbol"))
	case "pygraph_callees":
		return handleCallees(g, stringArg(args, "symbol"))
	case "pygraph_impact":
		return handleImpact(g, stringArg(args, "symbol"), intArg(args, "depth", 3))
	case "pygraph_dead_code":
		return handleDeadCode(g, stringArg(args, "confidence"))
	case "pygraph_flows":
		return handleFlows(g, intArg(args, "depth", 0))
	case "pygraph_report":
		return handleReport(g), nil
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (string, error) {
	if uri == "pygraph://schema" {
		return getSchema(), nil
	}
	g := s.Graph()
	if g == nil {
		return "", ErrNoGraph
	}
	switch uri {
	case "pygraph://overview":
		return getOverview(g), nil
	case "pygraph://dead-code":
		return handleDeadCode(g, "")
	default:
		return "", fmt.Errorf("unknown resource: %s", uri)
	}
}

// Connect serves one session over t and returns without blocking.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// Run serves over stdin/stdout until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server started", "transport", "stdio")
	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serving mcp: %w", err)
	}
	return nil
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func toolError(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: "Error: " + err.Error()}},
		IsError: true,
	}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg reads an integer argument. JSON numbers arrive as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return def
}

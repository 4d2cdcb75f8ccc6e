// Package source enumerates and reads the units of a Python project.
package source

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/Benny93/pygraph/internal/config"
	"github.com/Benny93/pygraph/internal/graph"
)

var (
	// ErrRootNotFound is returned when the project root does not exist.
	ErrRootNotFound = errors.New("project root not found")

	// ErrNotDirectory is returned when the project root is a file.
	ErrNotDirectory = errors.New("project root is not a directory")
)

// Unit is one source file of the project. It is immutable after load.
type Unit struct {
	// ID is the project-relative path with forward slashes.
	ID string

	// Path is the absolute file path.
	Path string

	// ModuleName is the dotted import name, e.g. "models.user".
	ModuleName string

	Content []byte

	// SHA256 is the hex hash of Content.
	SHA256 string
}

// Default patterns to ignore in addition to .gitignore.
var defaultIgnorePatterns = []string{
	".git/",
	".pygraph/",
	"node_modules/",
	".pytest_cache/",
	".mypy_cache/",
	"htmlcov/",
	"*.pyc",
	"*.pyo",
	"*.pyd",
}

// Loader discovers and reads units under a project root.
type Loader struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewLoader creates a loader. A nil config means config.Default().
func NewLoader(cfg *config.Config, logger *slog.Logger) *Loader {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, logger: logger}
}

// CheckRoot verifies that root exists and is a directory and returns its
// absolute form.
func CheckRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrRootNotFound, root)
		}
		return "", fmt.Errorf("stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}
	return abs, nil
}

// Filter decides which paths under one project root are selected.
type Filter struct {
	cfg     *config.Config
	matcher gitignore.Matcher
}

// Filter builds the path filter for root from its .gitignore and the
// default ignore patterns.
func (l *Loader) Filter(root string) (*Filter, error) {
	patterns, err := loadGitignore(root)
	if err != nil {
		return nil, fmt.Errorf("loading .gitignore: %w", err)
	}
	return &Filter{cfg: l.cfg, matcher: newMatcher(patterns)}, nil
}

// SkipDir reports whether the directory at the root-relative path rel is
// excluded from the walk.
func (f *Filter) SkipDir(rel string) bool {
	return f.cfg.ShouldExcludeDir(filepath.Base(rel)) || f.matcher.Match(splitPath(rel), true)
}

// Selects reports whether the file at the root-relative path rel is a unit.
func (f *Filter) Selects(rel string) bool {
	if !f.cfg.ShouldParseExtension(filepath.Ext(rel)) {
		return false
	}
	parts := splitPath(rel)
	for i := 1; i < len(parts); i++ {
		if f.cfg.ShouldExcludeDir(parts[i-1]) {
			return false
		}
	}
	return !f.matcher.Match(parts, false)
}

// Discover walks root and returns the unit ids of every selected file,
// sorted. Directories that cannot be read are skipped.
func (l *Loader) Discover(root string) ([]string, error) {
	root, err := CheckRoot(root)
	if err != nil {
		return nil, err
	}

	filter, err := l.Filter(root)
	if err != nil {
		return nil, err
	}

	var ids []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("skipping unreadable path", slog.String("path", path), slog.Any("error", err))
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if filter.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if filter.Selects(rel) {
			ids = append(ids, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(ids)
	return ids, nil
}

// Read loads one unit. Per-unit problems are returned as a ParseFailure,
// never as an error.
func (l *Loader) Read(root, id string) (*Unit, *graph.ParseFailure) {
	path := filepath.Join(root, filepath.FromSlash(id))

	info, err := os.Stat(path)
	if err != nil {
		l.logger.Warn("unit unreadable", slog.String("unit", id), slog.Any("error", err))
		return nil, &graph.ParseFailure{Unit: id, Message: "unreadable", Span: graph.Span{Unit: id}}
	}
	if info.Size() > l.cfg.MaxFileSize {
		l.logger.Warn("unit too large",
			slog.String("unit", id),
			slog.Int64("size", info.Size()),
			slog.Int64("max", l.cfg.MaxFileSize),
		)
		return nil, &graph.ParseFailure{
			Unit:    id,
			Message: fmt.Sprintf("file too large (%d bytes, limit %d)", info.Size(), l.cfg.MaxFileSize),
			Span:    graph.Span{Unit: id},
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		l.logger.Warn("unit unreadable", slog.String("unit", id), slog.Any("error", err))
		return nil, &graph.ParseFailure{Unit: id, Message: "unreadable", Span: graph.Span{Unit: id}}
	}

	hash := sha256.Sum256(content)
	return &Unit{
		ID:         id,
		Path:       path,
		ModuleName: ModuleName(id),
		Content:    content,
		SHA256:     hex.EncodeToString(hash[:]),
	}, nil
}

// Result is the outcome of loading a whole project.
type Result struct {
	Units    []*Unit
	Failures []graph.ParseFailure
}

// Load discovers and reads every unit under root.
func (l *Loader) Load(root string) (*Result, error) {
	abs, err := CheckRoot(root)
	if err != nil {
		return nil, err
	}
	ids, err := l.Discover(abs)
	if err != nil {
		return nil, err
	}
	return l.readAll(abs, ids), nil
}

// LoadFiles reads an explicit list of files. Paths may be absolute or
// relative to root; files outside root or with an unselected extension are
// ignored.
func (l *Loader) LoadFiles(root string, files []string) (*Result, error) {
	abs, err := CheckRoot(root)
	if err != nil {
		return nil, err
	}
	ids, err := l.UnitIDs(abs, files)
	if err != nil {
		return nil, err
	}
	return l.readAll(abs, ids), nil
}

// UnitIDs converts file paths to sorted, de-duplicated unit ids.
func (l *Loader) UnitIDs(root string, files []string) ([]string, error) {
	seen := make(map[string]bool, len(files))
	var ids []string
	for _, f := range files {
		path := f
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, fmt.Errorf("relating %s to root: %w", f, err)
		}
		if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			l.logger.Debug("ignoring file outside root", slog.String("path", f))
			continue
		}
		if !l.cfg.ShouldParseExtension(filepath.Ext(rel)) {
			continue
		}
		id := filepath.ToSlash(rel)
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (l *Loader) readAll(root string, ids []string) *Result {
	res := &Result{}
	for _, id := range ids {
		unit, failure := l.Read(root, id)
		if failure != nil {
			res.Failures = append(res.Failures, *failure)
			continue
		}
		res.Units = append(res.Units, unit)
	}
	return res
}

// ModuleName derives the dotted module name from a unit id.
// "models/user.py" becomes "models.user" and "pkg/__init__.py" becomes "pkg".
func ModuleName(id string) string {
	name := strings.TrimSuffix(id, filepath.Ext(id))
	name = strings.ReplaceAll(name, "/", ".")
	if name == "__init__" {
		return name
	}
	return strings.TrimSuffix(name, ".__init__")
}

// IsPackageInit reports whether the unit is a package's __init__ file.
func IsPackageInit(id string) bool {
	base := id
	if i := strings.LastIndex(id, "/"); i >= 0 {
		base = id[i+1:]
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) == "__init__"
}

func newMatcher(patterns []gitignore.Pattern) gitignore.Matcher {
	all := make([]gitignore.Pattern, 0, len(defaultIgnorePatterns)+len(patterns))
	for _, p := range defaultIgnorePatterns {
		all = append(all, gitignore.ParsePattern(p, nil))
	}
	all = append(all, patterns...)
	return gitignore.NewMatcher(all)
}

// loadGitignore loads .gitignore patterns from the project root.
func loadGitignore(root string) ([]gitignore.Pattern, error) {
	content, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, nil
}

func splitPath(path string) []string {
	return strings.Split(path, string(filepath.Separator))
}

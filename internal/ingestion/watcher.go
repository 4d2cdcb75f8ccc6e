package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Benny93/pygraph/internal/config"
	"github.com/Benny93/pygraph/internal/graph"
	"github.com/Benny93/pygraph/internal/source"
)

// DefaultDebounce is how long the watcher waits after the last change
// before rebuilding.
const DefaultDebounce = 500 * time.Millisecond

// BuildHandler receives the outcome of every build triggered by Watch.
type BuildHandler func(g *graph.CodeGraph, err error)

// WithDebounce sets the quiet period Watch waits for before rebuilding.
func WithDebounce(d time.Duration) Option {
	return func(b *Builder) { b.debounce = d }
}

// Watch builds root once, then rebuilds the whole project after every
// debounced batch of changes to selected units or to the config file.
// It blocks until ctx is canceled and returns ctx.Err().
func (b *Builder) Watch(ctx context.Context, root string, onBuild BuildHandler) error {
	abs, cfg, err := b.prepare(root)
	if err != nil {
		return err
	}
	filter, err := source.NewLoader(cfg, b.logger).Filter(abs)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, abs, abs, filter); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	g, err := b.Build(ctx, abs)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	onBuild(g, err)

	debounce := b.debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	timer := time.NewTimer(debounce)
	timer.Stop()

	pending := 0
	b.logger.Info("watching for changes", slog.String("root", abs))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			rel, err := filepath.Rel(abs, event.Name)
			if err != nil {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !filter.SkipDir(rel) {
						if err := watchTree(watcher, abs, event.Name, filter); err != nil {
							b.logger.Warn("cannot watch directory", slog.String("path", rel), slog.Any("error", err))
						}
						pending++
						timer.Reset(debounce)
					}
					continue
				}
			}

			if rel != config.FileName && !filter.Selects(rel) {
				continue
			}
			b.logger.Debug("change detected", slog.String("path", filepath.ToSlash(rel)), slog.String("op", event.Op.String()))
			pending++
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("watch error", slog.Any("error", err))

		case <-timer.C:
			if pending == 0 {
				continue
			}
			b.logger.Info("rebuilding", slog.Int("changes", pending))
			pending = 0

			g, err := b.Build(ctx, abs)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			onBuild(g, err)
		}
	}
}

// watchTree adds dir and every selected directory below it. dir is root or
// a directory under it.
func watchTree(w *fsnotify.Watcher, root, dir string, filter *source.Filter) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if filter.SkipDir(rel) {
				return filepath.SkipDir
			}
		}
		return w.Add(path)
	})
}

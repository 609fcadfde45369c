// Package watch re-runs tests when files change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault is the quiet period after the last event before a batch
// of changes is handed on.
const debounceDefault = 300 * time.Millisecond

// RunFunc runs the tests for a batch of changes. tests holds the changed
// files that are themselves tests; all reports that something else changed.
type RunFunc func(ctx context.Context, tests []string, all bool)

// Config configures a Watcher.
type Config struct {
	Root     string            // directory tree to watch
	IsTest   func(string) bool // reports whether a path is a test file
	Debounce time.Duration     // 0 = debounceDefault
	Ignore   func(string) bool // paths to skip; nil skips hidden entries
}

// Watcher batches file system events under a directory tree.
type Watcher struct {
	cfg Config
}

// New returns a watcher.
func New(cfg Config) *Watcher {
	if cfg.Debounce == 0 {
		cfg.Debounce = debounceDefault
	}
	if cfg.Ignore == nil {
		cfg.Ignore = hidden
	}
	if cfg.IsTest == nil {
		cfg.IsTest = func(string) bool { return false }
	}
	return &Watcher{cfg: cfg}
}

// Run watches until ctx is cancelled, calling run once per batch of changes.
// Batches are handed on one at a time; changes during a run are collected
// into the next batch.
func (w *Watcher) Run(ctx context.Context, run RunFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dirs, err := w.addTree(watcher, w.cfg.Root)
	if err != nil {
		return err
	}
	slog.Info("watching for changes", "root", w.cfg.Root, "dirs", dirs)

	b := newBatch()
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	var wg sync.WaitGroup
	defer wg.Wait()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-fire:
				tests, all := b.take(w.cfg.IsTest)
				if len(tests) == 0 && !all {
					continue
				}
				run(ctx, tests, all)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if w.cfg.Ignore(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if _, err := w.addTree(watcher, event.Name); err != nil {
						slog.Warn("watch new directory", "dir", event.Name, "error", err)
					}
					continue
				}
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			b.add(event.Name)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.cfg.Debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

// addTree watches root and every directory below it.
func (w *Watcher) addTree(watcher *fsnotify.Watcher, root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.cfg.Ignore(path) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		n++
		return nil
	})
	return n, err
}

// batch collects changed paths between runs.
type batch struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newBatch() *batch {
	return &batch{paths: make(map[string]struct{})}
}

func (b *batch) add(path string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paths[path] = struct{}{}
}

// take empties the batch, splitting it into changed tests (sorted) and
// whether any other file changed.
func (b *batch) take(isTest func(string) bool) (tests []string, all bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for path := range b.paths {
		if !isTest(path) {
			all = true
			continue
		}
		if _, err := os.Stat(path); err == nil {
			tests = append(tests, path)
		}
	}
	b.paths = make(map[string]struct{})
	sort.Strings(tests)
	return tests, all
}

// hidden skips dot files and directories, and editor backups.
func hidden(path string) bool {
	base := filepath.Base(path)
	if base == "." || base == ".." {
		return false
	}
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp")
}

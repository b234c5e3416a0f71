// Package filewatch wraps fsnotify into the debounced, symlink-resolved
// watcher the rest of devenv expects (spec.md §4.G). Grounded on
// ternarybob-iter/pkg/index/watcher.go's fsnotify wiring (debounce ticker,
// pending-map, directory-walk add) and devenv-file-watcher/src/lib.rs for
// the parent-directory fallback and the "always valid, recv blocks
// forever on failure" contract.
package filewatch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileChangeEvent is one debounced change record delivered on a watcher's
// output channel.
type FileChangeEvent struct {
	Path string
}

// Config configures a Watcher. Canonicalized per spec.md §4.G: "Path set
// is canonicalized (resolves symlinks...)".
type Config struct {
	Paths      []string
	Extensions []string // empty means all
	Ignore     []string // glob patterns
	Recursive  bool
	Throttle   time.Duration // default 100ms
}

func (c Config) withDefaults() Config {
	if c.Throttle <= 0 {
		c.Throttle = 100 * time.Millisecond
	}
	return c
}

// Watcher delivers debounced FileChangeEvents. A zero-value-safe handle:
// when construction of the underlying fsnotify watcher fails, or Paths is
// empty, Events() never produces and blocks forever — callers never need
// to special-case "no watcher" (spec.md §4.G).
type Watcher struct {
	cfg Config

	mu           sync.Mutex
	watched      map[string]bool // canonicalized dirs currently added to fsnotify
	trackedFiles map[string]bool // individual files added in non-recursive mode: events outside this set are filtered out

	fsw    *fsnotify.Watcher
	events chan FileChangeEvent
	stopCh chan struct{}

	pendingMu sync.Mutex
	pending   map[string]time.Time
}

// New creates a Watcher for cfg. Infallible by contract: any setup error
// is swallowed and leaves Events() silent forever (spec.md §4.G).
func New(cfg Config) *Watcher {
	cfg = cfg.withDefaults()
	w := &Watcher{
		cfg:          cfg,
		watched:      map[string]bool{},
		trackedFiles: map[string]bool{},
		events:       make(chan FileChangeEvent, 100),
		stopCh:       make(chan struct{}),
		pending:      map[string]time.Time{},
	}

	if len(cfg.Paths) == 0 {
		return w
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return w
	}
	w.fsw = fsw

	for _, p := range cfg.Paths {
		w.Watch(p)
	}

	go w.processEvents()
	go w.processDebounced()
	return w
}

// Events is the debounced output channel. It is never closed; after Close
// no further events are sent on it.
func (w *Watcher) Events() <-chan FileChangeEvent { return w.events }

// Watch adds a path at runtime, same canonicalization and
// parent-directory fallback as the paths given at construction
// (spec.md §4.G "Runtime-added paths extend this parent-directory set").
func (w *Watcher) Watch(path string) {
	canonical, err := filepath.EvalSymlinks(path)
	if err != nil {
		canonical = path
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw == nil {
		return
	}

	target := canonical
	if !w.cfg.Recursive {
		if info, err := os.Stat(canonical); err == nil && !info.IsDir() {
			w.trackedFiles[canonical] = true
			target = filepath.Dir(canonical)
		}
	}
	if w.watched[target] {
		return
	}
	if w.cfg.Recursive {
		_ = filepath.Walk(target, func(p string, info os.FileInfo, err error) error {
			if err != nil || !info.IsDir() {
				return nil
			}
			_ = w.fsw.Add(p)
			return nil
		})
	} else {
		_ = w.fsw.Add(target)
	}
	w.watched[target] = true
}

// Close stops the watcher goroutines and releases the fsnotify handle.
func (w *Watcher) Close() error {
	select {
	case <-w.stopCh:
		return nil // already closed
	default:
		close(w.stopCh)
	}
	if w.fsw == nil {
		return nil
	}
	return w.fsw.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !w.matches(ev.Name) {
				continue
			}
			canonical, err := filepath.EvalSymlinks(ev.Name)
			if err != nil {
				canonical = ev.Name
			}
			w.pendingMu.Lock()
			w.pending[canonical] = time.Now()
			w.pendingMu.Unlock()
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// matches applies the path-equality filter spec.md §4.G requires for
// individually watched files ("events are then filtered by path
// equality"), plus the extension allow-list and ignore globs. Once any
// individual file has been tracked, the filter applies watcher-wide —
// this watcher is meant to track a set of files-or-directories, not a
// mix of both within one non-recursive instance.
func (w *Watcher) matches(name string) bool {
	w.mu.Lock()
	hasTrackedFiles := len(w.trackedFiles) > 0
	tracked := w.trackedFiles[name]
	w.mu.Unlock()
	if hasTrackedFiles && !w.cfg.Recursive {
		canonical, err := filepath.EvalSymlinks(name)
		if err == nil {
			w.mu.Lock()
			tracked = tracked || w.trackedFiles[canonical]
			w.mu.Unlock()
		}
		if !tracked {
			return false
		}
	}
	if len(w.cfg.Extensions) > 0 {
		ok := false
		ext := filepath.Ext(name)
		for _, want := range w.cfg.Extensions {
			if ext == "."+want || ext == want {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	base := filepath.Base(name)
	for _, pattern := range w.cfg.Ignore {
		if matched, _ := filepath.Match(pattern, base); matched {
			return false
		}
		if matched, _ := filepath.Match(pattern, name); matched {
			return false
		}
	}
	return true
}

func (w *Watcher) processDebounced() {
	ticker := time.NewTicker(w.cfg.Throttle)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	now := time.Now()
	for path, ts := range w.pending {
		if now.Sub(ts) < w.cfg.Throttle {
			continue
		}
		delete(w.pending, path)
		select {
		case w.events <- FileChangeEvent{Path: path}:
		default:
			// A slow consumer shouldn't stall the watcher; the event is
			// dropped rather than blocking fsnotify's own event loop.
		}
	}
}

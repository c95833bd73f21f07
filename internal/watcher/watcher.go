package watcher

import (
	"context"
	"errors"
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

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is root-relative and slash-separated.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// Handler receives a root-relative file path.
type Handler func(ctx context.Context, path string)

// Handlers are invoked sequentially from a single goroutine. Nil handlers
// are skipped.
type Handlers struct {
	OnAdd    Handler
	OnChange Handler
	OnUnlink Handler
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is the quiet period before events are delivered.
	// Default: 200ms
	DebounceWindow time.Duration

	// PollInterval is the rescan interval in polling mode.
	// Default: 5s
	PollInterval time.Duration

	// Filter, when set, limits callbacks to paths it accepts.
	Filter func(rel string) bool

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 200 * time.Millisecond,
		PollInterval:   5 * time.Second,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	return o
}

// ErrNotDirectory is returned when the watch root is not a directory.
var ErrNotDirectory = errors.New("watch root is not a directory")

// Watcher watches a directory tree and calls Handlers for file changes.
type Watcher struct {
	root     string
	handlers Handlers
	opts     Options

	mu        sync.RWMutex
	active    bool
	fsw       *fsnotify.Watcher
	poller    *PollingWatcher
	debouncer *Debouncer
	watched   map[string]struct{} // fsnotify directories, root-relative
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a watcher for root. Nothing is watched until Start.
func New(root string, handlers Handlers, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}
	return &Watcher{
		root:     abs,
		handlers: handlers,
		opts:     opts.WithDefaults(),
	}, nil
}

// Start begins watching and returns once the watch is set up. Calling Start
// on an active watcher is a no-op. The watcher stops when ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active {
		return nil
	}

	w.stopCh = make(chan struct{})
	w.debouncer = NewDebouncer(w.opts.DebounceWindow)
	w.watched = make(map[string]struct{})

	if !w.opts.ForcePolling {
		if err := w.startFsnotify(); err != nil {
			slog.Warn("watcher_fsnotify_unavailable", slog.String("error", err.Error()))
			if w.fsw != nil {
				_ = w.fsw.Close()
				w.fsw = nil
			}
			w.watched = make(map[string]struct{})
		}
	}
	if w.fsw == nil {
		w.startPolling(ctx)
	}

	w.wg.Add(1)
	go w.dispatch(ctx, w.debouncer, w.stopCh)

	// Not tracked by wg: Stop waits on wg.
	go func(stop chan struct{}) {
		select {
		case <-ctx.Done():
			_ = w.Stop()
		case <-stop:
		}
	}(w.stopCh)

	w.active = true
	slog.Info("watcher_started", slog.String("root", w.root), slog.String("mode", w.modeLocked()))
	return nil
}

// startFsnotify must be called with lock held.
func (w *Watcher) startFsnotify() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	if err := w.addRecursive(w.root, false); err != nil {
		return err
	}

	w.wg.Add(1)
	go func(fsw *fsnotify.Watcher, d *Debouncer, stop chan struct{}) {
		defer w.wg.Done()
		for {
			select {
			case <-stop:
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				w.handleFsnotifyEvent(event, d)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("watcher_error", slog.String("error", err.Error()))
			}
		}
	}(fsw, w.debouncer, w.stopCh)
	return nil
}

// startPolling must be called with lock held.
func (w *Watcher) startPolling(ctx context.Context) {
	p := NewPollingWatcher(w.opts.PollInterval, func(rel string, _ bool) bool { return isHidden(rel) })
	w.poller = p

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		if err := p.Start(ctx, w.root); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("watcher_poll_stopped", slog.String("error", err.Error()))
		}
	}()
	go func(d *Debouncer) {
		defer w.wg.Done()
		for event := range p.Events() {
			d.Add(event)
		}
	}(w.debouncer)
}

// addRecursive watches dir and every non-hidden directory below it. With
// emitFiles set, files already present are reported as created; this covers
// files written into a directory before its watch was registered.
// Must be called with lock held.
func (w *Watcher) addRecursive(dir string, emitFiles bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip what we can't access
		}
		rel := w.rel(path)
		if d.IsDir() {
			if rel != "." && isHidden(rel) {
				return filepath.SkipDir
			}
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", rel, err)
			}
			w.watched[rel] = struct{}{}
			return nil
		}
		if emitFiles && !isHidden(rel) {
			w.debouncer.Add(FileEvent{Path: rel, Operation: OpCreate, Timestamp: time.Now()})
		}
		return nil
	})
}

func (w *Watcher) handleFsnotifyEvent(event fsnotify.Event, d *Debouncer) {
	rel := w.rel(event.Name)
	if rel == "." || isHidden(rel) {
		return
	}

	now := time.Now()
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.mu.Lock()
			if w.fsw != nil {
				if err := w.addRecursive(event.Name, true); err != nil {
					slog.Warn("watcher_add_failed", slog.String("path", rel), slog.String("error", err.Error()))
				}
			}
			w.mu.Unlock()
			return
		}
		d.Add(FileEvent{Path: rel, Operation: OpCreate, Timestamp: now})
	case event.Has(fsnotify.Write):
		d.Add(FileEvent{Path: rel, Operation: OpModify, Timestamp: now})
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		_, isDir := w.watched[rel]
		delete(w.watched, rel)
		w.mu.Unlock()
		d.Add(FileEvent{Path: rel, Operation: OpDelete, IsDir: isDir, Timestamp: now})
	}
}

// dispatch delivers debounced batches to the handlers.
func (w *Watcher) dispatch(ctx context.Context, d *Debouncer, stop chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case batch, ok := <-d.Output():
			if !ok {
				return
			}
			for _, event := range batch {
				if ctx.Err() != nil {
					return
				}
				w.deliver(ctx, event)
			}
		}
	}
}

func (w *Watcher) deliver(ctx context.Context, event FileEvent) {
	if event.IsDir {
		return
	}
	if w.opts.Filter != nil && !w.opts.Filter(event.Path) {
		return
	}

	slog.Debug("watcher_event", slog.String("path", event.Path), slog.String("op", event.Operation.String()))

	var h Handler
	switch event.Operation {
	case OpCreate:
		h = w.handlers.OnAdd
	case OpModify:
		h = w.handlers.OnChange
	case OpDelete:
		h = w.handlers.OnUnlink
	}
	if h != nil {
		h(ctx, event.Path)
	}
}

// Stop stops watching and waits for in-flight callbacks. Pending debounced
// events are dropped. Safe to call multiple times; must not be called from a
// handler.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return nil
	}
	w.active = false
	close(w.stopCh)
	w.debouncer.Stop()

	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
		w.fsw = nil
	}
	if w.poller != nil {
		_ = w.poller.Stop()
		w.poller = nil
	}
	w.mu.Unlock()

	w.wg.Wait()
	slog.Info("watcher_stopped", slog.String("root", w.root))
	return err
}

// IsActive reports whether the watcher is running.
func (w *Watcher) IsActive() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// WatchedPaths returns the watched directories, root-relative and sorted.
// The root itself is ".". Empty when not active.
func (w *Watcher) WatchedPaths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.active {
		return nil
	}

	var dirs []string
	if w.poller != nil {
		dirs = append([]string{"."}, w.poller.Dirs()...)
	} else {
		for rel := range w.watched {
			dirs = append(dirs, rel)
		}
	}
	sort.Strings(dirs)
	return dirs
}

// Mode returns "fsnotify" or "polling", or "" when not active.
func (w *Watcher) Mode() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.active {
		return ""
	}
	return w.modeLocked()
}

func (w *Watcher) modeLocked() string {
	if w.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

func (w *Watcher) rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// isHidden reports whether any segment of a relative path starts with a dot.
func isHidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if len(seg) > 1 && seg[0] == '.' && seg != ".." {
			return true
		}
	}
	return false
}

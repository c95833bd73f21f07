package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	signal chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 100)}
}

func (r *recorder) handler(kind string) Handler {
	return func(_ context.Context, path string) {
		r.mu.Lock()
		r.events = append(r.events, kind+":"+path)
		r.mu.Unlock()
		r.signal <- struct{}{}
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnAdd:    r.handler("add"),
		OnChange: r.handler("change"),
		OnUnlink: r.handler("unlink"),
	}
}

// waitFor blocks until an event with the given prefix arrives or times out.
func (r *recorder) waitFor(t *testing.T, want string, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if r.has(want) {
			return
		}
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timeout waiting for %q, got %v", want, r.snapshot())
		}
	}
}

func (r *recorder) has(want string) bool {
	for _, e := range r.snapshot() {
		if e == want {
			return true
		}
	}
	return false
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func fastOptions() Options {
	return Options{DebounceWindow: 30 * time.Millisecond, PollInterval: 50 * time.Millisecond}
}

func TestWatcher_Lifecycle(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			// Given: a watcher on an empty directory
			dir := t.TempDir()
			rec := newRecorder()
			opts := fastOptions()
			opts.ForcePolling = polling
			w, err := New(dir, rec.handlers(), opts)
			require.NoError(t, err)
			assert.False(t, w.IsActive())
			assert.Empty(t, w.WatchedPaths())

			require.NoError(t, w.Start(context.Background()))
			defer w.Stop()
			assert.True(t, w.IsActive())
			assert.Equal(t, name, w.Mode())
			time.Sleep(100 * time.Millisecond)

			// When: a file is added, changed and removed
			path := filepath.Join(dir, "guide.md")
			require.NoError(t, os.WriteFile(path, []byte("# Guide"), 0o644))
			rec.waitFor(t, "add:guide.md", 2*time.Second)

			require.NoError(t, os.WriteFile(path, []byte("# Guide\n\nupdated body"), 0o644))
			rec.waitFor(t, "change:guide.md", 2*time.Second)

			require.NoError(t, os.Remove(path))
			rec.waitFor(t, "unlink:guide.md", 2*time.Second)

			// Then: Stop deactivates the watcher
			require.NoError(t, w.Stop())
			assert.False(t, w.IsActive())
			require.NoError(t, w.Stop(), "Stop is idempotent")
		})
	}
}

func TestWatcher_IgnoresDotfiles(t *testing.T) {
	// Given: a running watcher
	dir := t.TempDir()
	rec := newRecorder()
	w, err := New(dir, rec.handlers(), fastOptions())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// When: a dotfile and a normal file are written
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shown.md"), []byte("x"), 0o644))
	rec.waitFor(t, "add:shown.md", 2*time.Second)

	// Then: the dotfile never reaches a handler
	for _, e := range rec.snapshot() {
		assert.NotContains(t, e, ".hidden.md")
	}
}

func TestWatcher_NewDirectoryAndFilter(t *testing.T) {
	// Given: a watcher that only accepts Markdown
	dir := t.TempDir()
	rec := newRecorder()
	opts := fastOptions()
	opts.Filter = func(rel string) bool { return strings.HasSuffix(rel, ".md") }
	w, err := New(dir, rec.handlers(), opts)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// When: a nested directory is created with files inside
	sub := filepath.Join(dir, "docs", "api")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "index.md"), []byte("# API"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "logo.png"), []byte("png"), 0o644))

	// Then: the Markdown file is reported with a slash-separated relative path
	rec.waitFor(t, "add:docs/api/index.md", 2*time.Second)
	time.Sleep(100 * time.Millisecond)
	assert.False(t, rec.has("add:docs/api/logo.png"))
	assert.Contains(t, w.WatchedPaths(), "docs/api")
	assert.Contains(t, w.WatchedPaths(), ".")
}

func TestWatcher_StopsWithContext(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, Handlers{}, fastOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	assert.Eventually(t, func() bool { return !w.IsActive() }, time.Second, 10*time.Millisecond)
}

func TestNew_RejectsFiles(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.md")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := New(file, Handlers{}, DefaultOptions())
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestIsHidden(t *testing.T) {
	assert.True(t, isHidden(".git"))
	assert.True(t, isHidden("docs/.cache/x.md"))
	assert.True(t, isHidden(".env"))
	assert.False(t, isHidden("docs/readme.md"))
	assert.False(t, isHidden("../up.md"))
}

// Package watcher reports file additions, changes and removals under a root
// directory through callbacks, with root-relative paths.
//
// fsnotify is used when available; polling is the fallback for file systems
// where it fails (network mounts, some container volumes). Events are
// debounced so editor save storms and git checkouts collapse into one
// callback per path. Dotfiles and dot-directories are never reported.
//
// Usage:
//
//	w, err := watcher.New(root, watcher.Handlers{
//	    OnAdd:    func(ctx context.Context, path string) { ... },
//	    OnChange: func(ctx context.Context, path string) { ... },
//	    OnUnlink: func(ctx context.Context, path string) { ... },
//	}, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
//	defer w.Stop()
package watcher

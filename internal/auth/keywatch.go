package auth

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// KeyWatcher reloads the verification public key when its file changes, so
// keys can be rotated without a restart.
type KeyWatcher struct {
	path     string
	fs       afero.Fs
	verifier *Verifier
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	reloaded chan struct{}
}

// WatchPublicKey starts watching path and returns once the watch is active.
// The watch stops when ctx is cancelled. The directory is watched rather than
// the file because editors and secret mounts replace files by rename.
func WatchPublicKey(ctx context.Context, fs afero.Fs, path string, verifier *Verifier) (*KeyWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file system watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch key directory: %w", err)
	}

	w := &KeyWatcher{
		path:     abs,
		fs:       fs,
		verifier: verifier,
		watcher:  watcher,
		logger:   slog.Default().With("service", "keywatch"),
		reloaded: make(chan struct{}, 1),
	}
	go w.run(ctx)

	w.logger.Info("Watching public key for rotation", "path", abs)
	return w, nil
}

// Reloaded signals after each successful reload. Intended for tests.
func (w *KeyWatcher) Reloaded() <-chan struct{} {
	return w.reloaded
}

func (w *KeyWatcher) run(ctx context.Context) {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Key watcher error", "error", err)
		}
	}
}

func (w *KeyWatcher) reload() {
	pub, err := ParsePublicKey(w.fs, w.path)
	if err != nil {
		// Partial writes show up as parse errors; the next event retries.
		w.logger.Warn("Failed to reload public key, keeping the previous one", "path", w.path, "error", err)
		return
	}
	if err := w.verifier.SetPublicKey(pub); err != nil {
		w.logger.Warn("Rejected reloaded public key", "path", w.path, "error", err)
		return
	}
	w.logger.Info("Reloaded public key", "path", w.path, "alg", KeyAlg(pub))

	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}

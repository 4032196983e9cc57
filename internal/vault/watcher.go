package vault

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceWindow coalesces editor write bursts into one trigger.
const DefaultDebounceWindow = 500 * time.Millisecond

// Watcher watches the vault recursively and fires a callback after file
// activity settles. The callback runs an incremental index pass, so the
// watcher does not care which files changed, only that something did.
type Watcher struct {
	vaultPath string
	debounce  time.Duration
	onChange  func(ctx context.Context)

	mu      sync.Mutex
	fw      *fsnotify.Watcher
	stopped bool
}

// NewWatcher creates a vault watcher. A zero debounce uses the default.
func NewWatcher(vaultPath string, debounce time.Duration, onChange func(ctx context.Context)) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounceWindow
	}
	return &Watcher{
		vaultPath: vaultPath,
		debounce:  debounce,
		onChange:  onChange,
	}
}

// Start begins watching. It returns after setup; events are processed on
// a background goroutine until the context is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.fw = fw
	w.mu.Unlock()

	if err := w.addRecursive(w.vaultPath); err != nil {
		_ = fw.Close()
		return err
	}

	go w.loop(ctx, fw)
	return nil
}

// addRecursive registers the vault and its subdirectories, skipping
// dot-directories.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}

// loop coalesces raw events into debounced reindex triggers.
func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}

			// New directories must be registered to keep recursion live.
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}

			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			slog.Debug("vault_change_detected", slog.String("vault", w.vaultPath))
			w.onChange(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		}
	}
}

// relevant filters out events inside the data directory and events on
// files the indexer would skip anyway.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	rel, err := filepath.Rel(w.vaultPath, event.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}

	// Directory events matter for recursion; file events only for notes.
	if strings.Contains(filepath.Base(event.Name), ".") {
		return Indexable(filepath.Base(event.Name))
	}
	return true
}

// Stop stops the watcher. Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || w.fw == nil {
		return nil
	}
	w.stopped = true
	return w.fw.Close()
}

// Package watcher monitors a changing set of directories, the directories
// the user currently has expanded in the tree, and reports which one
// changed so only that subtree gets refreshed. It uses fsnotify where the
// platform supports it and falls back to periodic stat polling.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vanderheijden86/treeline/pkg/debug"
)

// DefaultPollInterval is the default polling interval for fallback mode.
const DefaultPollInterval = 2 * time.Second

// Common errors.
var (
	ErrPermission     = errors.New("permission denied")
	ErrAlreadyStarted = errors.New("watcher already started")
	ErrNotStarted     = errors.New("watcher not started")
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDuration sets the per-directory debounce duration.
func WithDebounceDuration(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDuration = d
	}
}

// WithPollInterval sets the polling interval for fallback mode.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.pollInterval = d
	}
}

// WithOnError sets the callback invoked on watch errors.
func WithOnError(fn func(error)) WatcherOption {
	return func(w *Watcher) {
		w.onError = fn
	}
}

// WithForcePoll forces polling mode even if fsnotify is available.
func WithForcePoll(force bool) WatcherOption {
	return func(w *Watcher) {
		w.forcePoll = force
	}
}

// dirState is the per-directory bookkeeping: the debouncer coalescing its
// event bursts and the last stat snapshot used by polling mode.
type dirState struct {
	debouncer *Debouncer
	lastMtime time.Time
	lastSize  int64
}

// Watcher monitors a set of directories for changes.
type Watcher struct {
	debounceDuration time.Duration
	pollInterval     time.Duration
	onError          func(error)
	forcePoll        bool

	fsWatcher   *fsnotify.Watcher
	useFallback bool

	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	mu       sync.RWMutex
	dirs     map[string]*dirState
	changeCh chan string
}

// NewWatcher creates a directory-set watcher. No directories are watched
// until Watch is called.
func NewWatcher(opts ...WatcherOption) *Watcher {
	w := &Watcher{
		debounceDuration: DefaultDebounceDuration,
		pollInterval:     DefaultPollInterval,
		onError:          func(error) {},
		dirs:             make(map[string]*dirState),
		changeCh:         make(chan string, 16),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins delivering change notifications.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	forcePoll := w.forcePoll ||
		envBool("TREELINE_FORCE_POLLING") || envBool("TREELINE_FORCE_POLL")

	w.useFallback = forcePoll
	if !forcePoll {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			debug.Log("fsnotify unavailable, polling: %v", err)
			w.useFallback = true
		} else {
			w.fsWatcher = fsw
			go w.watchFsnotify(fsw)
		}
	}
	if w.useFallback {
		go w.watchPolling()
	}

	w.started = true
	return nil
}

// Stop stops all watching. The change channel is intentionally left open;
// closing it would race with in-flight debounced notifications.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return
	}
	if w.cancel != nil {
		w.cancel()
	}
	if w.fsWatcher != nil {
		w.fsWatcher.Close()
		w.fsWatcher = nil
	}
	for _, st := range w.dirs {
		st.debouncer.Cancel()
	}
	w.started = false
}

// Watch adds dir to the watched set. Watching an already watched directory
// is a no-op.
func (w *Watcher) Watch(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return ErrNotStarted
	}
	if _, ok := w.dirs[abs]; ok {
		return nil
	}

	st := &dirState{debouncer: NewDebouncer(w.debounceDuration)}
	if info, err := os.Stat(abs); err == nil {
		st.lastMtime = info.ModTime()
		st.lastSize = info.Size()
	} else if os.IsPermission(err) {
		return ErrPermission
	}

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Add(abs); err != nil {
			return err
		}
	}
	w.dirs[abs] = st
	debug.Log("watching %s", abs)
	return nil
}

// Unwatch removes dir from the watched set.
func (w *Watcher) Unwatch(dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.dirs[abs]
	if !ok {
		return
	}
	st.debouncer.Cancel()
	delete(w.dirs, abs)
	if w.fsWatcher != nil {
		w.fsWatcher.Remove(abs)
	}
}

// Changed returns the channel on which changed directory paths arrive.
func (w *Watcher) Changed() <-chan string {
	return w.changeCh
}

// IsPolling reports whether the watcher runs in polling mode.
func (w *Watcher) IsPolling() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.useFallback
}

// Watched returns the currently watched directories.
func (w *Watcher) Watched() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.dirs))
	for dir := range w.dirs {
		out = append(out, dir)
	}
	return out
}

func envBool(name string) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return false
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// watchFsnotify routes fsnotify events to the owning directory. Events
// name entries inside a watched directory (or the directory itself on
// removal), so both the path and its parent are checked.
func (w *Watcher) watchFsnotify(fsw *fsnotify.Watcher) {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			dir := w.owningDir(event.Name)
			if dir == "" {
				continue
			}
			w.triggerChange(dir)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.onError(err)
		}
	}
}

// watchPolling stats every watched directory each tick and reports the
// ones whose mtime or size moved.
func (w *Watcher) watchPolling() {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			for _, dir := range w.Watched() {
				info, err := os.Stat(dir)
				if err != nil {
					if os.IsNotExist(err) {
						// Directory disappeared: report once so the tree
						// refreshes its parent, then stop watching it.
						w.Unwatch(dir)
						w.triggerChange(dir)
					} else {
						w.onError(err)
					}
					continue
				}

				w.mu.Lock()
				st, ok := w.dirs[dir]
				changed := ok && (info.ModTime().After(st.lastMtime) || info.Size() != st.lastSize)
				if changed {
					st.lastMtime = info.ModTime()
					st.lastSize = info.Size()
				}
				w.mu.Unlock()

				if changed {
					w.triggerChange(dir)
				}
			}
		}
	}
}

// owningDir maps an event path to the watched directory it belongs to.
func (w *Watcher) owningDir(name string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if _, ok := w.dirs[name]; ok {
		return name
	}
	parent := filepath.Dir(name)
	if _, ok := w.dirs[parent]; ok {
		return parent
	}
	return ""
}

// triggerChange debounces and then publishes dir on the change channel.
func (w *Watcher) triggerChange(dir string) {
	w.mu.RLock()
	st, ok := w.dirs[dir]
	started := w.started
	w.mu.RUnlock()
	if !started {
		return
	}

	notify := func() {
		select {
		case w.changeCh <- dir:
		default:
		}
	}
	if ok {
		st.debouncer.Trigger(notify)
	} else {
		// Already unwatched (directory removal): notify directly.
		notify()
	}
}

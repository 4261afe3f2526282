package watcher

import (
	"sync"
	"time"
)

// DefaultDebounceDuration is the quiet period applied to change bursts.
const DefaultDebounceDuration = 200 * time.Millisecond

// Debouncer coalesces a burst of triggers into a single callback, invoked
// once no trigger has arrived for the configured duration.
type Debouncer struct {
	d     time.Duration
	mu    sync.Mutex
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given quiet period. A
// non-positive duration fires callbacks immediately.
func NewDebouncer(d time.Duration) *Debouncer {
	return &Debouncer{d: d}
}

// Trigger schedules fn, replacing any previously scheduled callback.
func (db *Debouncer) Trigger(fn func()) {
	if db.d <= 0 {
		fn()
		return
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.timer != nil {
		db.timer.Stop()
	}
	db.timer = time.AfterFunc(db.d, fn)
}

// Cancel drops any scheduled callback.
func (db *Debouncer) Cancel() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
}

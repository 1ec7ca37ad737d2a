package viewstate

import (
	"sync"
	"time"
)

// debouncer coalesces rapid calls into a single trailing invocation.
// Each Trigger cancels the previously scheduled call, so only the last
// call's closure within the window runs.
type debouncer struct {
	mu     sync.Mutex
	window time.Duration
	timer  *time.Timer
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window}
}

// Trigger schedules fn after the debounce window, superseding any
// pending invocation.
func (d *debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	if d.window <= 0 {
		d.timer = nil
		go fn()
		return
	}
	d.timer = time.AfterFunc(d.window, fn)
}

// Stop cancels any pending invocation.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

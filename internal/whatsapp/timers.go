package whatsapp

import (
	"sync"
	"time"
)

type timerEntry struct {
	timer *time.Timer
	gen   uint64
}

// timerSet runs at most one pending callback per key. Scheduling a key again
// supersedes the previous callback; a canceled or superseded callback never runs.
type timerSet struct {
	mu      sync.Mutex
	gen     uint64
	entries map[int64]timerEntry
}

func newTimerSet() *timerSet {
	return &timerSet{entries: make(map[int64]timerEntry)}
}

func (t *timerSet) Schedule(key int64, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.timer.Stop()
	}
	t.gen++
	gen := t.gen
	timer := time.AfterFunc(d, func() {
		t.mu.Lock()
		e, ok := t.entries[key]
		if !ok || e.gen != gen {
			t.mu.Unlock()
			return
		}
		delete(t.entries, key)
		t.mu.Unlock()
		fn()
	})
	t.entries[key] = timerEntry{timer: timer, gen: gen}
}

func (t *timerSet) Cancel(key int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, key)
	return true
}

func (t *timerSet) Pending(key int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

func (t *timerSet) CancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
}

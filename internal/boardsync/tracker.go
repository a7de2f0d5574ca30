package boardsync

import (
	"strings"
	"sync"
	"time"
)

const DefaultSuppressionWindow = time.Second

// Tracker remembers ids the user changed locally within a short window so that
// the server's echo of the same change, or an older in-flight broadcast, does
// not overwrite the optimistic state.
type Tracker struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	marks   map[string]trackedMark
	gen     uint64
	stopped bool
}

type trackedMark struct {
	expiresAt time.Time
	gen       uint64
	timer     *time.Timer
}

// NewTracker builds a tracker. A non-positive window falls back to
// DefaultSuppressionWindow and a nil now to time.Now.
func NewTracker(window time.Duration, now func() time.Time) *Tracker {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		window: window,
		now:    now,
		marks:  map[string]trackedMark{},
	}
}

func (t *Tracker) Window() time.Duration {
	return t.window
}

func (t *Tracker) MarkLocallyModified(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if prev, ok := t.marks[id]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.marks[id] = trackedMark{
		expiresAt: t.now().Add(t.window),
		gen:       gen,
		timer:     time.AfterFunc(t.window, func() { t.expire(id, gen) }),
	}
}

func (t *Tracker) IsLocallyModified(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	mark, ok := t.marks[id]
	if !ok {
		return false
	}
	if !t.now().Before(mark.expiresAt) {
		t.removeLocked(id, mark)
		return false
	}
	return true
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()
	return len(t.marks)
}

// Stop cancels every pending removal and forgets all marks. Marks made after
// Stop are ignored.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for id, mark := range t.marks {
		t.removeLocked(id, mark)
	}
}

func (t *Tracker) expire(id string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mark, ok := t.marks[id]
	if !ok || mark.gen != gen {
		return
	}
	delete(t.marks, id)
}

func (t *Tracker) pruneLocked() {
	now := t.now()
	for id, mark := range t.marks {
		if !now.Before(mark.expiresAt) {
			t.removeLocked(id, mark)
		}
	}
}

func (t *Tracker) removeLocked(id string, mark trackedMark) {
	if mark.timer != nil {
		mark.timer.Stop()
	}
	delete(t.marks, id)
}

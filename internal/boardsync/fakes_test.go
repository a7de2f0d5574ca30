package boardsync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/boardsync/internal/board"
)

type fakeClient struct {
	mu        sync.Mutex
	pages     map[int]PageResult
	fresh     *PageResult
	listErr   error
	listGate  chan struct{}
	listCalls []ListQuery

	createErr error
	updateErr error
	deleteErr error
	created   []board.Entity
	updates   map[string]board.Patch
	deletes   []string
	assignID  string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		pages:   map[int]PageResult{},
		updates: map[string]board.Patch{},
	}
}

func (f *fakeClient) List(ctx context.Context, _ board.Kind, q ListQuery) (PageResult, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, q)
	gate := f.listGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return PageResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return PageResult{}, f.listErr
	}
	if q.Fresh && f.fresh != nil {
		return *f.fresh, nil
	}
	return f.pages[q.Page], nil
}

func (f *fakeClient) Create(_ context.Context, _ board.Kind, _, _ string, e board.Entity) (board.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return board.Entity{}, f.createErr
	}
	out := e.Clone()
	if f.assignID != "" {
		out.ID = f.assignID
	}
	out.CreatedAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	f.created = append(f.created, out)
	return out, nil
}

func (f *fakeClient) Update(_ context.Context, _ board.Kind, _, id string, patch board.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates[id] = patch
	return nil
}

func (f *fakeClient) Delete(_ context.Context, _ board.Kind, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeClient) calls() []ListQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ListQuery(nil), f.listCalls...)
}

func (f *fakeClient) freshCalls() int {
	n := 0
	for _, q := range f.calls() {
		if q.Fresh {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	items []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

func task(id, title string, group board.Group) board.Entity {
	return board.Entity{
		ID:       id,
		Title:    board.StringPtr(title),
		Status:   board.Status{ID: "st_" + string(group), Group: group},
		Priority: board.PriorityMedium,
	}
}

func event(t *testing.T, typ string, data map[string]any) board.Event {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return board.Event{Type: typ, Data: raw}
}

func ids(entities []board.Entity) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.ID
	}
	return out
}

package boardsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/agentworkforce/boardsync/internal/board"
)

const DefaultPageSize = 20

type ControllerOptions struct {
	Kind              board.Kind
	PageSize          int
	SuppressionWindow time.Duration
	Now               func() time.Time
	Notifier          Notifier
	Logger            *zerolog.Logger
	// OnChange receives a fresh snapshot after every visible change. It must
	// not call back into mutating controller methods.
	OnChange func(Snapshot)
	// OnDetailClosed fires when the controller closes the open detail view
	// because its record went away.
	OnDetailClosed func(id string)
}

type Snapshot struct {
	Kind        board.Kind       `json:"kind"`
	WorkspaceID string           `json:"workspaceId"`
	BrandID     string           `json:"brandId"`
	Entities    []board.Entity   `json:"entities"`
	Pagination  board.Pagination `json:"pagination"`
	Selected    string           `json:"selected,omitempty"`
}

// Controller owns the board for one mount: it loads pages, applies optimistic
// mutations and reconciles real-time events. All state changes happen under
// mu; network calls run outside it on goroutines counted in inflight.
type Controller struct {
	client         RemoteClient
	kind           board.Kind
	pageSize       int
	notifier       Notifier
	logger         zerolog.Logger
	onChange       func(Snapshot)
	onDetailClosed func(string)

	mu              sync.Mutex
	store           *Store
	tracker         *Tracker
	workspaceID     string
	brandID         string
	selected        string
	initialInFlight map[string]struct{}
	moreInFlight    bool
	generation      uint64
	closed          bool

	emitMu    sync.Mutex
	refetches singleflight.Group
	ctx       context.Context
	cancel    context.CancelFunc
	inflight  int
	idle      *sync.Cond
	closeOnce sync.Once
}

func NewController(client RemoteClient, opts ControllerOptions) (*Controller, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if !opts.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", board.ErrUnknownKind, opts.Kind)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("kind", string(opts.Kind)).Logger()
	notifier := opts.Notifier
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		client:          client,
		kind:            opts.Kind,
		pageSize:        pageSize,
		notifier:        notifier,
		logger:          logger,
		onChange:        opts.OnChange,
		onDetailClosed:  opts.OnDetailClosed,
		store:           NewStore(),
		tracker:         NewTracker(opts.SuppressionWindow, opts.Now),
		initialInFlight: map[string]struct{}{},
		ctx:             ctx,
		cancel:          cancel,
	}
	c.idle = sync.NewCond(&c.mu)
	return c, nil
}

func (c *Controller) Kind() board.Kind {
	return c.kind
}

// LoadInitial fetches page 1 for the scope and replaces the store with it. A
// call for a scope whose initial load is already running returns nil without
// fetching.
func (c *Controller) LoadInitial(ctx context.Context, workspaceID, brandID string) error {
	workspaceID = strings.TrimSpace(workspaceID)
	brandID = strings.TrimSpace(brandID)
	if workspaceID == "" || brandID == "" {
		return ErrMissingScope
	}
	key := scopeKey(workspaceID, brandID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, busy := c.initialInFlight[key]; busy {
		c.mu.Unlock()
		c.logger.Debug().Str("workspace", workspaceID).Str("brand", brandID).Msg("initial load already in flight")
		return nil
	}
	c.initialInFlight[key] = struct{}{}
	c.generation++
	gen := c.generation
	c.workspaceID, c.brandID = workspaceID, brandID
	c.moreInFlight = false
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.initialInFlight, key)
		c.mu.Unlock()
	}()

	ctx, cancel := c.scoped(ctx)
	defer cancel()
	result, err := c.client.List(ctx, c.kind, ListQuery{
		WorkspaceID: workspaceID,
		BrandID:     brandID,
		Page:        1,
		Limit:       c.pageSize,
	})

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.store.Clear()
		closedID := c.clearSelectionLocked()
		c.mu.Unlock()
		loadErr := &LoadError{Op: "load", Page: 1, Err: err}
		c.logger.Warn().Err(err).Str("workspace", workspaceID).Str("brand", brandID).Msg("initial load failed")
		c.notify(LevelError, "Could not load "+c.noun(), loadErr)
		c.detailClosed(closedID)
		c.changed()
		return loadErr
	}
	c.store.Replace(result.Entities, normalizePagination(result.Pagination, 1, c.pageSize))
	closedID := c.revalidateSelectionLocked()
	count := c.store.Len()
	c.mu.Unlock()

	c.logger.Debug().Str("workspace", workspaceID).Str("brand", brandID).Int("count", count).Msg("board loaded")
	c.detailClosed(closedID)
	c.changed()
	return nil
}

// LoadMore appends the next page. It does nothing when every page is loaded,
// no scope is loaded yet, or another load is running.
func (c *Controller) LoadMore(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	current := c.store.Pagination()
	if c.workspaceID == "" || c.moreInFlight || len(c.initialInFlight) > 0 || !current.HasMore() {
		c.mu.Unlock()
		return nil
	}
	c.moreInFlight = true
	gen := c.generation
	workspaceID, brandID := c.workspaceID, c.brandID
	c.mu.Unlock()

	next := current.Page + 1
	limit := current.Limit
	if limit <= 0 {
		limit = c.pageSize
	}
	ctx, cancel := c.scoped(ctx)
	defer cancel()
	result, err := c.client.List(ctx, c.kind, ListQuery{
		WorkspaceID: workspaceID,
		BrandID:     brandID,
		Page:        next,
		Limit:       limit,
	})

	c.mu.Lock()
	if gen == c.generation {
		c.moreInFlight = false
	}
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.mu.Unlock()
		loadErr := &LoadError{Op: "load more", Page: next, Err: err}
		c.logger.Warn().Err(err).Int("page", next).Msg("load more failed")
		c.notify(LevelError, "Could not load more "+c.noun(), loadErr)
		return loadErr
	}
	added := c.store.Append(result.Entities, normalizePagination(result.Pagination, next, limit))
	c.mu.Unlock()

	c.logger.Debug().Int("page", next).Int("added", added).Msg("page appended")
	c.changed()
	return nil
}

// CreateLocal puts a client-built record at the head of the board and creates
// it on the server in the background. A record whose id is already present is
// rejected. An empty id is filled with a new UUID.
func (c *Controller) CreateLocal(e board.Entity) bool {
	e = e.Clone()
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	c.mu.Lock()
	if c.closed || c.workspaceID == "" {
		c.mu.Unlock()
		return false
	}
	if !c.store.Insert(e) {
		c.mu.Unlock()
		return false
	}
	gen := c.generation
	workspaceID, brandID := c.workspaceID, c.brandID
	c.mu.Unlock()
	c.changed()

	c.async(func(ctx context.Context) {
		created, err := c.client.Create(ctx, c.kind, workspaceID, brandID, e)
		if err != nil {
			c.mutationFailed(ctx, gen, &MutationError{Op: "create", ID: e.ID, Err: err})
			return
		}
		c.applyCreated(gen, e.ID, created)
	})
	return true
}

// PatchLocal merges the present keys of patch into the record, marks it as
// locally modified and sends the update in the background.
func (c *Controller) PatchLocal(id string, patch board.Patch) bool {
	id = strings.TrimSpace(id)
	patch = patch.Without(board.FieldID)
	if id == "" || len(patch) == 0 {
		return false
	}

	c.mu.Lock()
	if c.closed || !c.store.Has(id) {
		c.mu.Unlock()
		return false
	}
	if _, err := c.store.Merge(id, patch); err != nil {
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("id", id).Msg("rejected local patch")
		return false
	}
	c.tracker.MarkLocallyModified(id)
	gen := c.generation
	workspaceID := c.workspaceID
	c.mu.Unlock()
	c.changed()

	c.async(func(ctx context.Context) {
		if err := c.client.Update(ctx, c.kind, workspaceID, id, patch); err != nil {
			c.mutationFailed(ctx, gen, &MutationError{Op: "update", ID: id, Err: err})
		}
	})
	return true
}

func (c *Controller) RemoveLocal(id string) bool {
	id = strings.TrimSpace(id)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	removed, closedID := c.removeLocked(id)
	if !removed {
		c.mu.Unlock()
		return false
	}
	gen := c.generation
	workspaceID := c.workspaceID
	c.mu.Unlock()
	c.detailClosed(closedID)
	c.changed()

	c.async(func(ctx context.Context) {
		err := c.client.Delete(ctx, c.kind, workspaceID, id)
		if err == nil || errors.Is(err, ErrNotFound) {
			return
		}
		c.mutationFailed(ctx, gen, &MutationError{Op: "delete", ID: id, Err: err})
	})
	return true
}

func (c *Controller) ApplyEvent(ev board.Event) Op {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Op{Type: OpNone}
	}
	op := Reconcile(c.kind, ev, c.store, c.tracker)
	changed := false
	closedID := ""
	switch op.Type {
	case OpInsert:
		changed = c.store.Insert(op.Entity)
	case OpMerge:
		ok, err := c.store.Merge(op.ID, op.Patch)
		if err != nil {
			op = dropped(ev, op.ID, "invalid field: "+err.Error())
		}
		changed = ok
	case OpRemove:
		changed, closedID = c.removeLocked(op.ID)
	}
	c.mu.Unlock()

	switch {
	case op.Anomaly != nil:
		c.logger.Debug().Str("event", op.Anomaly.EventType).Str("id", op.Anomaly.ID).Msg(op.Anomaly.Reason)
	case op.Suppressed:
		c.logger.Debug().Str("event", ev.Type).Str("id", op.ID).Msg("event suppressed by local modification")
	}
	c.detailClosed(closedID)
	if changed {
		c.changed()
	}
	if op.Type == OpRefetch {
		c.async(func(ctx context.Context) {
			_ = c.refetch(ctx)
		})
	}
	return op
}

func (c *Controller) Select(id string) bool {
	id = strings.TrimSpace(id)
	c.mu.Lock()
	if c.closed || !c.store.Has(id) {
		c.mu.Unlock()
		return false
	}
	c.selected = id
	c.mu.Unlock()
	c.changed()
	return true
}

func (c *Controller) Selected() (board.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == "" {
		return board.Entity{}, false
	}
	return c.store.Get(c.selected)
}

func (c *Controller) CloseDetail() {
	c.mu.Lock()
	had := c.selected != ""
	c.selected = ""
	c.mu.Unlock()
	if had {
		c.changed()
	}
}

// Refetch reloads pages 1 through the current page in one cache-bypassing
// request. Concurrent refetches of the same scope share a single request.
func (c *Controller) Refetch(ctx context.Context) error {
	ctx, cancel := c.scoped(ctx)
	defer cancel()
	return c.refetch(ctx)
}

func (c *Controller) refetch(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.workspaceID == "" {
		c.mu.Unlock()
		return nil
	}
	gen := c.generation
	workspaceID, brandID := c.workspaceID, c.brandID
	current := c.store.Pagination()
	c.mu.Unlock()

	pages := current.Page
	if pages < 1 {
		pages = 1
	}
	limit := current.Limit
	if limit <= 0 {
		limit = c.pageSize
	}
	// Runs on c.ctx; each caller waits on its own ctx.
	shared := c.refetches.DoChan(scopeKey(workspaceID, brandID), func() (any, error) {
		if !c.begin() {
			return nil, ErrClosed
		}
		defer c.end()
		result, err := c.client.List(c.ctx, c.kind, ListQuery{
			WorkspaceID: workspaceID,
			BrandID:     brandID,
			Page:        1,
			Limit:       limit * pages,
			Fresh:       true,
		})
		if err != nil {
			return nil, err
		}
		c.applyRefetch(gen, result, pages, limit)
		return nil, nil
	})
	var err error
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-shared:
		err = res.Err
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrClosed) {
		return err
	}
	if c.stale(gen) {
		return nil
	}
	loadErr := &LoadError{Op: "refetch", Page: pages, Err: err}
	c.logger.Warn().Err(err).Msg("refetch failed")
	c.notify(LevelError, "Could not refresh "+c.noun(), loadErr)
	return loadErr
}

func (c *Controller) applyRefetch(gen uint64, result PageResult, pages, limit int) {
	total := result.Pagination.Total
	if total < len(result.Entities) {
		total = len(result.Entities)
	}
	totalPages := (total + limit - 1) / limit
	page := pages
	if page > totalPages {
		page = totalPages
	}
	if page < 1 {
		page = 1
	}

	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.store.Replace(result.Entities, board.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	})
	closedID := c.revalidateSelectionLocked()
	c.mu.Unlock()

	c.detailClosed(closedID)
	c.changed()
}

func (c *Controller) applyCreated(gen uint64, localID string, created board.Entity) {
	created.ID = strings.TrimSpace(created.ID)
	if created.ID == "" {
		return
	}
	c.mu.Lock()
	if c.closed || gen != c.generation {
		c.mu.Unlock()
		return
	}
	changed := false
	if c.tracker.IsLocallyModified(localID) {
		// Keep the user's newer edits and adopt only server timestamps.
		if created.ID == localID {
			changed, _ = c.store.Merge(localID, serverTimestamps(created))
		}
	} else {
		changed = c.store.Put(localID, created)
		if changed && c.selected == localID && c.store.Has(created.ID) {
			c.selected = created.ID
		}
	}
	c.mu.Unlock()
	if changed {
		c.changed()
	}
}

func (c *Controller) mutationFailed(ctx context.Context, gen uint64, err *MutationError) {
	if c.stale(gen) {
		return
	}
	c.logger.Warn().Err(err.Err).Str("id", err.ID).Str("op", err.Op).Msg("optimistic mutation failed")
	c.notify(LevelError, fmt.Sprintf("Could not %s %s", err.Op, strings.TrimSuffix(c.noun(), "s")), err)
	if rerr := c.refetch(ctx); rerr != nil && !errors.Is(rerr, ErrClosed) {
		c.logger.Debug().Err(rerr).Msg("corrective refetch failed")
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Kind:        c.kind,
		WorkspaceID: c.workspaceID,
		BrandID:     c.brandID,
		Entities:    c.store.Entities(),
		Pagination:  c.store.Pagination(),
		Selected:    c.selected,
	}
}

// Wait blocks until no background request is running. Requests started while
// it waits are waited for too.
func (c *Controller) Wait() {
	c.mu.Lock()
	for c.inflight > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// Close cancels in-flight requests and waits for them. Their completions no
// longer touch the board.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()
		c.tracker.Stop()
		c.Wait()
	})
}

func (c *Controller) async(fn func(ctx context.Context)) {
	if !c.begin() {
		return
	}
	go func() {
		defer c.end()
		fn(c.ctx)
	}()
}

func (c *Controller) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.inflight++
	return true
}

func (c *Controller) end() {
	c.mu.Lock()
	c.inflight--
	if c.inflight == 0 {
		c.idle.Broadcast()
	}
	c.mu.Unlock()
}

// scoped derives a context that also ends when the controller closes.
func (c *Controller) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || gen != c.generation
}

func (c *Controller) removeLocked(id string) (bool, string) {
	if !c.store.Delete(id) {
		return false, ""
	}
	if c.selected == id {
		c.selected = ""
		return true, id
	}
	return true, ""
}

func (c *Controller) revalidateSelectionLocked() string {
	if c.selected == "" || c.store.Has(c.selected) {
		return ""
	}
	return c.clearSelectionLocked()
}

func (c *Controller) clearSelectionLocked() string {
	id := c.selected
	c.selected = ""
	return id
}

func (c *Controller) changed() {
	if c.onChange == nil {
		return
	}
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.onChange(snap)
}

func (c *Controller) detailClosed(id string) {
	if id == "" || c.onDetailClosed == nil {
		return
	}
	c.onDetailClosed(id)
}

func (c *Controller) notify(level Level, message string, err error) {
	c.notifier.Notify(Notification{Level: level, Message: message, Err: err})
}

func (c *Controller) noun() string {
	if c.kind == board.KindContent {
		return "content"
	}
	return c.kind.Collection()
}

func scopeKey(workspaceID, brandID string) string {
	return workspaceID + "\x00" + brandID
}

func normalizePagination(p board.Pagination, page, limit int) board.Pagination {
	if p.Page <= 0 {
		p.Page = page
	}
	if p.Limit <= 0 {
		p.Limit = limit
	}
	if p.Total < 0 {
		p.Total = 0
	}
	if p.TotalPages <= 0 && p.Limit > 0 {
		p.TotalPages = (p.Total + p.Limit - 1) / p.Limit
	}
	return p
}

func serverTimestamps(e board.Entity) board.Patch {
	patch, err := board.PatchOf(map[string]any{
		board.FieldCreatedAt: e.CreatedAt,
		board.FieldUpdatedAt: e.UpdatedAt,
	})
	if err != nil {
		return board.Patch{}
	}
	return patch
}

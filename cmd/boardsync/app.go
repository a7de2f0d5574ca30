package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentworkforce/boardsync/internal/board"
	"github.com/agentworkforce/boardsync/internal/boardsync"
	"github.com/agentworkforce/boardsync/internal/snapshot"
)

type config struct {
	BaseURL           string
	Token             string
	WorkspaceID       string
	BrandID           string
	Kind              board.Kind
	PageSize          int
	InboxDir          string
	SnapshotDSN       string
	RefreshInterval   time.Duration
	RefreshJitter     float64
	Timeout           time.Duration
	SuppressionWindow time.Duration
	Once              bool
}

// run loads the board and keeps it live until ctx ends. With cfg.Once it
// writes a single snapshot after the first load and returns.
func run(ctx context.Context, cfg config, logger zerolog.Logger) error {
	logger = logger.With().
		Str("kind", string(cfg.Kind)).
		Str("workspace", cfg.WorkspaceID).
		Str("brand", cfg.BrandID).
		Logger()

	var sink snapshot.Sink
	if cfg.SnapshotDSN != "" {
		built, err := snapshot.BuildSinkFromDSN(cfg.SnapshotDSN)
		if err != nil {
			return fmt.Errorf("open snapshot sink: %w", err)
		}
		sink = built
		defer sink.Close()
	}
	m := newMirror(sink, snapshot.Key(cfg.Kind, cfg.WorkspaceID, cfg.BrandID), cfg.Timeout, logger)

	client := boardsync.NewHTTPClient(cfg.BaseURL, cfg.Token, &http.Client{Timeout: cfg.Timeout})
	controller, err := boardsync.NewController(client, boardsync.ControllerOptions{
		Kind:              cfg.Kind,
		PageSize:          cfg.PageSize,
		SuppressionWindow: cfg.SuppressionWindow,
		Logger:            &logger,
		OnChange:          m.offer,
		OnDetailClosed: func(id string) {
			logger.Info().Str("id", id).Msg("detail closed")
		},
	})
	if err != nil {
		return err
	}
	defer controller.Close()

	loadCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	err = controller.LoadInitial(loadCtx, cfg.WorkspaceID, cfg.BrandID)
	cancel()
	if err != nil {
		return err
	}
	logger.Info().Int("records", len(controller.Snapshot().Entities)).Msg("board loaded")

	if cfg.Once {
		return m.save(ctx, controller.Snapshot())
	}

	sub, err := boardsync.NewSubscriber(boardsync.SubscriberOptions{
		BaseURL:     cfg.BaseURL,
		Token:       cfg.Token,
		WorkspaceID: cfg.WorkspaceID,
		BrandID:     cfg.BrandID,
		Logger:      &logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.run(gctx)
	})
	g.Go(func() error {
		err := sub.Run(gctx, func(ev board.Event) {
			controller.ApplyEvent(ev)
		})
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	if cfg.InboxDir != "" {
		in := newInbox(cfg.InboxDir, controller, cfg.Timeout, logger)
		g.Go(func() error {
			return in.run(gctx)
		})
	}
	if cfg.RefreshInterval > 0 {
		g.Go(func() error {
			refreshLoop(gctx, controller, cfg, logger)
			return nil
		})
	}
	m.offer(controller.Snapshot())

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func refreshLoop(ctx context.Context, controller *boardsync.Controller, cfg config, logger zerolog.Logger) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(cfg.RefreshInterval, cfg.RefreshJitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Err(ctx.Err()).Msg("refresh loop stopping")
			return
		case <-timer.C:
			refreshCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			if err := controller.Refetch(refreshCtx); err != nil {
				logger.Warn().Err(err).Msg("periodic refetch failed")
			}
			cancel()
			timer.Reset(jitteredIntervalWithSample(cfg.RefreshInterval, cfg.RefreshJitter, rng.Float64()))
		}
	}
}

// mirror writes controller snapshots to a sink off the controller's callback
// path. Only the newest pending snapshot is kept.
type mirror struct {
	sink    snapshot.Sink
	key     string
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending *boardsync.Snapshot
	wake    chan struct{}
}

func newMirror(sink snapshot.Sink, key string, timeout time.Duration, logger zerolog.Logger) *mirror {
	return &mirror{
		sink:    sink,
		key:     key,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
		wake:    make(chan struct{}, 1),
	}
}

func (m *mirror) offer(snap boardsync.Snapshot) {
	if m.sink == nil {
		return
	}
	m.mu.Lock()
	m.pending = &snap
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mirror) take() (boardsync.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return boardsync.Snapshot{}, false
	}
	snap := *m.pending
	m.pending = nil
	return snap, true
}

func (m *mirror) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if snap, ok := m.take(); ok {
				flushCtx := context.WithoutCancel(ctx)
				if err := m.save(flushCtx, snap); err != nil {
					m.logger.Warn().Err(err).Msg("final snapshot write failed")
				}
			}
			return nil
		case <-m.wake:
			snap, ok := m.take()
			if !ok {
				continue
			}
			if err := m.save(ctx, snap); err != nil {
				m.logger.Warn().Err(err).Msg("snapshot write failed")
			}
		}
	}
}

func (m *mirror) save(ctx context.Context, snap boardsync.Snapshot) error {
	if m.sink == nil {
		return nil
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	b := snapshot.NewBoard(snap.Kind, snap.WorkspaceID, snap.BrandID, snap.Entities, snap.Pagination, snap.Selected)
	b.SavedAt = m.now().UTC()
	if err := m.sink.Save(ctx, m.key, b); err != nil {
		return fmt.Errorf("save snapshot %s: %w", m.key, err)
	}
	m.logger.Debug().Int("records", len(b.Entities)).Msg("snapshot written")
	return nil
}

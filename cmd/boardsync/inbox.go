package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/boardsync/internal/boardsync"
)

const rejectedSuffix = ".rejected"

// inbox turns intent files dropped into a directory into controller calls.
// Each *.json file holds one Intent and is removed once dispatched. Writers
// should create files under a dot-prefixed name and rename them in.
type inbox struct {
	dir     string
	target  boardsync.Target
	timeout time.Duration
	logger  zerolog.Logger
}

func newInbox(dir string, target boardsync.Target, timeout time.Duration, logger zerolog.Logger) *inbox {
	return &inbox{
		dir:     dir,
		target:  target,
		timeout: timeout,
		logger:  logger.With().Str("inbox", dir).Logger(),
	}
}

func (in *inbox) run(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(in.dir); err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}

	if err := in.drain(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isIntentFile(ev.Name) {
				continue
			}
			in.process(ctx, ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.Warn().Err(err).Msg("inbox watcher error")
		}
	}
}

// drain handles files that were already waiting, oldest name first.
func (in *inbox) drain(ctx context.Context) error {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isIntentFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		in.process(ctx, filepath.Join(in.dir, name))
	}
	return nil
}

func (in *inbox) process(ctx context.Context, path string) {
	logger := in.logger.With().Str("file", filepath.Base(path)).Logger()
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Msg("read intent failed")
		}
		return
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		// Still being written; the next write event retries it.
		return
	}
	var intent boardsync.Intent
	if err := json.Unmarshal(raw, &intent); err != nil {
		logger.Warn().Err(err).Msg("malformed intent")
		if err := os.Rename(path, path+rejectedSuffix); err != nil {
			logger.Warn().Err(err).Msg("set aside malformed intent failed")
		}
		return
	}
	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Msg("remove intent failed")
		}
		return
	}

	dispatchCtx := ctx
	if in.timeout > 0 {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}
	if err := boardsync.Dispatch(dispatchCtx, in.target, intent); err != nil {
		logger.Warn().Err(err).Str("intent", string(intent.Type)).Str("id", intent.ID).Msg("intent not applied")
		return
	}
	logger.Info().Str("intent", string(intent.Type)).Str("id", intent.ID).Msg("intent applied")
}

func isIntentFile(name string) bool {
	base := filepath.Base(name)
	return !strings.HasPrefix(base, ".") && strings.HasSuffix(base, ".json")
}

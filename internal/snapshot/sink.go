// Package snapshot mirrors boards into external stores so other processes can
// read the latest state a controller holds.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/agentworkforce/boardsync/internal/board"
)

var ErrInvalidInput = errors.New("invalid input")

type Board struct {
	Kind        board.Kind       `json:"kind"`
	WorkspaceID string           `json:"workspaceId"`
	BrandID     string           `json:"brandId"`
	Entities    []board.Entity   `json:"entities"`
	Columns     []board.Bucket   `json:"columns"`
	Pagination  board.Pagination `json:"pagination"`
	Selected    string           `json:"selected,omitempty"`
	SavedAt     time.Time        `json:"savedAt"`
}

func Key(kind board.Kind, workspaceID, brandID string) string {
	return strings.TrimSpace(workspaceID) + "/" + strings.TrimSpace(brandID) + "/" + string(kind)
}

// NewBoard builds a mirror record and fills its kanban columns.
func NewBoard(kind board.Kind, workspaceID, brandID string, entities []board.Entity, p board.Pagination, selected string) Board {
	if entities == nil {
		entities = []board.Entity{}
	}
	return Board{
		Kind:        kind,
		WorkspaceID: workspaceID,
		BrandID:     brandID,
		Entities:    entities,
		Columns:     board.Buckets(kind, entities),
		Pagination:  p,
		Selected:    selected,
	}
}

type Sink interface {
	Save(ctx context.Context, key string, b Board) error
	Load(ctx context.Context, key string) (*Board, error)
	Close() error
}

type MemorySink struct {
	mu     sync.Mutex
	boards map[string][]byte
}

func NewMemorySink() *MemorySink {
	return &MemorySink{boards: map[string][]byte{}}
}

func (s *MemorySink) Save(_ context.Context, key string, b Board) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards[key] = data
	return nil
}

func (s *MemorySink) Load(_ context.Context, key string) (*Board, error) {
	s.mu.Lock()
	data, ok := s.boards[key]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var out Board
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MemorySink) Close() error {
	return nil
}

// FileSink keeps every mirrored board in one JSON document keyed by board key.
// Each save rewrites the file atomically.
type FileSink struct {
	Path string
	mu   sync.Mutex
}

func NewFileSink(path string) *FileSink {
	return &FileSink{Path: strings.TrimSpace(path)}
}

func (s *FileSink) Save(_ context.Context, key string, b Board) error {
	if strings.TrimSpace(s.Path) == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	unlock, err := lockFile(s.Path, unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()
	boards, err := s.readLocked()
	if err != nil {
		return err
	}
	boards[key] = b
	data, err := json.MarshalIndent(boards, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.Path, data, 0o644)
}

func (s *FileSink) Load(_ context.Context, key string) (*Board, error) {
	if strings.TrimSpace(s.Path) == "" {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := lockFile(s.Path, unix.LOCK_SH)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer unlock()
	boards, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	b, ok := boards[key]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *FileSink) Close() error {
	return nil
}

func (s *FileSink) readLocked() (map[string]Board, error) {
	boards := map[string]Board{}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return boards, nil
		}
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return boards, nil
	}
	if err := json.Unmarshal(data, &boards); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Path, err)
	}
	return boards, nil
}

// lockFile takes an advisory lock on a sidecar file so processes sharing one
// snapshot document do not lose each other's boards.
func lockFile(path string, how int) (func(), error) {
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

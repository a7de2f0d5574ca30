package boardsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentworkforce/boardsync/internal/board"
)

type IntentType string

const (
	IntentEntityClicked IntentType = "entity.clicked"
	IntentDetailClosed  IntentType = "detail.closed"
	IntentPatch         IntentType = "entity.patch"
	IntentCreate        IntentType = "entity.create"
	IntentDelete        IntentType = "entity.delete"
	IntentLoadMore      IntentType = "page.load_more"
	IntentRefresh       IntentType = "page.refresh"
)

var (
	ErrUnknownIntent  = errors.New("unknown intent")
	ErrIntentRejected = errors.New("intent rejected")
)

// Intent is a user action raised by a view. Views never touch the store; they
// hand intents to Dispatch.
type Intent struct {
	Type   IntentType    `json:"type"`
	ID     string        `json:"id,omitempty"`
	Fields board.Patch   `json:"fields,omitempty"`
	Entity *board.Entity `json:"entity,omitempty"`
}

type Target interface {
	Select(id string) bool
	CloseDetail()
	PatchLocal(id string, patch board.Patch) bool
	CreateLocal(e board.Entity) bool
	RemoveLocal(id string) bool
	LoadMore(ctx context.Context) error
	Refetch(ctx context.Context) error
}

func Dispatch(ctx context.Context, target Target, in Intent) error {
	id := strings.TrimSpace(in.ID)
	switch in.Type {
	case IntentEntityClicked:
		return accepted(target.Select(id), in)
	case IntentDetailClosed:
		target.CloseDetail()
		return nil
	case IntentPatch:
		return accepted(target.PatchLocal(id, in.Fields), in)
	case IntentCreate:
		if in.Entity == nil {
			return fmt.Errorf("%w: %s needs an entity", ErrIntentRejected, in.Type)
		}
		return accepted(target.CreateLocal(*in.Entity), in)
	case IntentDelete:
		return accepted(target.RemoveLocal(id), in)
	case IntentLoadMore:
		return target.LoadMore(ctx)
	case IntentRefresh:
		return target.Refetch(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownIntent, in.Type)
	}
}

func accepted(ok bool, in Intent) error {
	if ok {
		return nil
	}
	if in.ID == "" {
		return fmt.Errorf("%w: %s", ErrIntentRejected, in.Type)
	}
	return fmt.Errorf("%w: %s %s", ErrIntentRejected, in.Type, in.ID)
}

package boardsync

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentworkforce/boardsync/internal/board"
)

type OpType int

const (
	OpNone OpType = iota
	OpInsert
	OpMerge
	OpRemove
	OpRefetch
)

func (t OpType) String() string {
	switch t {
	case OpInsert:
		return "insert"
	case OpMerge:
		return "merge"
	case OpRemove:
		return "remove"
	case OpRefetch:
		return "refetch"
	default:
		return "none"
	}
}

// Op is the store change an event calls for. Suppressed is set when the event
// targeted a record inside its local modification window.
type Op struct {
	Type       OpType
	ID         string
	Entity     board.Entity
	Patch      board.Patch
	Suppressed bool
	Anomaly    *Anomaly
}

type View interface {
	Has(id string) bool
}

type Suppressor interface {
	IsLocallyModified(id string) bool
}

// Reconcile decides what an incoming event does to the local board. It reads
// view and suppressor but never mutates anything, and it never panics.
func Reconcile(kind board.Kind, ev board.Event, view View, suppressor Suppressor) (op Op) {
	defer func() {
		if r := recover(); r != nil {
			op = dropped(ev, "", fmt.Sprintf("panic: %v", r))
		}
	}()

	action := kind.Classify(ev.Type)
	switch action {
	case board.ActionStatusChanged:
		return Op{Type: OpRefetch}
	case board.ActionUnknown:
		return dropped(ev, "", "unrecognised event type")
	}

	var patch board.Patch
	if err := json.Unmarshal(ev.Data, &patch); err != nil || patch == nil {
		return dropped(ev, "", "payload is not an object")
	}
	id := patch.ID()
	if id == "" {
		return dropped(ev, "", "payload has no id")
	}

	switch action {
	case board.ActionCreated:
		if view.Has(id) {
			return Op{Type: OpNone, ID: id}
		}
		var entity board.Entity
		if err := json.Unmarshal(ev.Data, &entity); err != nil {
			return dropped(ev, id, "payload is not a "+string(kind))
		}
		entity.ID = id
		return Op{Type: OpInsert, ID: id, Entity: entity}

	case board.ActionUpdated:
		if suppressor != nil && suppressor.IsLocallyModified(id) {
			return Op{Type: OpNone, ID: id, Suppressed: true}
		}
		if !view.Has(id) {
			return dropped(ev, id, "update for unknown record")
		}
		fields := patch.Without(board.FieldID)
		if fields.ChecklistOnly() {
			fields = fields.Without(board.FieldPriority)
		}
		return Op{Type: OpMerge, ID: id, Patch: fields}

	case board.ActionDeleted:
		if !view.Has(id) {
			return dropped(ev, id, "delete for unknown record")
		}
		return Op{Type: OpRemove, ID: id}
	}
	return dropped(ev, id, "unhandled action "+action.String())
}

func dropped(ev board.Event, id, reason string) Op {
	return Op{
		Type: OpNone,
		ID:   id,
		Anomaly: &Anomaly{
			Reason:    reason,
			EventType: strings.TrimSpace(ev.Type),
			ID:        id,
		},
	}
}

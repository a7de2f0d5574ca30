package board

import (
	"encoding/json"
	"strings"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Action int

const (
	ActionUnknown Action = iota
	ActionCreated
	ActionUpdated
	ActionDeleted
	ActionStatusChanged
)

func (a Action) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionUpdated:
		return "updated"
	case ActionDeleted:
		return "deleted"
	case ActionStatusChanged:
		return "status_changed"
	default:
		return "unknown"
	}
}

// Classify maps an event type to the action it carries for this kind. Events
// addressed to the other kind are ActionUnknown.
func (k Kind) Classify(eventType string) Action {
	t := strings.ToLower(strings.TrimSpace(eventType))
	switch t {
	case "status.changed", string(k) + ".status.changed":
		return ActionStatusChanged
	case "publication.status.changed":
		if k == KindContent {
			return ActionStatusChanged
		}
		return ActionUnknown
	}
	prefix, action, ok := strings.Cut(t, ".")
	if !ok || (prefix != string(k) && prefix != "entity") {
		return ActionUnknown
	}
	switch action {
	case "created":
		return ActionCreated
	case "updated":
		return ActionUpdated
	case "deleted":
		return ActionDeleted
	default:
		return ActionUnknown
	}
}

func (k Kind) EventType(a Action) string {
	switch a {
	case ActionCreated, ActionUpdated, ActionDeleted:
		return string(k) + "." + a.String()
	case ActionStatusChanged:
		return string(k) + ".status.changed"
	default:
		return ""
	}
}

package board

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Field names understood by Merge. They match the JSON names of Entity.
const (
	FieldID             = "id"
	FieldTitle          = "title"
	FieldDescription    = "description"
	FieldStatus         = "status"
	FieldPriority       = "priority"
	FieldDueDate        = "dueDate"
	FieldScheduledAt    = "scheduledAt"
	FieldAssignedTo     = "assignedTo"
	FieldChecklistItems = "checklistItems"
	FieldCreatedAt      = "createdAt"
	FieldUpdatedAt      = "updatedAt"
)

// substantiveFields are the fields whose presence makes an update more than a
// checklist broadcast.
var substantiveFields = []string{
	FieldTitle,
	FieldDescription,
	FieldStatus,
	FieldDueDate,
	FieldScheduledAt,
	FieldAssignedTo,
}

// Patch is a partial entity keyed by JSON field name. Presence of a key is the
// only signal: a key holding null or "" is applied, a missing key is not.
type Patch map[string]json.RawMessage

func PatchOf(fields map[string]any) (Patch, error) {
	p := make(Patch, len(fields))
	for key, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode patch field %s: %w", key, err)
		}
		p[key] = raw
	}
	return p, nil
}

func (p Patch) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func (p Patch) ID() string {
	raw, ok := p[FieldID]
	if !ok {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return ""
	}
	return strings.TrimSpace(id)
}

func (p Patch) Without(keys ...string) Patch {
	out := make(Patch, len(p))
	for key, value := range p {
		out[key] = value
	}
	for _, key := range keys {
		delete(out, key)
	}
	return out
}

func (p Patch) Keys() []string {
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ChecklistOnly reports whether the patch carries checklist items and none of
// the substantive fields. Such broadcasts are known to carry stale priority.
func (p Patch) ChecklistOnly() bool {
	if !p.Has(FieldChecklistItems) {
		return false
	}
	for _, key := range substantiveFields {
		if p.Has(key) {
			return false
		}
	}
	return true
}

// Merge applies every present key of p to a copy of e. Unknown keys and "id"
// are ignored. Either every known key applies or e is returned unchanged along
// with the first decode error.
func Merge(e Entity, p Patch) (Entity, error) {
	out := e.Clone()
	for _, key := range p.Keys() {
		raw := p[key]
		var err error
		switch key {
		case FieldTitle:
			out.Title, err = decodeNullableString(raw)
		case FieldDescription:
			out.Description, err = decodeNullableString(raw)
		case FieldStatus:
			var status Status
			if !isNull(raw) {
				err = json.Unmarshal(raw, &status)
			}
			out.Status = status
		case FieldPriority:
			var priority *string
			priority, err = decodeNullableString(raw)
			out.Priority = ""
			if priority != nil {
				out.Priority = Priority(*priority)
			}
		case FieldDueDate:
			out.DueDate, err = decodeNullableTime(raw)
		case FieldScheduledAt:
			out.ScheduledAt, err = decodeNullableTime(raw)
		case FieldAssignedTo:
			var users []UserRef
			if !isNull(raw) {
				err = json.Unmarshal(raw, &users)
			}
			out.AssignedTo = users
		case FieldChecklistItems:
			var items []ChecklistItem
			if !isNull(raw) {
				err = json.Unmarshal(raw, &items)
			}
			out.ChecklistItems = items
		case FieldCreatedAt:
			var ts *time.Time
			ts, err = decodeNullableTime(raw)
			out.CreatedAt = time.Time{}
			if ts != nil {
				out.CreatedAt = *ts
			}
		case FieldUpdatedAt:
			var ts *time.Time
			ts, err = decodeNullableTime(raw)
			out.UpdatedAt = time.Time{}
			if ts != nil {
				out.UpdatedAt = *ts
			}
		default:
			continue
		}
		if err != nil {
			return e, fmt.Errorf("merge field %s: %w", key, err)
		}
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func decodeNullableString(raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// decodeNullableTime treats null and "" as a cleared timestamp.
func decodeNullableTime(raw json.RawMessage) (*time.Time, error) {
	s, err := decodeNullableString(raw)
	if err != nil || s == nil || strings.TrimSpace(*s) == "" {
		return nil, err
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(*s))
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

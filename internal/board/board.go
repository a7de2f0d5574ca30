// Package board holds the task and content records shared by the page
// controllers, together with the field-presence patch type used to merge
// partial updates into them.
package board

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownKind = errors.New("unknown entity kind")
	ErrInvalidID   = errors.New("invalid entity id")
)

// Kind selects the entity family a controller manages. Tasks and content are
// structurally the same record; they differ in status groups, event names and
// REST collection.
type Kind string

const (
	KindTask    Kind = "task"
	KindContent Kind = "content"
)

type Group string

const (
	GroupTodo       Group = "TODO"
	GroupInProgress Group = "IN_PROGRESS"
	GroupDone       Group = "DONE"

	GroupDraft      Group = "DRAFT"
	GroupScheduled  Group = "SCHEDULED"
	GroupPublishing Group = "PUBLISHING"
	GroupPublished  Group = "PUBLISHED"
	GroupFailed     Group = "FAILED"
	GroupArchived   Group = "ARCHIVED"
)

var (
	taskGroups    = []Group{GroupTodo, GroupInProgress, GroupDone}
	contentGroups = []Group{GroupDraft, GroupScheduled, GroupPublishing, GroupPublished, GroupFailed, GroupArchived}
)

type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "task", "tasks":
		return KindTask, nil
	case "content", "contents", "publication", "publications":
		return KindContent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
}

func (k Kind) Valid() bool {
	return k == KindTask || k == KindContent
}

// Collection is the plural resource name used by the REST API and as the
// list field of page responses.
func (k Kind) Collection() string {
	if k == KindContent {
		return "contents"
	}
	return "tasks"
}

func (k Kind) Groups() []Group {
	if k == KindContent {
		return append([]Group(nil), contentGroups...)
	}
	return append([]Group(nil), taskGroups...)
}

func (k Kind) DefaultGroup() Group {
	if k == KindContent {
		return GroupDraft
	}
	return GroupTodo
}

func (k Kind) HasGroup(g Group) bool {
	groups := taskGroups
	if k == KindContent {
		groups = contentGroups
	}
	for _, candidate := range groups {
		if candidate == g {
			return true
		}
	}
	return false
}

// BucketFor returns the group an entity is placed in. Unknown groups land in
// the default bucket instead of creating a new column.
func (k Kind) BucketFor(e Entity) Group {
	g := Group(strings.ToUpper(strings.TrimSpace(string(e.Status.Group))))
	if k.HasGroup(g) {
		return g
	}
	return k.DefaultGroup()
}

type Status struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
	Group Group  `json:"group"`
}

type UserRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type ChecklistItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	SortOrder int    `json:"sortOrder"`
}

type Entity struct {
	ID             string          `json:"id"`
	Title          *string         `json:"title"`
	Description    *string         `json:"description"`
	Status         Status          `json:"status"`
	Priority       Priority        `json:"priority,omitempty"`
	DueDate        *time.Time      `json:"dueDate,omitempty"`
	ScheduledAt    *time.Time      `json:"scheduledAt,omitempty"`
	AssignedTo     []UserRef       `json:"assignedTo"`
	ChecklistItems []ChecklistItem `json:"checklistItems,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (e Entity) Clone() Entity {
	out := e
	if e.Title != nil {
		title := *e.Title
		out.Title = &title
	}
	if e.Description != nil {
		description := *e.Description
		out.Description = &description
	}
	if e.DueDate != nil {
		due := *e.DueDate
		out.DueDate = &due
	}
	if e.ScheduledAt != nil {
		scheduled := *e.ScheduledAt
		out.ScheduledAt = &scheduled
	}
	if e.AssignedTo != nil {
		out.AssignedTo = append([]UserRef(nil), e.AssignedTo...)
	}
	if e.ChecklistItems != nil {
		out.ChecklistItems = append([]ChecklistItem(nil), e.ChecklistItems...)
	}
	return out
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func (p Pagination) HasMore() bool {
	return p.Page < p.TotalPages
}

func (p Pagination) AdjustTotal(delta int) Pagination {
	p.Total += delta
	if p.Total < 0 {
		p.Total = 0
	}
	return p
}

func StringPtr(s string) *string {
	return &s
}

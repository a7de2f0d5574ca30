package boardsync

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrClosed       = errors.New("controller closed")
	ErrMissingScope = errors.New("workspace and brand are required")
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// LoadError reports a failed page fetch. Op is "load", "load more" or
// "refetch".
type LoadError struct {
	Op   string
	Page int
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s page %d: %v", e.Op, e.Page, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// MutationError reports a failed optimistic create, update or delete. The
// controller answers it with a corrective refetch.
type MutationError struct {
	Op  string
	ID  string
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// Anomaly describes an event the reconciler dropped. Anomalies are logged and
// never surfaced to the user.
type Anomaly struct {
	Reason    string
	EventType string
	ID        string
}

func (a Anomaly) Error() string {
	if a.ID == "" {
		return fmt.Sprintf("dropped %s event: %s", a.EventType, a.Reason)
	}
	return fmt.Sprintf("dropped %s event for %s: %s", a.EventType, a.ID, a.Reason)
}

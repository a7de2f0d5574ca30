// Package boardtest provides an in-process board backend for tests: the REST
// routes and the events WebSocket the sync client talks to.
package boardtest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/boardsync/internal/board"
)

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
}

// Server is a fake backend. Every successful mutation is echoed to the
// workspace's event subscribers the way the real backend broadcasts them.
type Server struct {
	mu           sync.Mutex
	boards       map[string]*boardState
	failures     map[string][]int
	requests     []Request
	token        string
	maxBodyBytes int64
	now          func() time.Time
	hub          *hub
}

type boardState struct {
	kind        board.Kind
	workspaceID string
	brandID     string
	entities    []board.Entity
}

func NewServer() *Server {
	return &Server{
		boards:       map[string]*boardState{},
		failures:     map[string][]int{},
		maxBodyBytes: 1 << 20,
		now:          func() time.Time { return time.Now().UTC() },
		hub:          newHub(),
	}
}

// Start serves s on a loopback listener closed at the end of the test.
func (s *Server) Start(t testing.TB) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		s.hub.closeAll()
		ts.Close()
	})
	return ts
}

func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = strings.TrimSpace(token)
}

func (s *Server) Seed(kind board.Kind, workspaceID, brandID string, entities ...board.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.boardLocked(kind, workspaceID, brandID)
	for _, e := range entities {
		state.entities = append(state.entities, e.Clone())
	}
}

func (s *Server) Entities(kind board.Kind, workspaceID, brandID string) []board.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.boardLocked(kind, workspaceID, brandID)
	out := make([]board.Entity, len(state.entities))
	for i, e := range state.entities {
		out[i] = e.Clone()
	}
	return out
}

// FailNext makes the next request with method answer status instead.
func (s *Server) FailNext(method string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	method = strings.ToUpper(method)
	s.failures[method] = append(s.failures[method], status)
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) Publish(workspaceID, brandID string, ev board.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.hub.broadcast(workspaceID, brandID, data)
}

func (s *Server) Subscribers(workspaceID string) int {
	return s.hub.count(workspaceID)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	correlationID := getCorrelationID(r)

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "v1" || parts[1] != "workspaces" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	workspaceID := parts[2]

	var route string
	var kind board.Kind
	switch {
	case len(parts) == 4 && parts[3] == "events" && r.Method == http.MethodGet:
		route = "events"
	case len(parts) == 6 && parts[3] == "brands" && r.Method == http.MethodGet:
		route = "list"
		kind = kindForCollection(parts[5])
	case len(parts) == 6 && parts[3] == "brands" && r.Method == http.MethodPost:
		route = "create"
		kind = kindForCollection(parts[5])
	case len(parts) == 5 && r.Method == http.MethodPatch:
		route = "update"
		kind = kindForCollection(parts[3])
	case len(parts) == 5 && r.Method == http.MethodDelete:
		route = "delete"
		kind = kindForCollection(parts[3])
	}
	if route == "" || (route != "events" && kind == "") {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
	})
	token := s.token
	status := s.popFailureLocked(r.Method)
	s.mu.Unlock()

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token", correlationID)
		return
	}
	if status != 0 {
		writeError(w, status, "injected_failure", http.StatusText(status), correlationID)
		return
	}

	switch route {
	case "events":
		s.handleEvents(w, r, workspaceID)
	case "list":
		s.handleList(w, r, kind, workspaceID, parts[4])
	case "create":
		s.handleCreate(w, r, kind, workspaceID, parts[4], correlationID)
	case "update":
		s.handleUpdate(w, r, kind, workspaceID, parts[4], correlationID)
	case "delete":
		s.handleDelete(w, kind, workspaceID, parts[4], correlationID)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, kind board.Kind, workspaceID, brandID string) {
	page := parseBoundedInt(r.URL.Query().Get("page"), 1, 1, 1_000_000)
	limit := parseBoundedInt(r.URL.Query().Get("limit"), 20, 1, 1000)

	s.mu.Lock()
	state := s.boardLocked(kind, workspaceID, brandID)
	total := len(state.entities)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	items := make([]board.Entity, 0, end-start)
	for _, e := range state.entities[start:end] {
		items = append(items, e.Clone())
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		kind.Collection(): items,
		"pagination": board.Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, kind board.Kind, workspaceID, brandID, correlationID string) {
	var e board.Entity
	if !s.decodeJSONBody(w, r, correlationID, &e) {
		return
	}
	e.ID = strings.TrimSpace(e.ID)
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := s.now()
	e.CreatedAt, e.UpdatedAt = now, now

	s.mu.Lock()
	state := s.boardLocked(kind, workspaceID, brandID)
	if indexOf(state.entities, e.ID) >= 0 {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "conflict", "entity already exists", correlationID)
		return
	}
	state.entities = append([]board.Entity{e.Clone()}, state.entities...)
	s.mu.Unlock()

	s.publishEntity(kind, workspaceID, brandID, board.ActionCreated, e)
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, kind board.Kind, workspaceID, id, correlationID string) {
	var patch board.Patch
	if !s.decodeJSONBody(w, r, correlationID, &patch) {
		return
	}
	s.mu.Lock()
	state, i := s.findLocked(kind, workspaceID, id)
	if state == nil {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "not_found", "entity not found", correlationID)
		return
	}
	merged, err := board.Merge(state.entities[i], patch)
	if err != nil {
		s.mu.Unlock()
		writeError(w, http.StatusUnprocessableEntity, "invalid_patch", err.Error(), correlationID)
		return
	}
	merged.UpdatedAt = s.now()
	state.entities[i] = merged
	brandID := state.brandID
	s.mu.Unlock()

	echo := patch.Without(board.FieldID)
	echo[board.FieldID], _ = json.Marshal(id)
	s.publish(workspaceID, brandID, kind.EventType(board.ActionUpdated), echo)
	writeJSON(w, http.StatusOK, merged)
}

func (s *Server) handleDelete(w http.ResponseWriter, kind board.Kind, workspaceID, id, correlationID string) {
	s.mu.Lock()
	state, i := s.findLocked(kind, workspaceID, id)
	if state == nil {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "not_found", "entity not found", correlationID)
		return
	}
	state.entities = append(state.entities[:i], state.entities[i+1:]...)
	brandID := state.brandID
	s.mu.Unlock()

	s.publish(workspaceID, brandID, kind.EventType(board.ActionDeleted), map[string]string{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, workspaceID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	sub := s.hub.register(workspaceID, strings.TrimSpace(r.URL.Query().Get("brandId")))
	defer s.hub.unregister(sub)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-sub.done:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case msg := <-sub.send:
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) publishEntity(kind board.Kind, workspaceID, brandID string, action board.Action, e board.Entity) {
	s.publish(workspaceID, brandID, kind.EventType(action), e)
}

func (s *Server) publish(workspaceID, brandID, eventType string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	s.Publish(workspaceID, brandID, board.Event{Type: eventType, Data: raw})
}

func (s *Server) boardLocked(kind board.Kind, workspaceID, brandID string) *boardState {
	key := string(kind) + "|" + workspaceID + "|" + brandID
	state, ok := s.boards[key]
	if !ok {
		state = &boardState{kind: kind, workspaceID: workspaceID, brandID: brandID}
		s.boards[key] = state
	}
	return state
}

func (s *Server) findLocked(kind board.Kind, workspaceID, id string) (*boardState, int) {
	for _, state := range s.boards {
		if state.kind != kind || state.workspaceID != workspaceID {
			continue
		}
		if i := indexOf(state.entities, id); i >= 0 {
			return state, i
		}
	}
	return nil, -1
}

func (s *Server) popFailureLocked(method string) int {
	queue := s.failures[method]
	if len(queue) == 0 {
		return 0
	}
	s.failures[method] = queue[1:]
	return queue[0]
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return false
	}
	return true
}

func kindForCollection(collection string) board.Kind {
	switch collection {
	case board.KindTask.Collection():
		return board.KindTask
	case board.KindContent.Collection():
		return board.KindContent
	default:
		return ""
	}
}

func indexOf(entities []board.Entity, id string) int {
	for i := range entities {
		if entities[i].ID == id {
			return i
		}
	}
	return -1
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}

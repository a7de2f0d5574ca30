package boardtest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/boardsync/internal/board"
)

func seed(s *Server) {
	for i, title := range []string{"one", "two", "three"} {
		s.Seed(board.KindTask, "ws_1", "br_1", board.Entity{
			ID:    string(rune('a' + i)),
			Title: board.StringPtr(title),
		})
	}
}

func TestListPaginates(t *testing.T) {
	s := NewServer()
	seed(s)
	ts := s.Start(t)

	resp, err := http.Get(ts.URL + "/v1/workspaces/ws_1/brands/br_1/tasks?page=2&limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Tasks      []board.Entity   `json:"tasks"`
		Pagination board.Pagination `json:"pagination"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	require.Len(t, payload.Tasks, 1)
	assert.Equal(t, "c", payload.Tasks[0].ID)
	assert.Equal(t, board.Pagination{Page: 2, Limit: 2, Total: 3, TotalPages: 2}, payload.Pagination)
}

func TestRequireTokenAndInjectedFailures(t *testing.T) {
	s := NewServer()
	s.RequireToken("secret")
	ts := s.Start(t)

	resp, err := http.Get(ts.URL + "/v1/workspaces/ws_1/brands/br_1/tasks")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	s.FailNext(http.MethodGet, http.StatusServiceUnavailable)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/workspaces/ws_1/brands/br_1/tasks", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, s.Requests(), 3)
}

func TestMutationsAreBroadcast(t *testing.T) {
	s := NewServer()
	seed(s)
	ts := s.Start(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/workspaces/ws_1/events?brandId=br_1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return s.Subscribers("ws_1") == 1 }, time.Second, 5*time.Millisecond)

	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/v1/workspaces/ws_1/tasks/a", bytes.NewBufferString(`{"title":"renamed"}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, frame, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev board.Event
	require.NoError(t, json.Unmarshal(frame, &ev))
	assert.Equal(t, "task.updated", ev.Type)
	assert.JSONEq(t, `{"id":"a","title":"renamed"}`, string(ev.Data))
	assert.Equal(t, "renamed", *s.Entities(board.KindTask, "ws_1", "br_1")[0].Title)

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/v1/workspaces/ws_1/tasks/b", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, frame, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(frame, &ev))
	assert.Equal(t, "task.deleted", ev.Type)
	assert.Len(t, s.Entities(board.KindTask, "ws_1", "br_1"), 2)
}

func TestUnknownRoutes(t *testing.T) {
	ts := NewServer().Start(t)
	for _, path := range []string{"/v1/other", "/v1/workspaces/ws_1/brands/br_1/campaigns"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

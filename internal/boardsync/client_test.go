package boardsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/boardsync/internal/board"
)

func TestHTTPClientListDecodesCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/workspaces/ws_1/brands/br_1/contents", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Correlation-Id"))
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		_, _ = io.WriteString(w, `{"contents":[{"id":"c1","title":"Post","status":{"id":"s","label":"Draft","group":"DRAFT"}}],"pagination":{"page":2,"limit":10,"total":11,"totalPages":2}}`)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", "tok", nil)
	result, err := client.List(context.Background(), board.KindContent, ListQuery{
		WorkspaceID: "ws_1",
		BrandID:     "br_1",
		Page:        2,
		Limit:       10,
		Fresh:       true,
	})
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "c1", result.Entities[0].ID)
	assert.Equal(t, board.Pagination{Page: 2, Limit: 10, Total: 11, TotalPages: 2}, result.Pagination)
}

func TestHTTPClientPatchSendsOnlyPresentKeys(t *testing.T) {
	var body map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v1/workspaces/ws_1/tasks/t1", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", nil)
	err := client.Update(context.Background(), board.KindTask, "ws_1", "t1", board.Patch{
		board.FieldDueDate: json.RawMessage(`null`),
	})
	require.NoError(t, err)
	require.Len(t, body, 1)
	assert.JSONEq(t, `null`, string(body[board.FieldDueDate]))
}

func TestHTTPClientRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"id":"t5","title":"Created"}`)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", nil)
	client.baseDelay = time.Millisecond
	created, err := client.Create(context.Background(), board.KindTask, "ws_1", "br_1", board.Entity{Title: board.StringPtr("Created")})
	require.NoError(t, err)
	assert.Equal(t, "t5", created.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPClientTypedErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"code":"not_found","message":"task missing"}`)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", nil)
	err := client.Delete(context.Background(), board.KindTask, "ws_1", "t1")
	require.ErrorIs(t, err, ErrNotFound)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "not_found", httpErr.Code)

	assert.ErrorIs(t, client.Delete(context.Background(), board.KindTask, "ws_1", " "), board.ErrInvalidID)
}

func TestRetryDelayBounds(t *testing.T) {
	client := NewHTTPClient("", "", nil)
	assert.Equal(t, 100*time.Millisecond, client.retryDelay(1, ""))
	assert.Equal(t, 400*time.Millisecond, client.retryDelay(3, ""))
	assert.Equal(t, 2*time.Second, client.retryDelay(10, ""))
	assert.Equal(t, time.Second, client.retryDelay(1, "1"))
	assert.Equal(t, 2*time.Second, client.retryDelay(1, "120"))
}

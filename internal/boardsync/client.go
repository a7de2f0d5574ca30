package boardsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/boardsync/internal/board"
)

// ListQuery selects one page of a brand board. Fresh asks intermediaries to
// bypass their caches.
type ListQuery struct {
	WorkspaceID string
	BrandID     string
	Page        int
	Limit       int
	Fresh       bool
}

type PageResult struct {
	Entities   []board.Entity
	Pagination board.Pagination
}

type RemoteClient interface {
	List(ctx context.Context, kind board.Kind, q ListQuery) (PageResult, error)
	Create(ctx context.Context, kind board.Kind, workspaceID, brandID string, e board.Entity) (board.Entity, error)
	Update(ctx context.Context, kind board.Kind, workspaceID, id string, patch board.Patch) error
	Delete(ctx context.Context, kind board.Kind, workspaceID, id string) error
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

func (c *HTTPClient) Token() string {
	return c.token
}

func (c *HTTPClient) List(ctx context.Context, kind board.Kind, q ListQuery) (PageResult, error) {
	if !kind.Valid() {
		return PageResult{}, board.ErrUnknownKind
	}
	values := url.Values{}
	if q.Page > 0 {
		values.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	path := brandCollectionPath(kind, q.WorkspaceID, q.BrandID)
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var headers map[string]string
	if q.Fresh {
		headers = map[string]string{"Cache-Control": "no-cache", "Pragma": "no-cache"}
	}

	var payload map[string]json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, path, headers, nil, &payload); err != nil {
		return PageResult{}, err
	}
	var result PageResult
	list, ok := payload[kind.Collection()]
	if !ok {
		list = payload["items"]
	}
	if len(list) > 0 {
		if err := json.Unmarshal(list, &result.Entities); err != nil {
			return PageResult{}, fmt.Errorf("decode %s: %w", kind.Collection(), err)
		}
	}
	if raw, ok := payload["pagination"]; ok {
		if err := json.Unmarshal(raw, &result.Pagination); err != nil {
			return PageResult{}, fmt.Errorf("decode pagination: %w", err)
		}
	}
	return result, nil
}

func (c *HTTPClient) Create(ctx context.Context, kind board.Kind, workspaceID, brandID string, e board.Entity) (board.Entity, error) {
	if !kind.Valid() {
		return board.Entity{}, board.ErrUnknownKind
	}
	var created board.Entity
	if err := c.doJSON(ctx, http.MethodPost, brandCollectionPath(kind, workspaceID, brandID), nil, e, &created); err != nil {
		return board.Entity{}, err
	}
	return created, nil
}

func (c *HTTPClient) Update(ctx context.Context, kind board.Kind, workspaceID, id string, patch board.Patch) error {
	if !kind.Valid() {
		return board.ErrUnknownKind
	}
	if strings.TrimSpace(id) == "" {
		return board.ErrInvalidID
	}
	return c.doJSON(ctx, http.MethodPatch, entityPath(kind, workspaceID, id), nil, patch, nil)
}

func (c *HTTPClient) Delete(ctx context.Context, kind board.Kind, workspaceID, id string) error {
	if !kind.Valid() {
		return board.ErrUnknownKind
	}
	if strings.TrimSpace(id) == "" {
		return board.ErrInvalidID
	}
	return c.doJSON(ctx, http.MethodDelete, entityPath(kind, workspaceID, id), nil, nil, nil)
}

func brandCollectionPath(kind board.Kind, workspaceID, brandID string) string {
	return fmt.Sprintf("/v1/workspaces/%s/brands/%s/%s",
		url.PathEscape(workspaceID), url.PathEscape(brandID), kind.Collection())
}

func entityPath(kind board.Kind, workspaceID, id string) string {
	return fmt.Sprintf("/v1/workspaces/%s/%s/%s",
		url.PathEscape(workspaceID), kind.Collection(), url.PathEscape(strings.TrimSpace(id)))
}

func (c *HTTPClient) doJSON(
	ctx context.Context,
	method, requestPath string,
	headers map[string]string,
	body any,
	out any,
) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", uuid.NewString())
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(bytes.TrimSpace(payloadBytes)) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	return backoffDelay(c.baseDelay, maxDelay, attempt)
}

// backoffDelay doubles base for every attempt after the first, capped at
// maxDelay.
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package boardsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/boardsync/internal/board"
)

const eventSchemaURL = "event.schema.json"

// eventSchema describes one frame of the events stream. Record events must
// name the record they touch.
const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "data"],
  "properties": {
    "type": {"type": "string", "minLength": 1},
    "data": {"type": "object"}
  },
  "if": {
    "properties": {"type": {"pattern": "\\.(created|updated|deleted)$"}}
  },
  "then": {
    "properties": {
      "data": {
        "required": ["id"],
        "properties": {"id": {"type": "string", "minLength": 1}}
      }
    }
  }
}`

const maxFrameBytes = 1 << 20

type SubscriberOptions struct {
	BaseURL     string
	Token       string
	WorkspaceID string
	BrandID     string
	HTTPClient  *http.Client
	Logger      *zerolog.Logger
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// Subscriber streams board events over a WebSocket and reconnects with
// backoff until its context ends.
type Subscriber struct {
	url        string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
	schema     *jsonschema.Schema
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	workspaceID := strings.TrimSpace(opts.WorkspaceID)
	brandID := strings.TrimSpace(opts.BrandID)
	if workspaceID == "" || brandID == "" {
		return nil, ErrMissingScope
	}
	streamURL, err := eventsURL(opts.BaseURL, workspaceID, brandID)
	if err != nil {
		return nil, err
	}
	schema, err := compileEventSchema()
	if err != nil {
		return nil, err
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	minBackoff := opts.MinBackoff
	if minBackoff <= 0 {
		minBackoff = 250 * time.Millisecond
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff < minBackoff {
		maxBackoff = 30 * time.Second
	}
	return &Subscriber{
		url:        streamURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: opts.HTTPClient,
		logger:     logger.With().Str("workspace", workspaceID).Str("brand", brandID).Logger(),
		schema:     schema,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}, nil
}

func (s *Subscriber) URL() string {
	return s.url
}

// Run delivers events to handle in arrival order. It returns when ctx ends.
func (s *Subscriber) Run(ctx context.Context, handle func(board.Event)) error {
	attempt := 0
	for {
		connected, err := s.stream(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		attempt++
		delay := backoffDelay(s.minBackoff, s.maxBackoff, attempt)
		s.logger.Warn().Err(err).Dur("retry_in", delay).Msg("event stream interrupted")
		if waitErr := waitWithContext(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
}

func (s *Subscriber) stream(ctx context.Context, handle func(board.Event)) (bool, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
		HTTPClient: s.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		return false, fmt.Errorf("dial events: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxFrameBytes)
	s.logger.Debug().Msg("event stream connected")

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, err := s.Decode(data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("dropped invalid event frame")
			continue
		}
		handle(ev)
	}
}

// Decode validates one frame against the event schema and decodes it.
func (s *Subscriber) Decode(frame []byte) (board.Event, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(frame))
	if err != nil {
		return board.Event{}, fmt.Errorf("decode event frame: %w", err)
	}
	if err := s.schema.Validate(inst); err != nil {
		return board.Event{}, fmt.Errorf("invalid event frame: %w", err)
	}
	var ev board.Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return board.Event{}, fmt.Errorf("decode event frame: %w", err)
	}
	return ev, nil
}

func compileEventSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(eventSchema))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(eventSchemaURL, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(eventSchemaURL)
}

func eventsURL(baseURL, workspaceID, brandID string) (string, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", errors.New("base url must be http, https, ws or wss")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/workspaces/" + workspaceID + "/events"
	u.RawQuery = url.Values{"brandId": {brandID}}.Encode()
	return u.String(), nil
}

// Package chatapi talks to the request/response side of the chat service:
// the room directory and the per-room message history.
package chatapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/roomsync/internal/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	log        zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported base url scheme %q", u.Scheme)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "chatapi").Logger()

	return c, nil
}

// ListRooms returns every room known to the directory.
func (c *Client) ListRooms(ctx context.Context) ([]types.Room, error) {
	var rooms []types.Room
	if err := c.do(ctx, "list rooms", http.MethodGet, "/chat", &rooms); err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []types.Room{}
	}

	return rooms, nil
}

// CreateRoom asks the directory for a new room and returns its id.
func (c *Client) CreateRoom(ctx context.Context) (int, error) {
	var id int
	if err := c.do(ctx, "create room", http.MethodPost, "/chat", &id); err != nil {
		return 0, err
	}

	return id, nil
}

func (c *Client) DeleteRoom(ctx context.Context, id int) error {
	return c.do(ctx, "delete room", http.MethodDelete, "/chat/"+strconv.Itoa(id), nil)
}

// GetRoom returns a single room. The service answers an unknown id with a
// null body instead of a 404, so both are reported as not found.
func (c *Client) GetRoom(ctx context.Context, id int) (types.Room, error) {
	path := "/chat/" + strconv.Itoa(id)

	var room *types.Room
	if err := c.do(ctx, "get room", http.MethodGet, path, &room); err != nil {
		return types.Room{}, err
	}
	if room == nil {
		return types.Room{}, &TransportError{
			Op:         "get room",
			Method:     http.MethodGet,
			URL:        c.baseURL.JoinPath(path).String(),
			StatusCode: http.StatusNotFound,
			Err:        errors.Errorf("room %d not found", id),
		}
	}

	return *room, nil
}

// GetHistory returns the ordered message log of a room.
func (c *Client) GetHistory(ctx context.Context, id int) ([]types.Message, error) {
	var history []types.Message
	if err := c.do(ctx, "get history", http.MethodGet, "/chat-history/"+strconv.Itoa(id), &history); err != nil {
		return nil, err
	}
	if history == nil {
		history = []types.Message{}
	}

	return history, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, out any) error {
	u := c.baseURL.JoinPath(path)
	terr := &TransportError{Op: op, Method: method, URL: u.String()}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		terr.Err = err
		return terr
	}

	reqId := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqId)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("op", op).Str("request_id", reqId).Msg("request failed")
		terr.Err = err
		return terr
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("op", op).
		Str("method", method).
		Str("url", u.String()).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Str("request_id", reqId).
		Msg("request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		terr.StatusCode = resp.StatusCode
		if len(body) > 0 {
			terr.Err = errors.New(strings.TrimSpace(string(body)))
		}
		return terr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		terr.Err = errors.Wrap(err, "decode response")
		return terr
	}

	return nil
}

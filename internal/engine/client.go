package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// Client talks to the reasoning engine over HTTP JSON plus a websocket
// event stream. It implements API.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.http = h
	}
}

// NewClient creates a client for the engine at baseURL (e.g.
// "http://127.0.0.1:4096").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/session", nil, &resp); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("creating session: engine returned no session id")
	}
	return resp.ID, nil
}

func (c *Client) SendPrompt(ctx context.Context, sessionID, text string) error {
	body := map[string]string{"text": text}
	if err := c.doJSON(ctx, http.MethodPost, "/session/"+sessionID+"/prompt", body, nil); err != nil {
		return fmt.Errorf("sending prompt: %w", err)
	}
	return nil
}

func (c *Client) RespondPermission(ctx context.Context, sessionID, permissionID, response string) error {
	body := map[string]string{"response": response}
	path := "/session/" + sessionID + "/permissions/" + permissionID
	if err := c.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("responding to permission: %w", err)
	}
	return nil
}

func (c *Client) ListProviders(ctx context.Context) ([]Provider, error) {
	var resp struct {
		Providers []Provider `json:"providers"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/config/providers", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	return resp.Providers, nil
}

// Subscribe opens the websocket event stream.
func (c *Client) Subscribe(ctx context.Context) (EventStream, error) {
	// The request-scoped HTTP client carries a Timeout, which would also
	// cut the long-lived stream; dial with the default client instead.
	url := wsURL(c.baseURL) + "/event"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("subscribing to events: %w", err)
	}
	// Message accumulation can exceed the library default read limit.
	conn.SetReadLimit(1 << 20)
	return &wsStream{conn: conn}, nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// doJSON performs one JSON round-trip. A nil out discards the response body.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}

// wsStream adapts a websocket connection to EventStream.
type wsStream struct {
	conn *websocket.Conn
}

func (s *wsStream) Next(ctx context.Context) (Event, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return Event{}, err
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		// Protocol drift is not fatal; hand back an untyped event the
		// state machine will ignore.
		return Event{}, nil
	}
	return ev, nil
}

func (s *wsStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

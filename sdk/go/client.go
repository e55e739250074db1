package cutlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// Client is a minimal cutline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	// AgentID is sent as X-Agent-Id when no credentials are set.
	AgentID    string
	HTTPClient *http.Client
	Timeout    time.Duration

	seq atomic.Int64
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RPCError is an envelope-level error: unknown method, bad params, missing
// session, forbidden or internal.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// FailureError is a method that ran but reported success=false.
type FailureError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

type Track struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Kind    string  `json:"kind"`
	Items   []Item  `json:"items"`
	Locked  bool    `json:"locked"`
	Visible bool    `json:"visible"`
	Volume  float64 `json:"volume"`
}

type Item struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Source   string `json:"source"`
	Start    int    `json:"start"`
	Duration int    `json:"duration"`
}

type Timeline struct {
	SessionID     string  `json:"session_id"`
	FrameRate     int     `json:"frame_rate"`
	OverlapPolicy string  `json:"overlap_policy"`
	TotalDuration int     `json:"total_duration"`
	Tracks        []Track `json:"tracks"`
	UndoDepth     int     `json:"undo_depth"`
	RedoDepth     int     `json:"redo_depth"`
}

// Directive is one instruction for the executor.
type Directive struct {
	ID          string         `json:"id,omitempty"`
	Kind        string         `json:"kind"`
	Priority    int            `json:"priority,omitempty"`
	Description string         `json:"description,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

type ExecuteResult struct {
	Success     bool   `json:"success"`
	DirectiveID string `json:"directive_id"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	Reason      string `json:"reason"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type WhoAmI struct {
	AgentID string   `json:"agent_id"`
	Roles   []string `json:"roles"`
	Source  string   `json:"source"`
}

type rpcRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call invokes method and decodes the result into out. Envelope errors come
// back as *RPCError and reported failures as *FailureError.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	req := rpcRequest{
		ID:     fmt.Sprintf("%d", c.seq.Add(1)),
		Method: method,
		Params: params,
	}
	var resp rpcResponse
	if err := c.do(ctx, http.MethodPost, "rpc", req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	var status struct {
		Success *bool  `json:"success"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Result, &status); err == nil && status.Success != nil && !*status.Success {
		return &FailureError{Reason: status.Reason, Message: status.Message}
	}
	if out != nil {
		return json.Unmarshal(resp.Result, out)
	}
	return nil
}

// CreateSession returns the new session's ID.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	err := c.Call(ctx, "session.create", nil, &resp)
	return resp.SessionID, err
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.Call(ctx, "session.delete", map[string]any{"session_id": sessionID}, nil)
}

func (c *Client) CreateTrack(ctx context.Context, sessionID, name, kind string) (Track, error) {
	var resp struct {
		Track Track `json:"track"`
	}
	err := c.Call(ctx, "edit.create_track", map[string]any{
		"session_id": sessionID,
		"name":       name,
		"kind":       kind,
	}, &resp)
	return resp.Track, err
}

// AddMedia places a clip of duration frames at start.
func (c *Client) AddMedia(ctx context.Context, sessionID, trackID, source, kind string, start, duration int) (Item, error) {
	var resp struct {
		Item Item `json:"item"`
	}
	err := c.Call(ctx, "edit.add_media", map[string]any{
		"session_id": sessionID,
		"track_id":   trackID,
		"source":     source,
		"kind":       kind,
		"start":      start,
		"duration":   duration,
	}, &resp)
	return resp.Item, err
}

func (c *Client) Timeline(ctx context.Context, sessionID string) (Timeline, error) {
	var resp Timeline
	err := c.Call(ctx, "edit.get_timeline", map[string]any{"session_id": sessionID}, &resp)
	return resp, err
}

func (c *Client) Undo(ctx context.Context, sessionID string) error {
	return c.Call(ctx, "edit.undo", map[string]any{"session_id": sessionID}, nil)
}

func (c *Client) Redo(ctx context.Context, sessionID string) error {
	return c.Call(ctx, "edit.redo", map[string]any{"session_id": sessionID}, nil)
}

// RegisterAgent claims role for agentID; an empty agentID uses the caller.
func (c *Client) RegisterAgent(ctx context.Context, sessionID, role, agentID string) error {
	params := map[string]any{"session_id": sessionID, "role": role}
	if agentID != "" {
		params["agent_id"] = agentID
	}
	return c.Call(ctx, "agent.register", params, nil)
}

// SubmitDirectives queues directives and returns their IDs.
func (c *Client) SubmitDirectives(ctx context.Context, sessionID string, directives []Directive) ([]string, error) {
	var resp struct {
		DirectiveIDs []string `json:"directive_ids"`
	}
	err := c.Call(ctx, "agent.submit_directives", map[string]any{
		"session_id": sessionID,
		"directives": directives,
	}, &resp)
	return resp.DirectiveIDs, err
}

// ExecuteNext runs the highest-priority pending directive.
func (c *Client) ExecuteNext(ctx context.Context, sessionID string) (ExecuteResult, error) {
	var resp ExecuteResult
	err := c.Call(ctx, "agent.execute_next", map[string]any{"session_id": sessionID}, &resp)
	return resp, err
}

// Status returns the raw editing status document.
func (c *Client) Status(ctx context.Context, sessionID string) (map[string]any, error) {
	var resp map[string]any
	err := c.Call(ctx, "agent.get_status", map[string]any{"session_id": sessionID}, &resp)
	return resp, err
}

// Events returns recent events for a session; empty sessionID lists all.
func (c *Client) Events(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, sessionID, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, sessionID string, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) Methods(ctx context.Context) ([]string, error) {
	var resp struct {
		Methods []string `json:"methods"`
	}
	err := c.do(ctx, http.MethodGet, "methods", nil, &resp)
	return resp.Methods, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.AgentID != "":
		req.Header.Set("X-Agent-Id", c.AgentID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}

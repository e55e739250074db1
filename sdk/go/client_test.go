package cutlinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cutline/internal/command"
	"cutline/internal/server"
)

func newTestClient(t *testing.T, authCfg server.AuthConfig) *Client {
	t.Helper()
	handler, err := server.New(server.Config{Dispatcher: command.New(command.Options{}), Auth: authCfg})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(srv.URL)
	c.AgentID = "sdk-test"
	return c
}

func TestClientEditRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, server.AuthConfig{Disabled: true})

	sessionID, err := c.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	track, err := c.CreateTrack(ctx, sessionID, "V1", "video")
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	item, err := c.AddMedia(ctx, sessionID, track.ID, "file:///a.mp4", "video", 0, 120)
	if err != nil {
		t.Fatalf("add media: %v", err)
	}
	if item.ID == "" || item.Duration != 120 {
		t.Fatalf("unexpected item %+v", item)
	}
	tl, err := c.Timeline(ctx, sessionID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if tl.TotalDuration != 120 || len(tl.Tracks) != 1 {
		t.Fatalf("unexpected timeline %+v", tl)
	}

	if err := c.Undo(ctx, sessionID); err != nil {
		t.Fatalf("undo: %v", err)
	}
	tl, _ = c.Timeline(ctx, sessionID)
	if tl.TotalDuration != 0 || tl.RedoDepth != 1 {
		t.Fatalf("undo should remove the clip, got %+v", tl)
	}
	if err := c.Redo(ctx, sessionID); err != nil {
		t.Fatalf("redo: %v", err)
	}
	tl, _ = c.Timeline(ctx, sessionID)
	if tl.TotalDuration != 120 {
		t.Fatalf("redo should restore the clip, got %+v", tl)
	}
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, server.AuthConfig{Disabled: true})

	_, err := c.Timeline(ctx, "missing")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != int(command.CodeSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}

	sessionID, err := c.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	err = c.Undo(ctx, sessionID)
	var failure *FailureError
	if !errors.As(err, &failure) || failure.Reason != "nothing_to_undo" {
		t.Fatalf("expected nothing_to_undo, got %v", err)
	}

	locked := newTestClient(t, server.AuthConfig{})
	locked.AgentID = ""
	_, err = locked.Me(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestClientDirectives(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, server.AuthConfig{Disabled: true})

	sessionID, err := c.CreateSession(ctx)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := c.RegisterAgent(ctx, sessionID, "director", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	ids, err := c.SubmitDirectives(ctx, sessionID, []Directive{{
		Kind:   "add_text",
		Params: map[string]any{"text": "Opening", "start_time": 0, "end_time": 2},
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one directive id, got %v", ids)
	}
	res, err := c.ExecuteNext(ctx, sessionID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.DirectiveID != ids[0] {
		t.Fatalf("unexpected result %+v", res)
	}
	_, err = c.ExecuteNext(ctx, sessionID)
	var failure *FailureError
	if !errors.As(err, &failure) || failure.Reason != "no_pending_directives" {
		t.Fatalf("expected empty queue, got %v", err)
	}
	status, err := c.Status(ctx, sessionID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(status) == 0 {
		t.Fatalf("expected a status document")
	}

	methods, err := c.Methods(ctx)
	if err != nil || len(methods) != 23 {
		t.Fatalf("methods: %v %v", methods, err)
	}
	me, err := c.Me(ctx)
	if err != nil || me.AgentID != "sdk-test" {
		t.Fatalf("me: %+v %v", me, err)
	}
	evs, err := c.Events(ctx, sessionID, 10)
	if err != nil || len(evs) != 0 {
		t.Fatalf("journal is not configured, got %v %v", evs, err)
	}
}

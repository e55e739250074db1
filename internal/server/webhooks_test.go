package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cutline/internal/config"
	"cutline/internal/events"
	"cutline/internal/repo"
)

type hookRecorder struct {
	mu      sync.Mutex
	status  int
	bodies  []webhookEvent
	headers []http.Header
}

func (h *hookRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, _ := io.ReadAll(r.Body)
	var evt webhookEvent
	_ = json.Unmarshal(data, &evt)
	if h.status != 0 {
		w.WriteHeader(h.status)
		return
	}
	h.bodies = append(h.bodies, evt)
	h.headers = append(h.headers, r.Header.Clone())
}

func (h *hookRecorder) delivered() []webhookEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]webhookEvent(nil), h.bodies...)
}

func (h *hookRecorder) fail(status int) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

func TestWebhooksDeliverNewEventsOnly(t *testing.T) {
	conn := openTestDB(t)
	defer conn.Close()
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	journal := events.Writer{DB: conn}

	if err := journal.Record(ctx, events.Entry{Type: "session.create", SessionID: "s1", EntityKind: "session", EntityID: "s1"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	rec := &hookRecorder{}
	target := httptest.NewServer(rec)
	defer target.Close()

	hooks := NewWebhooks(r, []config.WebhookConfig{{
		URL:    target.URL,
		Events: []string{"edit.*"},
		Secret: "shh",
	}}, WebhookOptions{})

	hooks.DeliverPending(ctx)
	if got := rec.delivered(); len(got) != 0 {
		t.Fatalf("history before the first pass must not be replayed, got %d", len(got))
	}

	for _, typ := range []string{"edit.add_media", "agent.register", "edit.move_clip"} {
		if err := journal.Record(ctx, events.Entry{Type: typ, SessionID: "s1", EntityKind: "item", ActorID: "editor", Payload: events.Payload{"start": 10}}); err != nil {
			t.Fatalf("record %s: %v", typ, err)
		}
	}
	hooks.DeliverPending(ctx)

	got := rec.delivered()
	if len(got) != 2 || got[0].Type != "edit.add_media" || got[1].Type != "edit.move_clip" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
	if got[0].SessionID != "s1" || got[0].ActorID != "editor" || string(got[0].Payload) != `{"start":10}` {
		t.Fatalf("unexpected body %+v", got[0])
	}
	h := rec.headers[0]
	if h.Get("X-Cutline-Event") != "edit.add_media" || h.Get("X-Cutline-Secret") != "shh" || h.Get("X-Cutline-Session") != "s1" {
		t.Fatalf("unexpected headers %v", h)
	}

	latest, err := r.LatestEventID(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	cursor, err := r.WebhookCursor(ctx, target.URL)
	if err != nil || cursor != latest {
		t.Fatalf("expected persisted cursor %d, got %d (%v)", latest, cursor, err)
	}

	hooks.DeliverPending(ctx)
	if len(rec.delivered()) != 2 {
		t.Fatalf("events must not be delivered twice")
	}
}

func TestWebhooksRetryFailedDelivery(t *testing.T) {
	conn := openTestDB(t)
	defer conn.Close()
	ctx := context.Background()
	r := repo.Repo{DB: conn}
	journal := events.Writer{DB: conn}

	rec := &hookRecorder{}
	target := httptest.NewServer(rec)
	defer target.Close()
	disabled := false
	hooks := NewWebhooks(r, []config.WebhookConfig{
		{URL: target.URL},
		{URL: target.URL + "/off", Enabled: &disabled},
	}, WebhookOptions{})
	hooks.DeliverPending(ctx)

	if err := journal.Record(ctx, events.Entry{Type: "edit.undo", SessionID: "s1", EntityKind: "operation"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	rec.fail(http.StatusBadGateway)
	hooks.DeliverPending(ctx)
	if cursor, _ := r.WebhookCursor(ctx, target.URL); cursor != 0 {
		t.Fatalf("cursor must not advance past a failed delivery, got %d", cursor)
	}

	rec.fail(0)
	hooks.DeliverPending(ctx)
	got := rec.delivered()
	if len(got) != 1 || got[0].Type != "edit.undo" {
		t.Fatalf("expected the failed event to be retried, got %+v", got)
	}
	if _, err := r.WebhookCursor(ctx, target.URL+"/off"); err != repo.ErrNotFound {
		t.Fatalf("disabled target should never be touched, got %v", err)
	}
}

func TestEventFilter(t *testing.T) {
	all := newEventFilter([]string{" ", ""})
	if !all.match("anything") {
		t.Fatalf("blank patterns should match everything")
	}
	f := newEventFilter([]string{"edit.*", "session.create"})
	for evt, want := range map[string]bool{
		"edit.add_media": true,
		"session.create": true,
		"session.delete": false,
		"agent.register": false,
	} {
		if f.match(evt) != want {
			t.Fatalf("match(%s) != %v", evt, want)
		}
	}
}

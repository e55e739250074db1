package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"cutline/internal/auth"
	"cutline/internal/config"
	"cutline/internal/domain"
	"cutline/internal/logging"
	"cutline/internal/metrics"
	"cutline/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookStore is the slice of the repo the dispatcher reads and advances.
type WebhookStore interface {
	EventsAfter(ctx context.Context, limit int, cursor int64, f repo.EventFilter) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
	WebhookCursor(ctx context.Context, target string) (int64, error)
	SetWebhookCursor(ctx context.Context, target string, eventID int64) error
}

type WebhookOptions struct {
	Interval time.Duration
	Client   *http.Client
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Webhooks forwards journal events to configured targets. Each target's
// position is persisted, so a restart resumes where delivery stopped. A
// target seen for the first time starts at the current end of the journal.
type Webhooks struct {
	store    WebhookStore
	hooks    []config.WebhookConfig
	interval time.Duration
	client   *http.Client
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewWebhooks(store WebhookStore, hooks []config.WebhookConfig, opts WebhookOptions) *Webhooks {
	w := &Webhooks{
		store:    store,
		hooks:    hooks,
		interval: opts.Interval,
		client:   opts.Client,
		clock:    opts.Clock,
		logger:   logging.WithComponent(logging.OrNop(opts.Logger), "webhooks"),
	}
	if w.interval <= 0 {
		w.interval = defaultWebhookInterval
	}
	if w.client == nil {
		w.client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if w.clock == nil {
		w.clock = clockwork.NewRealClock()
	}
	return w
}

// Start polls until ctx is done. It returns immediately when no target is
// enabled.
func (w *Webhooks) Start(ctx context.Context) {
	if len(w.active()) == 0 {
		return
	}
	go w.run(ctx)
}

func (w *Webhooks) run(ctx context.Context) {
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.DeliverPending(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func (w *Webhooks) active() []config.WebhookConfig {
	var out []config.WebhookConfig
	for _, hook := range w.hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		out = append(out, hook)
	}
	return out
}

// DeliverPending runs one delivery pass over every enabled target.
func (w *Webhooks) DeliverPending(ctx context.Context) {
	for _, hook := range w.active() {
		if err := w.deliver(ctx, hook); err != nil && ctx.Err() == nil {
			w.logger.Warn("webhook delivery stopped", "url", hook.URL, "error", err)
		}
	}
}

func (w *Webhooks) deliver(ctx context.Context, hook config.WebhookConfig) error {
	cursor, err := w.cursorFor(ctx, hook.URL)
	if err != nil {
		return fmt.Errorf("init cursor: %w", err)
	}
	events, err := w.store.EventsAfter(ctx, defaultWebhookBatch, cursor, repo.EventFilter{})
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if filter.match(evt.Type) {
			if err := w.postEvent(ctx, hook, evt); err != nil {
				metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
				metrics.CollaboratorErrors.WithLabelValues("webhook").Inc()
				return err
			}
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		}
		if err := w.store.SetWebhookCursor(ctx, hook.URL, evt.ID); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
	}
	return nil
}

func (w *Webhooks) cursorFor(ctx context.Context, target string) (int64, error) {
	cur, err := w.store.WebhookCursor(ctx, target)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return 0, err
	}
	cur, err = w.store.LatestEventID(ctx)
	if err != nil {
		return 0, err
	}
	if err := w.store.SetWebhookCursor(ctx, target, cur); err != nil {
		return 0, err
	}
	return cur, nil
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (w *Webhooks) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		SessionID:  evt.SessionID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	client := w.client
	if hook.TimeoutSeconds > 0 {
		timeout := time.Duration(hook.TimeoutSeconds) * time.Second
		if timeout != client.Timeout {
			client = &http.Client{Timeout: timeout, Transport: w.client.Transport}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Cutline-Event", evt.Type)
	req.Header.Set("X-Cutline-Delivery", fmt.Sprintf("%d", evt.ID))
	if evt.SessionID != "" {
		req.Header.Set("X-Cutline-Session", evt.SessionID)
	}
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Cutline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// eventFilter matches event types by the same patterns method policies use.
type eventFilter struct {
	all      bool
	patterns []string
}

func newEventFilter(events []string) eventFilter {
	var patterns []string
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			patterns = append(patterns, key)
		}
	}
	if len(patterns) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{patterns: patterns}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	for _, p := range f.patterns {
		if auth.Match(p, evt) {
			return true
		}
	}
	return false
}

package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type Payload map[string]any

// Entry is one journal record for a successful mutating call.
type Entry struct {
	Type       string
	SessionID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    Payload
}

// Writer appends entries to the events table.
type Writer struct {
	DB    *sql.DB
	Clock clockwork.Clock
}

// Append writes e inside tx, or directly against DB when tx is nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) error {
	clock := w.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ts := clock.Now().UTC().Format(time.RFC3339Nano)
	payload := e.Payload
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	actor := e.ActorID
	if actor == "" {
		actor = "anonymous"
	}
	const q = `INSERT INTO events(ts,type,session_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`
	args := []any{ts, e.Type, nullable(e.SessionID), e.EntityKind, nullable(e.EntityID), actor, string(data)}
	if tx != nil {
		_, err = tx.ExecContext(ctx, q, args...)
	} else {
		_, err = w.DB.ExecContext(ctx, q, args...)
	}
	return err
}

// Record appends e outside any transaction.
func (w Writer) Record(ctx context.Context, e Entry) error {
	return w.Append(ctx, nil, e)
}

// Nop discards entries; used when the journal is disabled.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

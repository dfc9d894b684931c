package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"loopz/internal/db"
	"loopz/internal/domain"
)

// SystemActor is recorded when no actor is attached to the context.
const SystemActor = "system"

// Writer appends audit events inside the caller's transaction.
type Writer struct {
	Driver string
	Now    func() time.Time
}

type EventPayload map[string]any

type actorKey struct{}

// WithActor attaches the acting user id to ctx.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

// ActorFrom returns the acting user id, or SystemActor.
func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return SystemActor
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, loopID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := domain.FormatTime(w.Now())
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = SystemActor
	}
	_, err = tx.ExecContext(ctx, db.Rebind(w.Driver, `INSERT INTO events(ts,type,loop_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`),
		ts, evtType, nullable(loopID), entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

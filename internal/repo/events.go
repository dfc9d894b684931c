package repo

import (
	"context"
	"fmt"
	"strings"

	"loopz/internal/domain"
)

type EventFilters struct {
	LoopID     string
	Type       string
	EntityKind string
	EntityID   string
	// Cursor returns events with smaller ids when positive.
	Cursor int64
	Limit  int
}

// LatestEvents returns matching events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.LoopID != "" {
		clauses = append(clauses, "loop_id=?")
		args = append(args, f.LoopID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(loop_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	rows, err := r.query(ctx, r.DB, query, args...)
	if err != nil {
		return nil, fail("list events", f.LoopID, err)
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.LoopID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, fail("list events", f.LoopID, err)
		}
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list events", f.LoopID, err)
	}
	return res, nil
}

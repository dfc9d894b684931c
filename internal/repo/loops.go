package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"loopz/internal/domain"
	"loopz/internal/events"
)

const loopColumns = `id,user_id,title,COALESCE(description,''),summary,sentiment_score,status,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoop(row rowScanner) (domain.Loop, error) {
	var l domain.Loop
	var summary sql.NullString
	var sentiment sql.NullFloat64
	if err := row.Scan(&l.ID, &l.UserID, &l.Title, &l.Description, &summary, &sentiment, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return l, err
	}
	if summary.Valid {
		l.Summary = &summary.String
	}
	if sentiment.Valid {
		l.SentimentScore = &sentiment.Float64
	}
	return l, nil
}

// CreateLoop persists a new open loop whose title and description both hold
// the raw input.
func (r Repo) CreateLoop(ctx context.Context, ownerID, rawInput string) (domain.Loop, error) {
	if strings.TrimSpace(ownerID) == "" {
		return domain.Loop{}, &domain.InvalidInputError{Field: "user_id", Reason: "is required"}
	}
	ts := r.now()
	l := domain.Loop{
		ID:          newID(),
		UserID:      ownerID,
		Title:       rawInput,
		Description: rawInput,
		Status:      domain.LoopStatusOpen,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.exec(ctx, tx, `INSERT INTO loops(id,user_id,title,description,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
			l.ID, l.UserID, l.Title, nullable(l.Description), l.Status, l.CreatedAt, l.UpdatedAt); err != nil {
			return err
		}
		return r.record(ctx, tx, "loop.created", l.ID, "loop", l.ID, events.EventPayload{"title": l.Title})
	})
	if err != nil {
		return domain.Loop{}, fail("create loop", "", err)
	}
	return l, nil
}

// GetLoopByID returns nil, nil when the loop does not exist.
func (r Repo) GetLoopByID(ctx context.Context, id string) (*domain.Loop, error) {
	l, err := scanLoop(r.queryRow(ctx, r.DB, `SELECT `+loopColumns+` FROM loops WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fail("get loop", id, err)
	}
	return &l, nil
}

// GetLoopWithTasks returns the loop with its task tree, or nil, nil when the
// loop does not exist.
func (r Repo) GetLoopWithTasks(ctx context.Context, id string) (*domain.LoopWithTasks, error) {
	l, err := r.GetLoopByID(ctx, id)
	if err != nil || l == nil {
		return nil, err
	}
	flat, err := r.ListLoopTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.LoopWithTasks{Loop: *l, Tasks: BuildTree(flat)}, nil
}

// ListLoops returns the owner's loops, newest first.
func (r Repo) ListLoops(ctx context.Context, ownerID string) ([]domain.Loop, error) {
	rows, err := r.query(ctx, r.DB, `SELECT `+loopColumns+` FROM loops WHERE user_id=? ORDER BY created_at DESC, id DESC`, ownerID)
	if err != nil {
		return nil, fail("list loops", "", err)
	}
	defer rows.Close()
	var res []domain.Loop
	for rows.Next() {
		l, err := scanLoop(rows)
		if err != nil {
			return nil, fail("list loops", "", err)
		}
		res = append(res, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list loops", "", err)
	}
	return res, nil
}

// UpdateLoop applies patch and bumps updated_at. A missing loop yields a
// PersistenceError wrapping ErrNotFound.
func (r Repo) UpdateLoop(ctx context.Context, id string, patch domain.LoopPatch) (domain.Loop, error) {
	fields := []string{"updated_at=?"}
	ts := r.now()
	args := []any{ts}
	changed := map[string]any{}
	if patch.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *patch.Title)
		changed["title"] = *patch.Title
	}
	if patch.Summary != nil {
		fields = append(fields, "summary=?")
		args = append(args, nullable(*patch.Summary))
		changed["summary"] = *patch.Summary
	}
	if patch.SentimentScore != nil {
		fields = append(fields, "sentiment_score=?")
		args = append(args, *patch.SentimentScore)
		changed["sentiment_score"] = *patch.SentimentScore
	}
	if patch.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *patch.Status)
		changed["status"] = *patch.Status
	}
	args = append(args, id)
	var out domain.Loop
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := r.exec(ctx, tx, fmt.Sprintf(`UPDATE loops SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if err := r.record(ctx, tx, "loop.updated", id, "loop", id, changed); err != nil {
			return err
		}
		out, err = scanLoop(r.queryRow(ctx, tx, `SELECT `+loopColumns+` FROM loops WHERE id=?`, id))
		return err
	})
	if err != nil {
		return domain.Loop{}, fail("update loop", id, err)
	}
	return out, nil
}

// DeleteLoop removes the loop's messages, then its tasks, then the loop in
// one transaction.
func (r Repo) DeleteLoop(ctx context.Context, id string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := r.exec(ctx, tx, `DELETE FROM chat_messages WHERE loop_id=?`, id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if _, err := r.exec(ctx, tx, `DELETE FROM tasks WHERE loop_id=?`, id); err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		res, err := r.exec(ctx, tx, `DELETE FROM loops WHERE id=?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return r.record(ctx, tx, "loop.deleted", id, "loop", id, nil)
	})
	return fail("delete loop", id, err)
}

package repo

import (
	"context"
	"database/sql"
	"fmt"

	"loopz/internal/domain"
	"loopz/internal/events"
)

// CreateMessage appends a conversation turn to a loop. A task reference must
// point at a task of the same loop.
func (r Repo) CreateMessage(ctx context.Context, loopID string, taskID *string, role, content string) (domain.ChatMessage, error) {
	if !domain.ValidRole(role) {
		return domain.ChatMessage{}, &domain.InvalidInputError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	m := domain.ChatMessage{
		ID:        newID(),
		LoopID:    loopID,
		TaskID:    taskID,
		Role:      role,
		Content:   content,
		CreatedAt: r.now(),
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if taskID != nil {
			t, err := r.getTask(ctx, tx, *taskID)
			if err != nil {
				return fmt.Errorf("task %s: %w", *taskID, err)
			}
			if t.LoopID != loopID {
				return ErrParentMismatch
			}
		}
		if _, err := r.exec(ctx, tx, `INSERT INTO chat_messages(id,loop_id,task_id,role,content,created_at) VALUES (?,?,?,?,?,?)`,
			m.ID, m.LoopID, nullableStringPtr(m.TaskID), m.Role, m.Content, m.CreatedAt); err != nil {
			return err
		}
		return r.record(ctx, tx, "message.created", loopID, "message", m.ID, events.EventPayload{"role": role})
	})
	if err != nil {
		return domain.ChatMessage{}, fail("create message", loopID, err)
	}
	return m, nil
}

// GetLoopMessages returns the loop's messages oldest first.
func (r Repo) GetLoopMessages(ctx context.Context, loopID string) ([]domain.ChatMessage, error) {
	rows, err := r.query(ctx, r.DB, `SELECT id,loop_id,task_id,role,content,created_at FROM chat_messages WHERE loop_id=? ORDER BY created_at ASC, id ASC`, loopID)
	if err != nil {
		return nil, fail("list messages", loopID, err)
	}
	defer rows.Close()
	res := []domain.ChatMessage{}
	for rows.Next() {
		var m domain.ChatMessage
		var taskID sql.NullString
		if err := rows.Scan(&m.ID, &m.LoopID, &taskID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fail("list messages", loopID, err)
		}
		if taskID.Valid {
			m.TaskID = &taskID.String
		}
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list messages", loopID, err)
	}
	return res, nil
}

// DeleteLoopMessages clears a loop's conversation and returns how many
// messages were removed.
func (r Repo) DeleteLoopMessages(ctx context.Context, loopID string) (int64, error) {
	var n int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := r.exec(ctx, tx, `DELETE FROM chat_messages WHERE loop_id=?`, loopID)
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		return r.record(ctx, tx, "messages.cleared", loopID, "loop", loopID, events.EventPayload{"count": n})
	})
	if err != nil {
		return 0, fail("delete messages", loopID, err)
	}
	return n, nil
}

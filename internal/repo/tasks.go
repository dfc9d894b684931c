package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"loopz/internal/domain"
	"loopz/internal/events"
)

const taskColumns = `id,loop_id,parent_id,title,is_completed,is_expanded,position,created_at,updated_at`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var parentID sql.NullString
	if err := row.Scan(&t.ID, &t.LoopID, &parentID, &t.Title, &t.IsCompleted, &t.IsExpanded, &t.Position, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	return t, nil
}

func (r Repo) getTask(ctx context.Context, q querier, id string) (domain.Task, error) {
	t, err := scanTask(r.queryRow(ctx, q, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) insertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.exec(ctx, tx, `INSERT INTO tasks(id,loop_id,parent_id,title,is_completed,is_expanded,position,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.LoopID, nullableStringPtr(t.ParentID), t.Title, t.IsCompleted, t.IsExpanded, t.Position, t.CreatedAt, t.UpdatedAt)
	return err
}

// nextPosition returns the position after the last sibling in the
// (loopID, parentID) group.
func (r Repo) nextPosition(ctx context.Context, q querier, loopID string, parentID *string) (int, error) {
	var next int
	var err error
	if parentID == nil {
		err = r.queryRow(ctx, q, `SELECT COALESCE(MAX(position)+1,0) FROM tasks WHERE loop_id=? AND parent_id IS NULL`, loopID).Scan(&next)
	} else {
		err = r.queryRow(ctx, q, `SELECT COALESCE(MAX(position)+1,0) FROM tasks WHERE loop_id=? AND parent_id=?`, loopID, *parentID).Scan(&next)
	}
	return next, err
}

// insertBatch inserts titles as consecutive siblings under parentID inside tx.
// Top-level tasks start expanded, nested ones collapsed.
func (r Repo) insertBatch(ctx context.Context, tx *sql.Tx, loopID string, parentID *string, titles []string) ([]domain.Task, error) {
	start, err := r.nextPosition(ctx, tx, loopID, parentID)
	if err != nil {
		return nil, err
	}
	ts := r.now()
	out := make([]domain.Task, 0, len(titles))
	for i, title := range titles {
		if strings.TrimSpace(title) == "" {
			return nil, &domain.InvalidInputError{Field: "title", Reason: fmt.Sprintf("task %d has an empty title", i)}
		}
		t := domain.Task{
			ID:         newID(),
			LoopID:     loopID,
			ParentID:   parentID,
			Title:      title,
			IsExpanded: parentID == nil,
			Position:   start + i,
			CreatedAt:  ts,
			UpdatedAt:  ts,
		}
		if err := r.insertTask(ctx, tx, t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := r.touchLoop(ctx, tx, loopID, ts); err != nil {
		return nil, err
	}
	ids := make([]string, len(out))
	for i, t := range out {
		ids[i] = t.ID
	}
	payload := events.EventPayload{"task_ids": ids}
	entityID := ""
	if parentID != nil {
		entityID = *parentID
		payload["parent_id"] = *parentID
	}
	if err := r.record(ctx, tx, "tasks.created", loopID, "task", entityID, payload); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTasksForLoop inserts top-level tasks for titles in one transaction.
// Either every task is stored or none is.
func (r Repo) CreateTasksForLoop(ctx context.Context, loopID string, titles []string) ([]domain.Task, error) {
	var out []domain.Task
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = r.insertBatch(ctx, tx, loopID, nil, titles)
		return err
	})
	if err != nil {
		return nil, fail("create tasks", loopID, err)
	}
	return out, nil
}

// CreateChildTasks appends titles as subtasks of parentID and expands the
// parent.
func (r Repo) CreateChildTasks(ctx context.Context, parentID string, titles []string) ([]domain.Task, error) {
	var out []domain.Task
	var loopID string
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		parent, err := r.getTask(ctx, tx, parentID)
		if err != nil {
			return err
		}
		loopID = parent.LoopID
		out, err = r.insertBatch(ctx, tx, parent.LoopID, &parent.ID, titles)
		if err != nil {
			return err
		}
		if !parent.IsExpanded {
			_, err = r.exec(ctx, tx, `UPDATE tasks SET is_expanded=?, updated_at=? WHERE id=?`, true, r.now(), parent.ID)
		}
		return err
	})
	if err != nil {
		return nil, fail("create child tasks", loopID, err)
	}
	return out, nil
}

// CreateTask appends one task to the loop, under parentID when set. The
// parent must belong to the same loop.
func (r Repo) CreateTask(ctx context.Context, loopID string, parentID *string, title string) (domain.Task, error) {
	var out domain.Task
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if parentID != nil {
			parent, err := r.getTask(ctx, tx, *parentID)
			if err != nil {
				return fmt.Errorf("parent %s: %w", *parentID, err)
			}
			if parent.LoopID != loopID {
				return ErrParentMismatch
			}
		}
		tasks, err := r.insertBatch(ctx, tx, loopID, parentID, []string{title})
		if err != nil {
			return err
		}
		out = tasks[0]
		return nil
	})
	if err != nil {
		return domain.Task{}, fail("create task", loopID, err)
	}
	return out, nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := r.getTask(ctx, r.DB, id)
	if err != nil {
		return t, fail("get task", "", err)
	}
	return t, nil
}

// ListLoopTasks returns every task of the loop flat, ordered by position
// within each sibling group.
func (r Repo) ListLoopTasks(ctx context.Context, loopID string) ([]domain.Task, error) {
	rows, err := r.query(ctx, r.DB, `SELECT `+taskColumns+` FROM tasks WHERE loop_id=? ORDER BY position ASC, created_at ASC, id ASC`, loopID)
	if err != nil {
		return nil, fail("list tasks", loopID, err)
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fail("list tasks", loopID, err)
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list tasks", loopID, err)
	}
	return res, nil
}

// UpdateTask applies patch to a task and bumps updated_at.
func (r Repo) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	fields := []string{"updated_at=?"}
	args := []any{r.now()}
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return domain.Task{}, &domain.InvalidInputError{Field: "title", Reason: "must not be empty"}
		}
		fields = append(fields, "title=?")
		args = append(args, *patch.Title)
	}
	if patch.IsExpanded != nil {
		fields = append(fields, "is_expanded=?")
		args = append(args, *patch.IsExpanded)
	}
	args = append(args, id)
	var out domain.Task
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := r.exec(ctx, tx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		out, err = r.getTask(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.Task{}, fail("update task", out.LoopID, err)
	}
	return out, nil
}

// ToggleTaskCompletion reads the task and writes the negated completion flag.
// Read and write are separate statements; concurrent toggles of the same task
// may lose an update.
func (r Repo) ToggleTaskCompletion(ctx context.Context, id string) (domain.Task, error) {
	t, err := r.getTask(ctx, r.DB, id)
	if err != nil {
		return t, fail("toggle task", "", err)
	}
	ts := r.now()
	t.IsCompleted = !t.IsCompleted
	t.UpdatedAt = ts
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := r.exec(ctx, tx, `UPDATE tasks SET is_completed=?, updated_at=? WHERE id=?`, t.IsCompleted, ts, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if err := r.touchLoop(ctx, tx, t.LoopID, ts); err != nil {
			return err
		}
		return r.record(ctx, tx, "task.toggled", t.LoopID, "task", id, events.EventPayload{"is_completed": t.IsCompleted})
	})
	if err != nil {
		return domain.Task{}, fail("toggle task", t.LoopID, err)
	}
	return t, nil
}

const subtreeCTE = `WITH RECURSIVE subtree(id) AS (
	SELECT id FROM tasks WHERE id=?
	UNION ALL
	SELECT t.id FROM tasks t JOIN subtree s ON t.parent_id = s.id
) `

// DeleteTask removes the task and its whole subtree in one transaction.
// Messages linked to removed tasks keep their loop and lose the task link.
func (r Repo) DeleteTask(ctx context.Context, id string) error {
	var loopID string
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		t, err := r.getTask(ctx, tx, id)
		if err != nil {
			return err
		}
		loopID = t.LoopID
		if _, err := r.exec(ctx, tx, subtreeCTE+`UPDATE chat_messages SET task_id=NULL WHERE task_id IN (SELECT id FROM subtree)`, id); err != nil {
			return err
		}
		if _, err := r.exec(ctx, tx, subtreeCTE+`DELETE FROM tasks WHERE id IN (SELECT id FROM subtree)`, id); err != nil {
			return err
		}
		if err := r.touchLoop(ctx, tx, loopID, r.now()); err != nil {
			return err
		}
		return r.record(ctx, tx, "task.deleted", loopID, "task", id, nil)
	})
	return fail("delete task", loopID, err)
}

// BuildTree nests a flat task list under Microsteps, keeping each sibling
// group ordered by position. Tasks whose parent is absent from the list are
// treated as roots.
func BuildTree(flat []domain.Task) []domain.Task {
	present := make(map[string]bool, len(flat))
	for _, t := range flat {
		present[t.ID] = true
	}
	children := map[string][]domain.Task{}
	var roots []domain.Task
	for _, t := range flat {
		if t.ParentID != nil && present[*t.ParentID] {
			children[*t.ParentID] = append(children[*t.ParentID], t)
			continue
		}
		roots = append(roots, t)
	}
	var attach func(ts []domain.Task) []domain.Task
	attach = func(ts []domain.Task) []domain.Task {
		out := make([]domain.Task, len(ts))
		for i, t := range ts {
			t.Microsteps = nil
			if kids := children[t.ID]; len(kids) > 0 {
				t.Microsteps = attach(kids)
			}
			out[i] = t
		}
		return out
	}
	if roots == nil {
		return []domain.Task{}
	}
	return attach(roots)
}

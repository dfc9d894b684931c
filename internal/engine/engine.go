package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"loopz/internal/domain"
	"loopz/internal/events"
	"loopz/internal/generate"
	"loopz/internal/progress"
	"loopz/internal/repo"
)

// Store is the persistence surface the engine drives. repo.Repo implements it.
type Store interface {
	CreateLoop(ctx context.Context, ownerID, rawInput string) (domain.Loop, error)
	CreateTasksForLoop(ctx context.Context, loopID string, titles []string) ([]domain.Task, error)
	CreateTask(ctx context.Context, loopID string, parentID *string, title string) (domain.Task, error)
	CreateChildTasks(ctx context.Context, parentID string, titles []string) ([]domain.Task, error)
	GetLoopByID(ctx context.Context, id string) (*domain.Loop, error)
	GetLoopWithTasks(ctx context.Context, id string) (*domain.LoopWithTasks, error)
	ListLoops(ctx context.Context, ownerID string) ([]domain.Loop, error)
	UpdateLoop(ctx context.Context, id string, patch domain.LoopPatch) (domain.Loop, error)
	DeleteLoop(ctx context.Context, id string) error
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListLoopTasks(ctx context.Context, loopID string) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	ToggleTaskCompletion(ctx context.Context, id string) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
	CreateMessage(ctx context.Context, loopID string, taskID *string, role, content string) (domain.ChatMessage, error)
	GetLoopMessages(ctx context.Context, loopID string) ([]domain.ChatMessage, error)
	DeleteLoopMessages(ctx context.Context, loopID string) (int64, error)
}

// Generator turns text into task titles.
type Generator interface {
	Generate(ctx context.Context, input string) ([]string, error)
	Breakdown(ctx context.Context, taskTitle string) ([]string, error)
}

type Engine struct {
	Store     Store
	Generator Generator
	Log       *slog.Logger
}

func New(r repo.Repo, gen generate.Service, log *slog.Logger) Engine {
	if gen.Log == nil {
		gen.Log = log
	}
	return Engine{Store: r, Generator: gen, Log: log}
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Generation is the result of turning free text into a loop.
type Generation struct {
	Loop     domain.Loop   `json:"loop"`
	Tasks    []domain.Task `json:"tasks"`
	Progress int           `json:"progress"`
}

// LoopView is a loop with its task tree and completion percentage.
type LoopView struct {
	domain.LoopWithTasks
	Progress int `json:"progress"`
}

// LoopSummary is a loop with its completion percentage.
type LoopSummary struct {
	domain.Loop
	Progress int `json:"progress"`
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, repo.ErrNotFound)
}

// GenerateLoop decomposes input into tasks and persists a new loop holding
// them. Loop and tasks are written in two steps; when the task batch fails the
// loop stays behind without tasks and the returned PersistenceError carries
// its id.
func (e Engine) GenerateLoop(ctx context.Context, ownerID, input string) (Generation, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Generation{}, &domain.InvalidInputError{Field: "user_id", Reason: "is required"}
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return Generation{}, &domain.InvalidInputError{Field: "input", Reason: "must not be empty"}
	}
	titles, err := e.Generator.Generate(ctx, input)
	if err != nil {
		return Generation{}, err
	}
	ctx = events.WithActor(ctx, ownerID)
	loop, err := e.Store.CreateLoop(ctx, ownerID, input)
	if err != nil {
		return Generation{}, err
	}
	tasks, err := e.Store.CreateTasksForLoop(ctx, loop.ID, titles)
	if err != nil {
		e.logger().Error("task batch failed; loop left without tasks", "loop_id", loop.ID, "err", err)
		var pe *domain.PersistenceError
		if errors.As(err, &pe) {
			if pe.LoopID == "" {
				pe.LoopID = loop.ID
			}
			return Generation{}, pe
		}
		return Generation{}, &domain.PersistenceError{Op: "create tasks", LoopID: loop.ID, Err: err}
	}
	e.logger().Info("loop generated", "loop_id", loop.ID, "tasks", len(tasks))
	return Generation{Loop: loop, Tasks: tasks, Progress: progress.PercentComplete(tasks)}, nil
}

// ownedLoop returns the loop when it exists and belongs to ownerID. Loops of
// other users are reported as not found.
func (e Engine) ownedLoop(ctx context.Context, ownerID, loopID string) (*domain.Loop, error) {
	l, err := e.Store.GetLoopByID(ctx, loopID)
	if err != nil {
		return nil, err
	}
	if l == nil || l.UserID != ownerID {
		return nil, notFound("loop", loopID)
	}
	return l, nil
}

func (e Engine) ownedTask(ctx context.Context, ownerID, taskID string) (domain.Task, error) {
	t, err := e.Store.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.ownedLoop(ctx, ownerID, t.LoopID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, notFound("task", taskID)
		}
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) ListLoops(ctx context.Context, ownerID string) ([]LoopSummary, error) {
	loops, err := e.Store.ListLoops(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]LoopSummary, 0, len(loops))
	for _, l := range loops {
		tasks, err := e.Store.ListLoopTasks(ctx, l.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, LoopSummary{Loop: l, Progress: progress.PercentComplete(tasks)})
	}
	return out, nil
}

func (e Engine) GetLoop(ctx context.Context, ownerID, loopID string) (LoopView, error) {
	lt, err := e.Store.GetLoopWithTasks(ctx, loopID)
	if err != nil {
		return LoopView{}, err
	}
	if lt == nil || lt.UserID != ownerID {
		return LoopView{}, notFound("loop", loopID)
	}
	return LoopView{LoopWithTasks: *lt, Progress: progress.ForLoop(*lt)}, nil
}

func (e Engine) UpdateLoop(ctx context.Context, ownerID, loopID string, patch domain.LoopPatch) (domain.Loop, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return domain.Loop{}, &domain.InvalidInputError{Field: "title", Reason: "must not be empty"}
	}
	if patch.Status != nil && !domain.ValidLoopStatus(*patch.Status) {
		return domain.Loop{}, &domain.InvalidInputError{Field: "status", Reason: fmt.Sprintf("must be %s or %s", domain.LoopStatusOpen, domain.LoopStatusClosed)}
	}
	if _, err := e.ownedLoop(ctx, ownerID, loopID); err != nil {
		return domain.Loop{}, err
	}
	return e.Store.UpdateLoop(events.WithActor(ctx, ownerID), loopID, patch)
}

func (e Engine) DeleteLoop(ctx context.Context, ownerID, loopID string) error {
	if _, err := e.ownedLoop(ctx, ownerID, loopID); err != nil {
		return err
	}
	if err := e.Store.DeleteLoop(events.WithActor(ctx, ownerID), loopID); err != nil {
		return err
	}
	e.logger().Info("loop deleted", "loop_id", loopID)
	return nil
}

// AddTask appends a manual task to the loop, nested under parentID when set.
func (e Engine) AddTask(ctx context.Context, ownerID, loopID string, parentID *string, title string) (domain.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Task{}, &domain.InvalidInputError{Field: "title", Reason: "must not be empty"}
	}
	if _, err := e.ownedLoop(ctx, ownerID, loopID); err != nil {
		return domain.Task{}, err
	}
	return e.Store.CreateTask(events.WithActor(ctx, ownerID), loopID, parentID, title)
}

func (e Engine) UpdateTask(ctx context.Context, ownerID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return domain.Task{}, &domain.InvalidInputError{Field: "title", Reason: "must not be empty"}
		}
		patch.Title = &trimmed
	}
	if _, err := e.ownedTask(ctx, ownerID, taskID); err != nil {
		return domain.Task{}, err
	}
	return e.Store.UpdateTask(events.WithActor(ctx, ownerID), taskID, patch)
}

// ToggleTask flips the task's completion flag and returns the task together
// with the loop's updated progress.
func (e Engine) ToggleTask(ctx context.Context, ownerID, taskID string) (domain.Task, int, error) {
	if _, err := e.ownedTask(ctx, ownerID, taskID); err != nil {
		return domain.Task{}, 0, err
	}
	t, err := e.Store.ToggleTaskCompletion(events.WithActor(ctx, ownerID), taskID)
	if err != nil {
		return domain.Task{}, 0, err
	}
	tasks, err := e.Store.ListLoopTasks(ctx, t.LoopID)
	if err != nil {
		return t, 0, err
	}
	return t, progress.PercentComplete(tasks), nil
}

// BreakdownTask asks the generator for substeps of a task and stores them as
// its children.
func (e Engine) BreakdownTask(ctx context.Context, ownerID, taskID string) ([]domain.Task, error) {
	parent, err := e.ownedTask(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	titles, err := e.Generator.Breakdown(ctx, parent.Title)
	if err != nil {
		return nil, err
	}
	return e.Store.CreateChildTasks(events.WithActor(ctx, ownerID), parent.ID, titles)
}

func (e Engine) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	if _, err := e.ownedTask(ctx, ownerID, taskID); err != nil {
		return err
	}
	return e.Store.DeleteTask(events.WithActor(ctx, ownerID), taskID)
}

func (e Engine) ListMessages(ctx context.Context, ownerID, loopID string) ([]domain.ChatMessage, error) {
	if _, err := e.ownedLoop(ctx, ownerID, loopID); err != nil {
		return nil, err
	}
	return e.Store.GetLoopMessages(ctx, loopID)
}

func (e Engine) PostMessage(ctx context.Context, ownerID, loopID string, taskID *string, role, content string) (domain.ChatMessage, error) {
	if role == "" {
		role = domain.RoleUser
	}
	if !domain.ValidRole(role) {
		return domain.ChatMessage{}, &domain.InvalidInputError{Field: "role", Reason: fmt.Sprintf("unknown role %q", role)}
	}
	if strings.TrimSpace(content) == "" {
		return domain.ChatMessage{}, &domain.InvalidInputError{Field: "content", Reason: "must not be empty"}
	}
	if _, err := e.ownedLoop(ctx, ownerID, loopID); err != nil {
		return domain.ChatMessage{}, err
	}
	return e.Store.CreateMessage(events.WithActor(ctx, ownerID), loopID, taskID, role, content)
}

func (e Engine) ClearMessages(ctx context.Context, ownerID, loopID string) (int64, error) {
	if _, err := e.ownedLoop(ctx, ownerID, loopID); err != nil {
		return 0, err
	}
	return e.Store.DeleteLoopMessages(events.WithActor(ctx, ownerID), loopID)
}

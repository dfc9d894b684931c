package engine_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"loopz/internal/db"
	"loopz/internal/domain"
	"loopz/internal/engine"
	"loopz/internal/generate"
	"loopz/internal/logging"
	"loopz/internal/migrate"
	"loopz/internal/repo"
)

type scriptedCompleter struct {
	replies []string
	err     error
	calls   int
}

func (s *scriptedCompleter) Complete(context.Context, string, string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

type testEnv struct {
	Engine    engine.Engine
	Repo      repo.Repo
	Completer *scriptedCompleter
	Ctx       context.Context
	UserID    string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "loopz.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn, db.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn, Driver: db.DriverSQLite}
	u, err := r.CreateUser(ctx, "ada@example.com", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	fc := &scriptedCompleter{}
	eng := engine.New(r, generate.Service{Completer: fc}, logging.Discard())
	return testEnv{Engine: eng, Repo: r, Completer: fc, Ctx: ctx, UserID: u.ID}
}

func titlesOf(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}

func TestGenerateLoopWebsiteScenario(t *testing.T) {
	env := newTestEnv(t)
	env.Completer.replies = []string{`Here you go: [{"title":"Buy domain"},{"title":"Deploy server"}]`}
	gen, err := env.Engine.GenerateLoop(env.Ctx, env.UserID, "I need to launch my website")
	if err != nil {
		t.Fatalf("generate loop: %v", err)
	}
	if gen.Loop.Title != "I need to launch my website" || gen.Loop.Status != domain.LoopStatusOpen {
		t.Fatalf("unexpected loop %+v", gen.Loop)
	}
	if diff := cmp.Diff([]string{"Buy domain", "Deploy server"}, titlesOf(gen.Tasks)); diff != "" {
		t.Fatalf("titles (-want +got):\n%s", diff)
	}
	for i, task := range gen.Tasks {
		if task.Position != i || task.IsCompleted || task.ParentID != nil {
			t.Fatalf("task %d has unexpected shape %+v", i, task)
		}
	}
	if gen.Progress != 0 {
		t.Fatalf("progress=%d, want 0", gen.Progress)
	}

	view, err := env.Engine.GetLoop(env.Ctx, env.UserID, gen.Loop.ID)
	if err != nil {
		t.Fatalf("get loop: %v", err)
	}
	if len(view.Tasks) != 2 || view.Progress != 0 {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestGenerateLoopEmptyArrayUsesDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.Completer.replies = []string{`[]`}
	gen, err := env.Engine.GenerateLoop(env.Ctx, env.UserID, "anything")
	if err != nil {
		t.Fatalf("generate loop: %v", err)
	}
	if diff := cmp.Diff(domain.DefaultTaskTitles, titlesOf(gen.Tasks)); diff != "" {
		t.Fatalf("defaults (-want +got):\n%s", diff)
	}
}

func TestGenerateLoopBlankInputPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.GenerateLoop(env.Ctx, env.UserID, "   ")
	var inv *domain.InvalidInputError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	if env.Completer.calls != 0 {
		t.Fatalf("completion service called for blank input")
	}
	loops, _ := env.Repo.ListLoops(env.Ctx, env.UserID)
	if len(loops) != 0 {
		t.Fatalf("expected no loops, got %d", len(loops))
	}
}

func TestGenerateLoopServiceFailurePersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.Completer.err = errors.New("quota exceeded")
	_, err := env.Engine.GenerateLoop(env.Ctx, env.UserID, "plan my week")
	var gse *domain.GenerationServiceError
	if !errors.As(err, &gse) {
		t.Fatalf("expected GenerationServiceError, got %v", err)
	}
	loops, _ := env.Repo.ListLoops(env.Ctx, env.UserID)
	if len(loops) != 0 {
		t.Fatalf("expected no loops, got %d", len(loops))
	}
}

// failingTasks stores loops but rejects every task batch.
type failingTasks struct {
	repo.Repo
}

func (f failingTasks) CreateTasksForLoop(ctx context.Context, loopID string, titles []string) ([]domain.Task, error) {
	return nil, &domain.PersistenceError{Op: "create tasks", Err: errors.New("disk full")}
}

func TestGenerateLoopTaskFailureLeavesEmptyLoop(t *testing.T) {
	env := newTestEnv(t)
	env.Completer.replies = []string{`[{"title":"a"}]`}
	eng := env.Engine
	eng.Store = failingTasks{Repo: env.Repo}

	_, err := eng.GenerateLoop(env.Ctx, env.UserID, "plan")
	var pe *domain.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if pe.LoopID == "" {
		t.Fatalf("PersistenceError must carry the created loop id")
	}
	loop, err := env.Repo.GetLoopWithTasks(env.Ctx, pe.LoopID)
	if err != nil || loop == nil {
		t.Fatalf("expected orphaned loop to exist: %v %v", loop, err)
	}
	if len(loop.Tasks) != 0 {
		t.Fatalf("expected zero tasks, got %d", len(loop.Tasks))
	}
}

func TestOwnershipScoping(t *testing.T) {
	env := newTestEnv(t)
	env.Completer.replies = []string{`[{"title":"a"}]`}
	gen, err := env.Engine.GenerateLoop(env.Ctx, env.UserID, "mine")
	if err != nil {
		t.Fatal(err)
	}
	other, err := env.Repo.CreateUser(env.Ctx, "eve@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetLoop(env.Ctx, other.ID, gen.Loop.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign loop should be not found, got %v", err)
	}
	if _, _, err := env.Engine.ToggleTask(env.Ctx, other.ID, gen.Tasks[0].ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign task should be not found, got %v", err)
	}
	if err := env.Engine.DeleteLoop(env.Ctx, other.ID, gen.Loop.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("foreign delete should be not found, got %v", err)
	}
	loops, err := env.Engine.ListLoops(env.Ctx, other.ID)
	if err != nil || len(loops) != 0 {
		t.Fatalf("other user should see no loops: %v %v", loops, err)
	}
}

func TestToggleAndBreakdownProgress(t *testing.T) {
	env := newTestEnv(t)
	env.Completer.replies = []string{
		`[{"title":"a"},{"title":"b"}]`,
		`[{"title":"a1"},{"title":"a2"}]`,
	}
	gen, err := env.Engine.GenerateLoop(env.Ctx, env.UserID, "plan")
	if err != nil {
		t.Fatal(err)
	}
	task, pct, err := env.Engine.ToggleTask(env.Ctx, env.UserID, gen.Tasks[0].ID)
	if err != nil || !task.IsCompleted || pct != 50 {
		t.Fatalf("toggle: %+v %d %v", task, pct, err)
	}
	kids, err := env.Engine.BreakdownTask(env.Ctx, env.UserID, gen.Tasks[0].ID)
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	if diff := cmp.Diff([]string{"a1", "a2"}, titlesOf(kids)); diff != "" {
		t.Fatalf("children (-want +got):\n%s", diff)
	}
	view, err := env.Engine.GetLoop(env.Ctx, env.UserID, gen.Loop.ID)
	if err != nil {
		t.Fatal(err)
	}
	// one of four tasks in the tree is done
	if view.Progress != 25 {
		t.Fatalf("progress=%d, want 25", view.Progress)
	}
	summaries, err := env.Engine.ListLoops(env.Ctx, env.UserID)
	if err != nil || len(summaries) != 1 || summaries[0].Progress != 25 {
		t.Fatalf("summaries: %+v %v", summaries, err)
	}
}

func TestUpdateLoopValidation(t *testing.T) {
	env := newTestEnv(t)
	env.Completer.replies = []string{`[{"title":"a"}]`}
	gen, _ := env.Engine.GenerateLoop(env.Ctx, env.UserID, "plan")
	bogus := "archived"
	var inv *domain.InvalidInputError
	if _, err := env.Engine.UpdateLoop(env.Ctx, env.UserID, gen.Loop.ID, domain.LoopPatch{Status: &bogus}); !errors.As(err, &inv) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	closed := domain.LoopStatusClosed
	l, err := env.Engine.UpdateLoop(env.Ctx, env.UserID, gen.Loop.ID, domain.LoopPatch{Status: &closed})
	if err != nil || l.Status != closed {
		t.Fatalf("close loop: %+v %v", l, err)
	}
}

func TestMessages(t *testing.T) {
	env := newTestEnv(t)
	env.Completer.replies = []string{`[{"title":"a"}]`}
	gen, _ := env.Engine.GenerateLoop(env.Ctx, env.UserID, "plan")
	if _, err := env.Engine.PostMessage(env.Ctx, env.UserID, gen.Loop.ID, nil, "", "hello coach"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := env.Engine.PostMessage(env.Ctx, env.UserID, gen.Loop.ID, nil, domain.RoleHeadCoach, "keep going"); err != nil {
		t.Fatalf("post: %v", err)
	}
	var inv *domain.InvalidInputError
	if _, err := env.Engine.PostMessage(env.Ctx, env.UserID, gen.Loop.ID, nil, domain.RoleUser, " "); !errors.As(err, &inv) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	msgs, err := env.Engine.ListMessages(env.Ctx, env.UserID, gen.Loop.ID)
	if err != nil || len(msgs) != 2 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("messages: %+v %v", msgs, err)
	}
	n, err := env.Engine.ClearMessages(env.Ctx, env.UserID, gen.Loop.ID)
	if err != nil || n != 2 {
		t.Fatalf("clear: %d %v", n, err)
	}
}

func TestEventsRecordActor(t *testing.T) {
	env := newTestEnv(t)
	env.Completer.replies = []string{`[{"title":"a"}]`}
	gen, err := env.Engine.GenerateLoop(env.Ctx, env.UserID, "plan")
	if err != nil {
		t.Fatal(err)
	}
	evts, err := env.Repo.LatestEvents(env.Ctx, repo.EventFilters{LoopID: gen.Loop.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 2 || evts[0].Type != "tasks.created" || evts[1].Type != "loop.created" {
		t.Fatalf("unexpected events %+v", evts)
	}
	if evts[1].ActorID != env.UserID {
		t.Fatalf("actor=%s, want %s", evts[1].ActorID, env.UserID)
	}
}

// failingLoopReads serves tasks but fails every loop lookup.
type failingLoopReads struct {
	repo.Repo
}

func (f failingLoopReads) GetLoopByID(ctx context.Context, id string) (*domain.Loop, error) {
	return nil, &domain.PersistenceError{Op: "get loop", LoopID: id, Err: errors.New("connection reset")}
}

func TestOwnedTaskKeepsStoreFailures(t *testing.T) {
	env := newTestEnv(t)
	env.Completer.replies = []string{`[{"title":"a"}]`}
	gen, err := env.Engine.GenerateLoop(env.Ctx, env.UserID, "plan")
	if err != nil {
		t.Fatalf("GenerateLoop: %v", err)
	}
	eng := env.Engine
	eng.Store = failingLoopReads{Repo: env.Repo}

	_, _, err = eng.ToggleTask(env.Ctx, env.UserID, gen.Tasks[0].ID)
	var pe *domain.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("store failure must not be reported as not found: %v", err)
	}

	if err := eng.DeleteTask(env.Ctx, env.UserID, "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing task should stay not found, got %v", err)
	}
}

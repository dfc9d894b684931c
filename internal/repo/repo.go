package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"loopz/internal/db"
	"loopz/internal/domain"
	"loopz/internal/events"
)

// Repo is the relational task hierarchy store. Every method works on both
// the sqlite and pgx drivers; queries use ? placeholders and are rebound per
// driver.
type Repo struct {
	DB     *sql.DB
	Driver string
	Now    func() time.Time
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a unique constraint violation.
	ErrConflict = errors.New("conflict")
	// ErrParentMismatch reports a parent task that belongs to another loop.
	ErrParentMismatch = errors.New("parent task belongs to another loop")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) now() string {
	if r.Now == nil {
		return domain.FormatTime(time.Now())
	}
	return domain.FormatTime(r.Now())
}

func (r Repo) q(query string) string {
	return db.Rebind(r.Driver, query)
}

func (r Repo) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, r.q(query), args...)
}

func (r Repo) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, r.q(query), args...)
}

func (r Repo) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, r.q(query), args...)
}

// withTx runs fn in a transaction, committing when fn returns nil.
func (r Repo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) record(ctx context.Context, tx *sql.Tx, evtType, loopID, entityKind, entityID string, payload events.EventPayload) error {
	w := events.Writer{Driver: r.Driver, Now: r.Now}
	return w.Append(ctx, tx, evtType, loopID, entityKind, entityID, events.ActorFrom(ctx), payload)
}

func (r Repo) touchLoop(ctx context.Context, q querier, loopID, ts string) error {
	_, err := r.exec(ctx, q, `UPDATE loops SET updated_at=? WHERE id=?`, ts, loopID)
	return err
}

func fail(op, loopID string, err error) error {
	if err == nil {
		return nil
	}
	var pe *domain.PersistenceError
	var inv *domain.InvalidInputError
	if errors.As(err, &pe) || errors.As(err, &inv) {
		return err
	}
	if isUniqueViolation(err) {
		err = errors.Join(ErrConflict, err)
	}
	return &domain.PersistenceError{Op: op, LoopID: loopID, Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func NewID() string { return newID() }

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

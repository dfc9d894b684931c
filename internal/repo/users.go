package repo

import (
	"context"
	"database/sql"
	"time"

	"loopz/internal/domain"
)

// CreateUser inserts a user. A duplicate email yields an error matching
// ErrConflict.
func (r Repo) CreateUser(ctx context.Context, email, passwordHash string) (domain.User, error) {
	u := domain.User{ID: newID(), Email: email, PasswordHash: passwordHash, CreatedAt: r.now()}
	_, err := r.exec(ctx, r.DB, `INSERT INTO users(id,email,password_hash,created_at) VALUES (?,?,?,?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if err != nil {
		return domain.User{}, fail("create user", "", err)
	}
	return u, nil
}

// GetUserByEmail returns nil, nil when no user has the email.
func (r Repo) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getUser(ctx, `SELECT id,email,password_hash,created_at FROM users WHERE email=?`, email)
}

// GetUser returns nil, nil when the user does not exist.
func (r Repo) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return r.getUser(ctx, `SELECT id,email,password_hash,created_at FROM users WHERE id=?`, id)
}

func (r Repo) getUser(ctx context.Context, query string, arg string) (*domain.User, error) {
	var u domain.User
	err := r.queryRow(ctx, r.DB, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fail("get user", "", err)
	}
	return &u, nil
}

func (r Repo) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (domain.Session, error) {
	s := domain.Session{ID: newID(), UserID: userID, CreatedAt: r.now(), ExpiresAt: domain.FormatTime(expiresAt)}
	_, err := r.exec(ctx, r.DB, `INSERT INTO sessions(id,user_id,created_at,expires_at) VALUES (?,?,?,?)`,
		s.ID, s.UserID, s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return domain.Session{}, fail("create session", "", err)
	}
	return s, nil
}

// GetSession returns nil, nil when the session does not exist.
func (r Repo) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	var revoked sql.NullString
	err := r.queryRow(ctx, r.DB, `SELECT id,user_id,created_at,expires_at,revoked_at FROM sessions WHERE id=?`, id).
		Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &revoked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fail("get session", "", err)
	}
	if revoked.Valid {
		s.RevokedAt = &revoked.String
	}
	return &s, nil
}

// RevokeSession marks an active session revoked. Unknown or already revoked
// sessions yield ErrNotFound.
func (r Repo) RevokeSession(ctx context.Context, id string) error {
	res, err := r.exec(ctx, r.DB, `UPDATE sessions SET revoked_at=? WHERE id=? AND revoked_at IS NULL`, r.now(), id)
	if err != nil {
		return fail("revoke session", "", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fail("revoke session", "", ErrNotFound)
	}
	return nil
}

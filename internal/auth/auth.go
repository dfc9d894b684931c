// Package auth signs users up and in, and resolves session tokens. A token
// is an HS256 JWT whose jti names a sessions row; revoking the row
// invalidates the token before it expires.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"loopz/internal/domain"
	"loopz/internal/repo"
)

const MinPasswordLength = 8

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionInvalid     = errors.New("session invalid")
)

type Service struct {
	Repo   repo.Repo
	Secret string
	TTL    time.Duration
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
	Now  func() time.Time
}

// Token is an issued session token.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return 7 * 24 * time.Hour
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", &domain.InvalidInputError{Field: "email", Reason: "must be a valid address"}
	}
	return email, nil
}

// SignUp registers a user with a bcrypt-hashed password.
func (s Service) SignUp(ctx context.Context, email, password string) (domain.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return domain.User{}, err
	}
	if len(password) < MinPasswordLength {
		return domain.User{}, &domain.InvalidInputError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	}
	existing, err := s.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	if existing != nil {
		return domain.User{}, ErrEmailTaken
	}
	cost := s.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.Repo.CreateUser(ctx, email, string(hash))
	if errors.Is(err, repo.ErrConflict) {
		return domain.User{}, ErrEmailTaken
	}
	return u, err
}

// SignIn verifies credentials, opens a session row and returns its token.
func (s Service) SignIn(ctx context.Context, email, password string) (Token, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return Token{}, errors.New("jwt secret not configured")
	}
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.Repo.GetUserByEmail(ctx, email)
	if err != nil {
		return Token{}, err
	}
	if u == nil {
		return Token{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Token{}, ErrInvalidCredentials
	}
	issued := s.now()
	expires := issued.Add(s.ttl())
	sess, err := s.Repo.CreateSession(ctx, u.ID, expires)
	if err != nil {
		return Token{}, err
	}
	claims := jwt.RegisteredClaims{
		Subject:   u.ID,
		ID:        sess.ID,
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresAt:   expires.UTC().Truncate(time.Second),
		SessionID:   sess.ID,
		UserID:      u.ID,
	}, nil
}

// Authenticate validates the token signature and expiry and checks that its
// session row is still active.
func (s Service) Authenticate(ctx context.Context, token string) (domain.Session, error) {
	if strings.TrimSpace(s.Secret) == "" {
		return domain.Session{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return domain.Session{}, ErrSessionInvalid
	}
	if claims.Subject == "" || claims.ID == "" {
		return domain.Session{}, ErrSessionInvalid
	}
	sess, err := s.Repo.GetSession(ctx, claims.ID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess == nil || sess.RevokedAt != nil || sess.UserID != claims.Subject {
		return domain.Session{}, ErrSessionInvalid
	}
	if sess.ExpiresAt <= domain.FormatTime(s.now()) {
		return domain.Session{}, ErrSessionInvalid
	}
	return *sess, nil
}

// SignOut revokes the session. Revoking twice reports ErrSessionInvalid.
func (s Service) SignOut(ctx context.Context, sessionID string) error {
	if err := s.Repo.RevokeSession(ctx, sessionID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrSessionInvalid
		}
		return err
	}
	return nil
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"loopz/internal/domain"
)

// SessionCookieName carries the session token for browser clients.
const SessionCookieName = "loopz_session"

// Principal is the authenticated caller.
type Principal struct {
	UserID    string
	SessionID string
	ExpiresAt string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UserID != "" {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// sessionToken prefers the Authorization header over the session cookie.
func sessionToken(req *http.Request) (string, bool) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		return bearerToken(authz)
	}
	if c, err := req.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

func publicPaths(basePath string) map[string]bool {
	return map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "openapi.json"): true,
		path.Join(basePath, "auth/signup"):  true,
		path.Join(basePath, "auth/signin"):  true,
	}
}

func newAuthMiddleware(basePath string, cfg Config) func(http.Handler) http.Handler {
	public := publicPaths(basePath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			token, ok := sessionToken(req)
			if !ok {
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			}
			sess, err := cfg.Auth.Authenticate(req.Context(), token)
			if err != nil {
				cfg.logger().Debug("session rejected", "path", req.URL.Path, "err", err)
				respondStatusError(w, handleError(err))
				return
			}
			ctx := withPrincipal(req.Context(), Principal{UserID: sess.UserID, SessionID: sess.ID, ExpiresAt: sess.ExpiresAt})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

func sessionCookie(cfg Config, value string, expires time.Time) http.Cookie {
	c := http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	} else {
		c.Expires = expires
	}
	return c
}

func registerAuth(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "sign-up",
		Method:        http.MethodPost,
		Path:          "/auth/signup",
		Summary:       "Register a user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CredentialsRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		u, err := cfg.Auth.SignUp(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		cfg.logger().Info("user signed up", "user_id", u.ID)
		return &struct {
			Body domain.User `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-in",
		Method:      http.MethodPost,
		Path:        "/auth/signin",
		Summary:     "Open a session",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CredentialsRequest `json:"body"`
	}) (*struct {
		SetCookie http.Cookie   `header:"Set-Cookie"`
		Body      TokenResponse `json:"body"`
	}, error) {
		tok, err := cfg.Auth.SignIn(ctx, input.Body.Email, input.Body.Password)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			SetCookie http.Cookie   `header:"Set-Cookie"`
			Body      TokenResponse `json:"body"`
		}{
			SetCookie: sessionCookie(cfg, tok.AccessToken, tok.ExpiresAt),
			Body:      tokenResponse(tok),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "sign-out",
		Method:        http.MethodPost,
		Path:          "/auth/signout",
		Summary:       "Revoke the current session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		SetCookie http.Cookie `header:"Set-Cookie"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := cfg.Auth.SignOut(ctx, principal.SessionID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			SetCookie http.Cookie `header:"Set-Cookie"`
		}{SetCookie: sessionCookie(cfg, "", time.Time{})}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "current-session",
		Method:      http.MethodGet,
		Path:        "/auth/session",
		Summary:     "Current session",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp := SessionResponse{SessionID: principal.SessionID, UserID: principal.UserID, ExpiresAt: principal.ExpiresAt}
		if u, err := cfg.Auth.Repo.GetUser(ctx, principal.UserID); err == nil && u != nil {
			resp.Email = u.Email
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: resp}, nil
	})
}

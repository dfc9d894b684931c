package server

import (
	"time"

	"loopz/internal/auth"
	"loopz/internal/domain"
)

// Request payloads

type CredentialsRequest struct {
	Email    string `json:"email" example:"ada@example.com"`
	Password string `json:"password" example:"correct horse battery"`
}

type GenerateTasksRequest struct {
	Input string `json:"input" example:"I need to launch my website"`
}

type UpdateLoopRequest struct {
	Title          *string  `json:"title,omitempty"`
	Summary        *string  `json:"summary,omitempty"`
	SentimentScore *float64 `json:"sentiment_score,omitempty"`
	Status         *string  `json:"status,omitempty" enum:"open,closed"`
}

type CreateTaskRequest struct {
	Title    string  `json:"title"`
	ParentID *string `json:"parent_id,omitempty"`
}

type UpdateTaskRequest struct {
	Title      *string `json:"title,omitempty"`
	IsExpanded *bool   `json:"is_expanded,omitempty"`
}

type CreateMessageRequest struct {
	Role    string  `json:"role,omitempty" enum:"user,assistant,system,head_coach"`
	Content string  `json:"content"`
	TaskID  *string `json:"task_id,omitempty"`
}

// Response payloads

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at" format:"date-time"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
}

type SessionResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type GenerateTasksResponse struct {
	LoopID   string        `json:"loopId"`
	Steps    []domain.Task `json:"steps"`
	Progress int           `json:"progress"`
}

type LoopListResponse struct {
	Items []LoopSummaryResponse `json:"items"`
}

type LoopSummaryResponse struct {
	domain.Loop
	Progress int `json:"progress"`
}

type LoopResponse struct {
	domain.Loop
	Tasks    []domain.Task `json:"tasks"`
	Progress int           `json:"progress"`
}

type ToggleTaskResponse struct {
	Task     domain.Task `json:"task"`
	Progress int         `json:"progress"`
}

type TaskListResponse struct {
	Items []domain.Task `json:"items"`
}

type MessageListResponse struct {
	Items []domain.ChatMessage `json:"items"`
}

type ClearMessagesResponse struct {
	Deleted int64 `json:"deleted"`
}

func tokenResponse(t auth.Token) TokenResponse {
	return TokenResponse{
		AccessToken: t.AccessToken,
		TokenType:   t.TokenType,
		ExpiresAt:   t.ExpiresAt.UTC().Format(time.RFC3339),
		SessionID:   t.SessionID,
		UserID:      t.UserID,
	}
}

func nonNilTasks(in []domain.Task) []domain.Task {
	if in == nil {
		return []domain.Task{}
	}
	return in
}

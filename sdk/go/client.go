// Package loopzsdk is a minimal client for the Loopz HTTP API.
package loopzsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Loopz HTTP API client. BaseURL includes the API base
// path, e.g. http://127.0.0.1:8080/api.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, Timeout: 30 * time.Second}
}

// Task represents the API task model.
type Task struct {
	ID          string  `json:"id"`
	LoopID      string  `json:"loop_id"`
	ParentID    *string `json:"parent_id,omitempty"`
	Title       string  `json:"title"`
	IsCompleted bool    `json:"is_completed"`
	IsExpanded  bool    `json:"is_expanded"`
	Position    int     `json:"position"`
	Microsteps  []Task  `json:"microsteps,omitempty"`
}

// Loop represents a loop with its task tree.
type Loop struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Tasks       []Task `json:"tasks"`
	Progress    int    `json:"progress"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// Generation is the result of POST /generatetasks.
type Generation struct {
	LoopID   string `json:"loopId"`
	Steps    []Task `json:"steps"`
	Progress int    `json:"progress"`
}

// Session is an issued session token.
type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   string `json:"expires_at"`
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SignUp registers a user.
func (c *Client) SignUp(ctx context.Context, email, password string) error {
	return c.do(ctx, http.MethodPost, "auth/signup", map[string]any{"email": email, "password": password}, nil)
}

// SignIn opens a session and keeps its token for later calls.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var resp Session
	if err := c.do(ctx, http.MethodPost, "auth/signin", map[string]any{"email": email, "password": password}, &resp); err != nil {
		return Session{}, err
	}
	c.Token = resp.AccessToken
	return resp, nil
}

// SignOut revokes the current session.
func (c *Client) SignOut(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "auth/signout", nil, nil); err != nil {
		return err
	}
	c.Token = ""
	return nil
}

// GenerateTasks turns free text into a new loop.
func (c *Client) GenerateTasks(ctx context.Context, input string) (Generation, error) {
	var resp Generation
	err := c.do(ctx, http.MethodPost, "generatetasks", map[string]any{"input": input}, &resp)
	return resp, err
}

// GetLoop fetches a loop with its task tree.
func (c *Client) GetLoop(ctx context.Context, id string) (Loop, error) {
	var resp Loop
	err := c.do(ctx, http.MethodGet, "loops/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ToggleTask flips a task's completion and returns the loop's new progress.
func (c *Client) ToggleTask(ctx context.Context, id string) (Task, int, error) {
	var resp struct {
		Task     Task `json:"task"`
		Progress int  `json:"progress"`
	}
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/toggle", nil, &resp)
	return resp.Task, resp.Progress, err
}

// BreakdownTask generates substeps under a task.
func (c *Client) BreakdownTask(ctx context.Context, id string) ([]Task, error) {
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/breakdown", nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		_ = json.Unmarshal(b, apiErr)
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

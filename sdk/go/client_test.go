package loopzsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientFlow(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/auth/signin":
			_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "token_type": "Bearer", "user_id": "u1"})
		case "/api/generatetasks":
			gotAuth = r.Header.Get("Authorization")
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["input"] == "" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"input must not be empty","code":"bad_request"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"loopId":   "l1",
				"steps":    []map[string]any{{"id": "t1", "loop_id": "l1", "title": "Buy domain", "position": 0}},
				"progress": 0,
			})
		case "/api/tasks/t1/toggle":
			_ = json.NewEncoder(w).Encode(map[string]any{"task": map[string]any{"id": "t1", "is_completed": true}, "progress": 100})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/api/")
	ctx := context.Background()
	if _, err := c.SignIn(ctx, "ada@example.com", "correct horse battery"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	gen, err := c.GenerateTasks(ctx, "launch my website")
	if err != nil {
		t.Fatalf("GenerateTasks: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("authorization header=%q", gotAuth)
	}
	if gen.LoopID != "l1" || len(gen.Steps) != 1 || gen.Steps[0].Title != "Buy domain" {
		t.Fatalf("unexpected generation %+v", gen)
	}
	task, pct, err := c.ToggleTask(ctx, "t1")
	if err != nil || !task.IsCompleted || pct != 100 {
		t.Fatalf("ToggleTask=%+v %d %v", task, pct, err)
	}

	_, err = c.GenerateTasks(ctx, "")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "bad_request" || apiErr.Message != "input must not be empty" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newChatServer(t *testing.T, status int, reply string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			body := map[string]any{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode request: %v", err)
			}
			*seen = body
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteSendsDeterministicRequest(t *testing.T) {
	var seen map[string]any
	srv := newChatServer(t, http.StatusOK, `[{"title":"Buy domain"}]`, &seen)
	c := NewClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Timeout: 5 * time.Second})

	out, err := c.Complete(context.Background(), "system prompt", "launch my website")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `[{"title":"Buy domain"}]` {
		t.Fatalf("content=%q", out)
	}
	if seen["model"] != DefaultModel {
		t.Fatalf("model=%v, want %s", seen["model"], DefaultModel)
	}
	temp, ok := seen["temperature"].(float64)
	if !ok || temp > 1e-6 {
		t.Fatalf("temperature=%v, want ~0", seen["temperature"])
	}
	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages=%v", seen["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	second, _ := msgs[1].(map[string]any)
	if first["role"] != "system" || first["content"] != "system prompt" {
		t.Fatalf("system message=%v", first)
	}
	if second["role"] != "user" || second["content"] != "launch my website" {
		t.Fatalf("user message=%v", second)
	}
}

func TestCompleteReturnsServiceErrors(t *testing.T) {
	srv := newChatServer(t, http.StatusTooManyRequests, "", nil)
	c := NewClient(Config{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-4o-mini"})
	if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatalf("expected error for 429 response")
	}
	if c.Model() != "gpt-4o-mini" {
		t.Fatalf("model=%s", c.Model())
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := map[string]int{"": 0, "abc": 1, "abcd": 1, "abcde": 2, "héllo wörld": 3}
	for in, want := range cases {
		if got := EstimateTokens(in); got != want {
			t.Fatalf("EstimateTokens(%q)=%d, want %d", in, got, want)
		}
	}
}

func TestModelToEncoding(t *testing.T) {
	if got := modelToEncoding("gpt-4o-mini"); got != "o200k_base" {
		t.Fatalf("gpt-4o-mini -> %s", got)
	}
	if got := modelToEncoding("gpt-3.5-turbo"); got != "cl100k_base" {
		t.Fatalf("gpt-3.5-turbo -> %s", got)
	}
}

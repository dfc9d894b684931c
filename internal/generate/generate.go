// Package generate turns free text into task titles through a
// text-completion model, recovering from unusable model output with a fixed
// default task list.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"loopz/internal/domain"
)

const TasksPrompt = `Generate tasks based on the user's input. Your response must be ONLY a JSON array of task objects.
Example response format:
[
  { "title": "First task" },
  { "title": "Second task" },
  { "title": "Third task" }
]`

const BreakdownPrompt = `You are the Loopz Assistant Coach, helping users complete tasks within their larger goals.
Break down the task given by the user into 3-5 smaller substeps.
Make each substep concrete, specific, and actionable.
Your response must be ONLY a JSON array of objects of the form { "title": "Substep" }.`

// Completer sends one system instruction and one user message to a
// text-completion model and returns the raw reply. Implementations must
// sample deterministically.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// TokenCounter estimates the model token count of a text.
type TokenCounter interface {
	CountTokens(text string) int
}

type Service struct {
	Completer Completer
	// Tokens and MaxInputTokens bound the input size; zero disables the check.
	Tokens         TokenCounter
	MaxInputTokens int
	Log            *slog.Logger
}

func (s Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Generate decomposes input into an ordered, non-empty list of task titles.
func (s Service) Generate(ctx context.Context, input string) ([]string, error) {
	return s.run(ctx, TasksPrompt, "input", input)
}

// Breakdown decomposes a single task title into substep titles.
func (s Service) Breakdown(ctx context.Context, taskTitle string) ([]string, error) {
	return s.run(ctx, BreakdownPrompt, "title", taskTitle)
}

func (s Service) run(ctx context.Context, system, field, input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, &domain.InvalidInputError{Field: field, Reason: "must not be empty"}
	}
	if s.MaxInputTokens > 0 && s.Tokens != nil {
		if n := s.Tokens.CountTokens(input); n > s.MaxInputTokens {
			return nil, &domain.InvalidInputError{
				Field:  field,
				Reason: fmt.Sprintf("too long (%d tokens, limit %d)", n, s.MaxInputTokens),
			}
		}
	}
	if s.Completer == nil {
		return nil, &domain.GenerationServiceError{Err: fmt.Errorf("no completion service configured")}
	}
	raw, err := s.Completer.Complete(ctx, system, input)
	if err != nil {
		return nil, &domain.GenerationServiceError{Err: err}
	}
	titles, notice := Titles(raw)
	if notice != nil {
		s.logger().Warn("using default tasks", "reason", notice.Reason, "raw_len", len(notice.Raw))
	}
	return titles, nil
}

// Titles runs the extraction pipeline over a raw model reply. The result is
// never empty: when nothing usable survives, the default titles are returned
// together with a notice describing why.
func Titles(raw string) ([]string, *domain.ParseRecoveryNotice) {
	parsed, ok := ParseTitles(ExtractCandidate(raw))
	titles := make([]string, 0, len(parsed))
	for _, t := range parsed {
		if storableTitle(t) {
			titles = append(titles, t)
		}
	}
	if len(titles) > 0 {
		return titles, nil
	}
	reason := "no valid task objects"
	switch {
	case strings.TrimSpace(raw) == "":
		reason = "empty response"
	case !ok:
		reason = "response is not a JSON array"
	}
	return defaults(), &domain.ParseRecoveryNotice{Raw: raw, Reason: reason}
}

// storableTitle rejects blank titles and text no backend can store: invalid
// UTF-8 or NUL bytes. Titles are otherwise kept as the model wrote them.
func storableTitle(t string) bool {
	return strings.TrimSpace(t) != "" && utf8.ValidString(t) && !strings.ContainsRune(t, 0)
}

func defaults() []string {
	out := make([]string, len(domain.DefaultTaskTitles))
	copy(out, domain.DefaultTaskTitles)
	return out
}

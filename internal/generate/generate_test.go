package generate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"loopz/internal/domain"
)

type fakeCompleter struct {
	reply  string
	err    error
	system string
	user   string
	calls  int
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.system = system
	f.user = user
	return f.reply, f.err
}

type wordCounter struct{}

func (wordCounter) CountTokens(text string) int { return len(strings.Fields(text)) }

func TestExtractCandidate(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`Here you go: [{"title":"a"}] thanks`, `[{"title":"a"}]`},
		{"```json\n[1,\n2]\n```", "[1,\n2]"},
		{`[a] and [b]`, `[a] and [b]`},
		{`no brackets`, `no brackets`},
		{`{"title":"x"}`, `{"title":"x"}`},
	}
	for _, tc := range cases {
		if got := ExtractCandidate(tc.raw); got != tc.want {
			t.Fatalf("ExtractCandidate(%q)=%q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseTitlesFiltersElements(t *testing.T) {
	raw := `[
		{"title": "First"},
		{"name": "missing title"},
		"plain string",
		42,
		null,
		{"title": 7},
		{"title": null},
		[{"title": "nested array"}],
		{"title": "Second", "extra": true}
	]`
	got, ok := ParseTitles(raw)
	if !ok {
		t.Fatalf("expected array to parse")
	}
	if diff := cmp.Diff([]string{"First", "Second"}, got); diff != "" {
		t.Fatalf("titles (-want +got):\n%s", diff)
	}
}

func TestParseTitlesRejectsNonArrays(t *testing.T) {
	for _, raw := range []string{``, `{"title":"x"}`, `"[1]"`, `[{"title":"a"},]`, `not json`} {
		if got, ok := ParseTitles(raw); ok || len(got) != 0 {
			t.Fatalf("ParseTitles(%q)=%v,%v; want nothing", raw, got, ok)
		}
	}
}

func TestGenerateFallbackTotality(t *testing.T) {
	replies := []string{
		"",
		"I am unable to help with that.",
		`[{"title": "unterminated"`,
		`[]`,
		`[{"name":"x"}, 3, {"title": false}]`,
		`{"title": "object not array"}`,
		`[{"title": "   "}]`,
	}
	for _, reply := range replies {
		svc := Service{Completer: &fakeCompleter{reply: reply}}
		got, err := svc.Generate(context.Background(), "plan my week")
		if err != nil {
			t.Fatalf("Generate(%q) error: %v", reply, err)
		}
		if diff := cmp.Diff(domain.DefaultTaskTitles, got); diff != "" {
			t.Fatalf("reply %q: defaults (-want +got):\n%s", reply, diff)
		}
	}
}

func TestGenerateScenarioProse(t *testing.T) {
	fc := &fakeCompleter{reply: `Here you go: [{"title":"Buy domain"},{"title":"Deploy server"}]`}
	svc := Service{Completer: fc}
	got, err := svc.Generate(context.Background(), "  I need to launch my website ")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff([]string{"Buy domain", "Deploy server"}, got); diff != "" {
		t.Fatalf("titles (-want +got):\n%s", diff)
	}
	if fc.system != TasksPrompt {
		t.Fatalf("unexpected system prompt %q", fc.system)
	}
	if fc.user != "I need to launch my website" {
		t.Fatalf("user message=%q", fc.user)
	}
}

func TestGenerateRejectsBlankInput(t *testing.T) {
	fc := &fakeCompleter{reply: `[]`}
	svc := Service{Completer: fc}
	_, err := svc.Generate(context.Background(), " \n\t")
	var inv *domain.InvalidInputError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	if fc.calls != 0 {
		t.Fatalf("completion service must not be called for blank input")
	}
}

func TestGenerateEnforcesTokenBudget(t *testing.T) {
	fc := &fakeCompleter{reply: `[]`}
	svc := Service{Completer: fc, Tokens: wordCounter{}, MaxInputTokens: 3}
	_, err := svc.Generate(context.Background(), "one two three four")
	var inv *domain.InvalidInputError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
	if _, err := svc.Generate(context.Background(), "one two three"); err != nil {
		t.Fatalf("input within budget: %v", err)
	}
}

func TestGenerateServiceFailurePropagates(t *testing.T) {
	cause := errors.New("connection refused")
	svc := Service{Completer: &fakeCompleter{err: cause}}
	got, err := svc.Generate(context.Background(), "anything")
	var gse *domain.GenerationServiceError
	if !errors.As(err, &gse) {
		t.Fatalf("expected GenerationServiceError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be wrapped")
	}
	if got != nil {
		t.Fatalf("no titles expected on service failure, got %v", got)
	}
}

func TestBreakdownUsesBreakdownPrompt(t *testing.T) {
	fc := &fakeCompleter{reply: `[{"title":"Pick registrar"},{"title":"Compare prices"}]`}
	svc := Service{Completer: fc}
	got, err := svc.Breakdown(context.Background(), "Buy domain")
	if err != nil {
		t.Fatalf("Breakdown: %v", err)
	}
	if fc.system != BreakdownPrompt || fc.user != "Buy domain" {
		t.Fatalf("unexpected request system=%q user=%q", fc.system, fc.user)
	}
	if len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestTitlesNoticeReason(t *testing.T) {
	_, notice := Titles("")
	if notice == nil || notice.Reason != "empty response" {
		t.Fatalf("unexpected notice %+v", notice)
	}
	_, notice = Titles("prose only")
	if notice == nil || notice.Reason != "response is not a JSON array" {
		t.Fatalf("unexpected notice %+v", notice)
	}
	_, notice = Titles(`[1,2]`)
	if notice == nil || notice.Reason != "no valid task objects" {
		t.Fatalf("unexpected notice %+v", notice)
	}
	titles, notice := Titles(`[{"title":"ok"}]`)
	if notice != nil || len(titles) != 1 {
		t.Fatalf("expected clean parse, got %v %+v", titles, notice)
	}
}

func TestParseTitlesLastDuplicateKeyWins(t *testing.T) {
	got, ok := ParseTitles(`[{"title":1,"title":"x"},{"title":"y","title":false},{"title":"a","title":"b"}]`)
	if !ok {
		t.Fatalf("expected array to parse")
	}
	if diff := cmp.Diff([]string{"x", "b"}, got); diff != "" {
		t.Fatalf("titles (-want +got):\n%s", diff)
	}
}

func TestTitlesKeepTextAndDropUnstorable(t *testing.T) {
	raw := "[{\"title\":\"  Buy domain \"},{\"title\":\"a\\u0000b\"},{\"title\":\"bad \xff byte\"},{\"title\":\"Deploy\"}]"
	titles, notice := Titles(raw)
	if notice != nil {
		t.Fatalf("unexpected notice %+v", notice)
	}
	if diff := cmp.Diff([]string{"  Buy domain ", "Deploy"}, titles); diff != "" {
		t.Fatalf("titles (-want +got):\n%s", diff)
	}

	titles, notice = Titles(`[{"title":"\u0000"}]`)
	if notice == nil || notice.Reason != "no valid task objects" {
		t.Fatalf("expected fallback notice, got %+v", notice)
	}
	if diff := cmp.Diff(domain.DefaultTaskTitles, titles); diff != "" {
		t.Fatalf("defaults (-want +got):\n%s", diff)
	}
}

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_UsesJSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(Options{Level: "debug", Writer: &buf, Component: "loopz"})
	lg.Debug("boot", "k", "v")

	out := strings.TrimSpace(buf.String())
	if !strings.Contains(out, `"level":"DEBUG"`) {
		t.Fatalf("expected DEBUG level, got %s", out)
	}
	if !strings.Contains(out, `"component":"loopz"`) {
		t.Fatalf("expected component field, got %s", out)
	}
}

func TestNewLogger_TextFormatAndFiltering(t *testing.T) {
	var buf bytes.Buffer
	lg := NewLogger(Options{Level: "warn", Format: "text", Writer: &buf})
	lg.Info("hidden")
	lg.Warn("shown", "reason", "empty response")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, `reason="empty response"`) {
		t.Fatalf("unexpected text output: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v, want %v", in, got, want)
		}
	}
	if ValidLevel("bogus") || !ValidLevel("Info") {
		t.Fatalf("ValidLevel mismatch")
	}
}

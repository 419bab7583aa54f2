package utils

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warning": slog.LevelWarn, "error": slog.LevelError}
	for in, want := range cases {
		got, ok := ParseLevel(in)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseLevel("verbose"); ok {
		t.Fatalf("expected verbose to be rejected")
	}
}

func TestLoggerEmitsAppErrorFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "info", true)
	logger.Error("failed", slog.Any("error", NewAppError("verify", "replay guard", errors.New("redis down"))))

	out := buf.String()
	for _, want := range []string{`"service":"hydro-verifier"`, `"op":"verify"`, `"cause":"redis down"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}

	buf.Reset()
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info level")
	}
}

func TestOpOf(t *testing.T) {
	err := errors.Join(errors.New("x"), NewAppError("train clusters", "load", nil))
	op, ok := OpOf(err)
	if !ok || op != "train clusters" {
		t.Fatalf("unexpected op %q (%v)", op, ok)
	}
	if _, ok := OpOf(errors.New("plain")); ok {
		t.Fatalf("plain error has no op")
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2026-05-01T14:00:00.125+02:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Location() != time.UTC || ts.Hour() != 12 || ts.Nanosecond() != 125_000_000 {
		t.Fatalf("unexpected timestamp %v", ts)
	}
	if _, err := ParseTimestamp(""); err == nil {
		t.Fatalf("expected error for empty value")
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for malformed value")
	}
}

func TestWindowContains(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	w := Window{Past: 24 * time.Hour, Future: 5 * time.Minute}

	if !w.Contains(now.Add(-24*time.Hour), now) {
		t.Fatalf("oldest bound should be accepted")
	}
	if w.Contains(now.Add(-24*time.Hour-time.Second), now) {
		t.Fatalf("older than window should be rejected")
	}
	if !w.Contains(now.Add(5*time.Minute), now) {
		t.Fatalf("newest bound should be accepted")
	}
	if w.Contains(now.Add(6*time.Minute), now) {
		t.Fatalf("future beyond skew should be rejected")
	}
	if w.Span() != 24*time.Hour+5*time.Minute {
		t.Fatalf("unexpected span %v", w.Span())
	}
}

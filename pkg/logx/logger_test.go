package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerWritesFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, "debug").With(String("comp", "scheduler"))
	log.Info("job registered", Int64("schedule_id", 7), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if m["message"] != "job registered" {
		t.Fatalf("message = %v, want %q", m["message"], "job registered")
	}
	if m["comp"] != "scheduler" {
		t.Fatalf("comp = %v, want scheduler", m["comp"])
	}
	if m["schedule_id"] != float64(7) {
		t.Fatalf("schedule_id = %v, want 7", m["schedule_id"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err = %v, want boom", m["err"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, "warn")
	log.Debug("hidden")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn line missing: %q", buf.String())
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var log Logger
	if !log.IsZero() {
		t.Fatalf("zero logger IsZero = false")
	}
	log.Error("nothing happens")
	log.With(String("a", "b")).Warn("still nothing")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" INFO ", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in, LevelInfo); got != tc.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	line := []byte(`{"level":"warn","time":"x","message":"delivery failed","schedule_id":3,"channel":"@c"}`)
	got := formatAlert(line)
	want := "[WARN] delivery failed\n- channel=@c\n- schedule_id=3"
	if got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}

	if got := formatAlert([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("formatAlert(plain) = %q", got)
	}
}

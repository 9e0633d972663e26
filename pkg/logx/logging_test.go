package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLoggerFieldsAndWith(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "planner"))

	log.Info("schedule updated",
		String("project", "p1"),
		Int("tasks", 3),
		Date("end", time.Date(2024, time.January, 7, 0, 0, 0, 0, time.UTC)),
		Strings("critical", []string{"a", "c"}),
		Err(errors.New("boom")),
		Err(nil),
	)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	m := lines[0]
	if m["message"] != "schedule updated" {
		t.Fatalf("message = %v", m["message"])
	}
	if m["comp"] != "planner" || m["project"] != "p1" || m["end"] != "2024-01-07" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["tasks"] != float64(3) {
		t.Fatalf("tasks = %v, want 3", m["tasks"])
	}
	if m["err"] == nil && m["error"] == nil {
		t.Fatalf("error field missing: %v", m)
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("caller missing: %v", m)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("shown")
	if got := len(decodeLines(t, &buf)); got != 1 {
		t.Fatalf("expected 1 line, got %d", got)
	}
	if log.Enabled(LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Info("nothing happens", String("k", "v"))
	log.With(Int("n", 1)).Error("still nothing")
	if Nop().IsZero() {
		t.Fatal("Nop logger is not the zero value")
	}
}

func TestValidLevel(t *testing.T) {
	for _, lvl := range []string{"", "debug", "INFO", " warn ", "Warning", "error", "trace"} {
		if !ValidLevel(lvl) {
			t.Fatalf("ValidLevel(%q) = false", lvl)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}

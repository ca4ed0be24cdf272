package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Parallel()

	var jsonOut bytes.Buffer
	newLogger(&jsonOut, "info", "json", false).Info("ws.accept", "client_id", "c1")

	var rec map[string]any
	if err := json.Unmarshal(jsonOut.Bytes(), &rec); err != nil {
		t.Fatalf("json output not parseable: %v (%q)", err, jsonOut.String())
	}
	if rec["msg"] != "ws.accept" || rec["client_id"] != "c1" {
		t.Fatalf("unexpected record: %v", rec)
	}

	var prettyOut bytes.Buffer
	newLogger(&prettyOut, "info", "pretty", false).Info("ws.accept", "client_id", "c1")
	line := prettyOut.String()
	if !strings.Contains(line, "msg=ws.accept") || !strings.Contains(line, "client_id=c1") {
		t.Fatalf("unexpected pretty line: %q", line)
	}

	var filtered bytes.Buffer
	newLogger(&filtered, "warn", "json", false).Info("dropped")
	if filtered.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", filtered.String())
	}
}

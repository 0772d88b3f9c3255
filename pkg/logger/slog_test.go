package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"": slog.LevelInfo, "DEBUG": slog.LevelDebug, "warning": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error")
	}
}

func TestInitSlog_JSONWithContextFields(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev); slogger = nil })

	var buf bytes.Buffer
	if _, err := InitSlog(Options{Level: "debug", Format: "json", Out: &buf}); err != nil {
		t.Fatal(err)
	}
	ctx := WithAgent(WithRequestID(context.Background(), "req-1"), "bob")
	WithContext(ctx).Debug("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not json: %q", buf.String())
	}
	if rec["request_id"] != "req-1" || rec["agent"] != "bob" || rec["msg"] != "hello" {
		t.Fatalf("record=%v", rec)
	}
}

func TestInitSlog_TeesToFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev); slogger = nil; _ = CloseSlog(); logFile = nil })

	dir := t.TempDir()
	var buf bytes.Buffer
	l, err := InitSlog(Options{Dir: dir, Out: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("to both")
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries=%v err=%v", entries, err)
	}
	if buf.Len() == 0 {
		t.Fatal("stdout copy missing")
	}
}

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := newLoggerWithWriter("workflow", &buf, zapcore.DebugLevel).
		With(map[string]any{"workflow_id": "wf-1", "version": "16.0.0"})

	l.Info("step completed", map[string]any{"step": "extract-tar"})

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	if entry["component"] != "workflow" {
		t.Errorf("component = %v, want workflow", entry["component"])
	}
	if entry["workflow_id"] != "wf-1" {
		t.Errorf("workflow_id = %v, want wf-1", entry["workflow_id"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["step"] != "extract-tar" {
		t.Errorf("fields = %v", entry["fields"])
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := newLoggerWithWriter("crawler", &buf, zapcore.WarnLevel)

	l.Debug("hidden", nil)
	l.Info("hidden", nil)
	l.Warn("shown", nil)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("entries below warn should be dropped: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn entry missing: %s", out)
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	l.Info("ignored", nil)
	l.Error("ignored", map[string]any{"k": "v"})
	if l.With(map[string]any{"k": "v"}) != nil {
		t.Error("With on nil logger should return nil")
	}
	if err := l.Sync(); err != nil {
		t.Errorf("Sync on nil logger: %v", err)
	}
}

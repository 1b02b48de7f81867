package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"workerhub/internal/config"
	"workerhub/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hub ready", logging.String(logging.FieldWorkerKind, "metrics"))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "workerhub.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "metrics: hub ready") {
		t.Fatalf("expected kind prefix in log line, got %q", content)
	}
	if strings.Contains(string(content), "\x1b[") {
		t.Fatalf("expected no color codes in file output, got %q", content)
	}
}

func TestConsoleLoggerOmitsSourceForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without source")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no source information in info logs, got %q", content)
	}
}

func TestJSONLoggerFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "supervisor").Info("worker started", logging.Uint64(logging.FieldCorrelationID, 7))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, content)
	}
	if entry["component"] != "supervisor" {
		t.Fatalf("expected component field, got %v", entry["component"])
	}
	if entry["level"] != "info" {
		t.Fatalf("expected lower-case level, got %v", entry["level"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

type recordingHandler struct {
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	rec := &recordingHandler{}
	logger := logging.TeeLogger(logging.NewNop(), rec)

	logging.WarnWithContext(logger, "worker fault", "worker_fault", logging.String(logging.FieldImpact, "thumbnail skipped"))

	if len(rec.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(rec.records))
	}
	got := map[string]string{}
	rec.records[0].Attrs(func(a slog.Attr) bool {
		got[a.Key] = a.Value.String()
		return true
	})
	if got[logging.FieldEventType] != "worker_fault" {
		t.Fatalf("expected event_type, got %v", got)
	}
	if got[logging.FieldImpact] != "thumbnail skipped" {
		t.Fatalf("expected caller impact preserved, got %v", got)
	}
	if got[logging.FieldErrorHint] == "" {
		t.Fatalf("expected default error hint, got %v", got)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	rec := &recordingHandler{}
	ctx := logging.WithWorkerKind(context.Background(), "search")
	ctx = logging.WithSessionID(ctx, "abc")

	fields := logging.ContextFields(ctx)
	if len(fields) != 2 {
		t.Fatalf("expected 2 context fields, got %v", fields)
	}
	logging.WithContext(ctx, slog.New(rec)).Info("hello")
	if len(rec.records) != 1 {
		t.Fatalf("expected record, got %d", len(rec.records))
	}
}

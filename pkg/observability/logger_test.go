package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/platinummonkey/gantry/pkg/contextkeys"
)

// parseLogLine unmarshals a single slog JSON line into a map
func parseLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to unmarshal log entry %q: %v", buf.String(), err)
	}
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		if buf.Len() > 0 {
			t.Error("Debug message should not be logged at Info level")
		}
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		if buf.Len() == 0 {
			t.Fatal("Info message should be logged at Info level")
		}

		entry := parseLogLine(t, &buf)
		if entry["level"] != "INFO" {
			t.Errorf("Expected level INFO, got %v", entry["level"])
		}
		if entry["msg"] != "info message" {
			t.Errorf("Expected message 'info message', got %v", entry["msg"])
		}
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warn("warn message")
		if buf.Len() == 0 {
			t.Error("Warn message should be logged at Info level")
		}
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")
		if buf.Len() == 0 {
			t.Fatal("Error message should be logged at Info level")
		}

		entry := parseLogLine(t, &buf)
		if entry["level"] != "ERROR" {
			t.Errorf("Expected level ERROR, got %v", entry["level"])
		}
	})

	t.Run("debug logged at debug level", func(t *testing.T) {
		var debugBuf bytes.Buffer
		debugLogger := NewLogger(DebugLevel, &debugBuf)
		debugLogger.Debug("debug message")
		if debugBuf.Len() == 0 {
			t.Error("Debug message should be logged at Debug level")
		}
	})
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("node_id", "team-a").Info("message")

	entry := parseLogLine(t, &buf)
	if entry["node_id"] != "team-a" {
		t.Errorf("Expected field 'node_id' to be 'team-a', got %v", entry["node_id"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	fields := map[string]interface{}{
		"idempotency_key": "prov-42",
		"version":         7,
	}
	logger.WithFields(fields).Info("message")

	entry := parseLogLine(t, &buf)
	if entry["idempotency_key"] != "prov-42" {
		t.Errorf("Expected field 'idempotency_key' to be 'prov-42', got %v", entry["idempotency_key"])
	}
	if entry["version"] != float64(7) {
		t.Errorf("Expected field 'version' to be 7, got %v", entry["version"])
	}
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(errors.New("lock lost")).Error("provisioning step failed")

	entry := parseLogLine(t, &buf)
	if entry["error"] != "lock lost" {
		t.Errorf("Expected field 'error' to be 'lock lost', got %v", entry["error"])
	}
}

func TestLogger_WithErrorNil(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithError(nil).Info("no error")

	entry := parseLogLine(t, &buf)
	if _, ok := entry["error"]; ok {
		t.Error("Expected no 'error' field for nil error")
	}
}

func TestLogger_Formatted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Infof("resolved %d fragments for %s", 3, "team-a")

	entry := parseLogLine(t, &buf)
	if entry["msg"] != "resolved 3 fragments for team-a" {
		t.Errorf("Unexpected formatted message: %v", entry["msg"])
	}
}

func TestLogger_ChainedFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("a", "1").WithField("b", "2").Info("chained")

	entry := parseLogLine(t, &buf)
	if entry["a"] != "1" || entry["b"] != "2" {
		t.Errorf("Expected both chained fields, got %v", entry)
	}
}

func TestLogger_FieldsDoNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(InfoLevel, &buf)
	parent.WithField("child_only", "x")

	parent.Info("parent message")

	entry := parseLogLine(t, &buf)
	if _, ok := entry["child_only"]; ok {
		t.Error("WithField must not mutate the parent logger")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"", InfoLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level LogLevel
		want  string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestFromContext(t *testing.T) {
	t.Run("enriches with request id and actor", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)

		ctx := WithLogger(context.Background(), logger)
		ctx = contextkeys.WithRequestID(ctx, "req-123")
		ctx = contextkeys.WithActor(ctx, "tok-abc")

		FromContext(ctx).Info("handling request")

		entry := parseLogLine(t, &buf)
		if entry["request_id"] != "req-123" {
			t.Errorf("Expected request_id 'req-123', got %v", entry["request_id"])
		}
		if entry["actor"] != "tok-abc" {
			t.Errorf("Expected actor 'tok-abc', got %v", entry["actor"])
		}
	})

	t.Run("returns context logger without enrichment when keys absent", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(InfoLevel, &buf)

		ctx := WithLogger(context.Background(), logger)
		FromContext(ctx).Info("bare")

		entry := parseLogLine(t, &buf)
		if _, ok := entry["request_id"]; ok {
			t.Error("Expected no request_id field")
		}
		if _, ok := entry["actor"]; ok {
			t.Error("Expected no actor field")
		}
	})

	t.Run("falls back to default logger when context empty", func(t *testing.T) {
		logger := FromContext(context.Background())
		if logger == nil {
			t.Fatal("FromContext returned nil")
		}
	})
}

func TestGetLogger_Fallback(t *testing.T) {
	logger := GetLogger(context.Background())
	if logger == nil {
		t.Fatal("GetLogger returned nil for empty context")
	}
}

package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerIncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	ctx := WithRequestID(context.Background(), "req-42")
	ctx = WithUserID(ctx, "user-7")
	logger.Info(ctx, "query started", "top_k", 5)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if record["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want req-42", record["request_id"])
	}
	if record["user_id"] != "user-7" {
		t.Errorf("user_id = %v, want user-7", record["user_id"])
	}
	if record["msg"] != "query started" {
		t.Errorf("msg = %v", record["msg"])
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "text", Output: &buf})

	logger.Info(context.Background(), "connecting", "detail", "api_key=sk1234567890abcdefghij")

	out := buf.String()
	if strings.Contains(out, "sk1234567890abcdefghij") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in output: %s", out)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Debug(context.Background(), "noise")
	logger.Info(context.Background(), "noise")
	if buf.Len() != 0 {
		t.Errorf("below-level logs should be dropped, got: %s", buf.String())
	}

	logger.Warn(context.Background(), "signal")
	if !strings.Contains(buf.String(), "signal") {
		t.Errorf("warn log missing: %s", buf.String())
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" {
		t.Error("empty context should have no request id")
	}
	ctx = WithRequestID(ctx, "abc")
	if got := RequestID(ctx); got != "abc" {
		t.Errorf("RequestID = %q, want abc", got)
	}
}

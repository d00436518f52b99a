package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/wyfcoding/cqbus/contextx"
)

func TestTraceHandlerInjectsRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewFromConfig(Config{Service: "svc", Module: "uow", Level: "info", Output: &buf})

	ctx := contextx.WithRequestID(context.Background(), "req-1")
	l.With("uow", "default").InfoContext(ctx, "transaction committed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	for key, want := range map[string]string{
		"request_id": "req-1",
		"service":    "svc",
		"module":     "uow",
		"uow":        "default",
		"msg":        "transaction committed",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("time key not renamed")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewFromConfig(Config{Level: "info", Format: "text", Output: &buf})
	t.Cleanup(func() { SetLevel("info") })

	l.Debug("hidden")
	SetLevel("debug")
	l.Debug("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("output = %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"WARN":    "WARN",
		"error":   "ERROR",
		"info":    "INFO",
		"verbose": "INFO",
	}
	for in, want := range tests {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

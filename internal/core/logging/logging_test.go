package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"info json", "info", "json", false},
		{"debug text", "DEBUG", "text", false},
		{"default format", "warn", "", false},
		{"bad level", "loud", "json", true},
		{"bad format", "info", "xml", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&bytes.Buffer{}, tt.level, tt.format)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestComponent_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", "json")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	Component(logger, "dispatcher").WithField("subscriber", "s1").Info("delivered")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v: %s", err, buf.String())
	}
	if entry["component"] != "dispatcher" || entry["subscriber"] != "s1" || entry["msg"] != "delivered" {
		t.Errorf("entry = %v", entry)
	}
}

func TestWithTrace_NoSpan(t *testing.T) {
	entry := Component(nil, "source")
	if got := WithTrace(context.Background(), entry); got != entry {
		t.Error("WithTrace() without a span returned a new entry")
	}
	if _, ok := entry.Data["trace_id"]; ok {
		t.Error("trace_id set without a span")
	}
}

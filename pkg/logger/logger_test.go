package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.Named("scanner").Info("Fetched audio batch", Int("count", 3), String("airport", "KPHX"))
	_ = log.Sync()

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "Fetched audio batch" {
		t.Errorf("expected msg %q, got %v", "Fetched audio batch", entry["msg"])
	}
	if entry["logger"] != "scanner" {
		t.Errorf("expected logger name scanner, got %v", entry["logger"])
	}
	if entry["count"] != float64(3) {
		t.Errorf("expected count 3, got %v", entry["count"])
	}
	if _, ok := entry["caller"]; ok {
		t.Errorf("caller should be omitted above debug level")
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	log.Info("hidden")
	log.Warn("shown")
	_ = log.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info entry should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn entry missing: %q", out)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Level: "verbose", Format: "json"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(Config{Level: "info", Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestFixedWidthNameEncoder(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "info", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	log.Named("api").Named("websocket-relay-hub").Info("hello")
	_ = log.Sync()

	if !strings.Contains(buf.String(), "websocket-relay") {
		t.Errorf("expected truncated name in output, got %q", buf.String())
	}
}

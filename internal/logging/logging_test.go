package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestProductionLogsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "production")
	logger.Info("hello")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("production output is not JSON: %v (%q)", err, buf.String())
	}
	if record["service"] != "earn-bot" {
		t.Fatalf("service attr = %v", record["service"])
	}
}

func TestDevelopmentLogsText(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "development")
	logger.Info("hello")

	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("development output looks like JSON: %q", out)
	}
	if !strings.Contains(out, "service=earn-bot") {
		t.Fatalf("service attr missing: %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "development")

	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn dropped at warn level")
	}
}

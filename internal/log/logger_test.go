package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/bodega/internal/errors"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("json") != FormatJSON {
		t.Error("expected json format")
	}
	if ParseFormat("console") != FormatText {
		t.Error("expected text format as fallback")
	}
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})

	logger.Component("session").Info("session authenticated", "role", "SuperAdmin")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}

	if entry["msg"] != "session authenticated" {
		t.Errorf("unexpected msg: %v", entry["msg"])
	}
	if entry["component"] != "session" {
		t.Errorf("expected component attribute, got %v", entry["component"])
	}
	if entry["role"] != "SuperAdmin" {
		t.Errorf("expected role attribute, got %v", entry["role"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Format: FormatText, Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn entry should be written")
	}
}

func TestWithErrorExpandsBodegaError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})

	err := fmt.Errorf("fetch: %w", errors.NewAuthExpiredError("/auth/me"))
	logger.WithError(err).Warn("request rejected")

	var entry map[string]any
	if jerr := json.Unmarshal(buf.Bytes(), &entry); jerr != nil {
		t.Fatalf("failed to parse log output: %v", jerr)
	}

	if entry["error_code"] != "AUTH-002" {
		t.Errorf("expected error_code AUTH-002, got %v", entry["error_code"])
	}
	if entry["status"] != float64(401) {
		t.Errorf("expected status 401, got %v", entry["status"])
	}
}

func TestWithErrorPlain(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Format: FormatJSON, Output: &buf})

	logger.WithError(fmt.Errorf("boom")).Error("failed")

	if !strings.Contains(buf.String(), `"error":"boom"`) {
		t.Errorf("expected plain error attribute, got %s", buf.String())
	}
}

func TestNopDiscards(t *testing.T) {
	logger := Nop()
	logger.Error("nothing to see")
	if logger.Config().Output == nil {
		t.Error("nop logger should have a writer")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bodega.log")

	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	logger := New(Config{Level: LevelInfo, Output: f})
	logger.Info("written to file")
}

func TestDefaultLogger(t *testing.T) {
	SetDefaultLogger(nil)
	if DefaultLogger() == nil {
		t.Fatal("expected lazily created default logger")
	}

	custom := Nop()
	SetDefaultLogger(custom)
	if DefaultLogger() != custom {
		t.Error("expected custom default logger")
	}
}

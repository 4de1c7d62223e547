// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
)

// resetGlobal resets the global logger so each test can Init fresh.
func resetGlobal() {
	global = nil
	once = *new(sync.Once)
}

// TestInit verifies logger initialization.
func TestInit(t *testing.T) {
	resetGlobal()

	var buf bytes.Buffer
	Init(&buf, LevelInfo)

	logger := Get()
	if logger == nil {
		t.Fatal("Get() returned nil after Init()")
	}

	if logger.out != &buf {
		t.Error("Init() did not set output writer correctly")
	}

	if logger.minLevel != LevelInfo {
		t.Errorf("minLevel = %v, want LevelInfo", logger.minLevel)
	}
}

// TestInit_idempotent verifies Init is idempotent.
func TestInit_idempotent(t *testing.T) {
	resetGlobal()

	var buf1 bytes.Buffer
	Init(&buf1, LevelInfo)
	firstLogger := Get()

	// Second init with different parameters should be ignored
	var buf2 bytes.Buffer
	Init(&buf2, LevelDebug)

	if Get() != firstLogger {
		t.Error("Second Init() should be ignored, different logger returned")
	}
}

// TestLevelFiltering verifies messages below the minimum level are dropped.
func TestLevelFiltering(t *testing.T) {
	resetGlobal()

	var buf bytes.Buffer
	Init(&buf, LevelWarn)

	Debug("debug message")
	Info("info message")
	Warn("warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("levels below WARN should be filtered, got %q", out)
	}
	if !strings.Contains(out, "warn message") {
		t.Errorf("WARN message missing from output %q", out)
	}
}

// TestStructuredOutput verifies entries are valid JSON with context fields.
func TestStructuredOutput(t *testing.T) {
	resetGlobal()

	var buf bytes.Buffer
	Init(&buf, LevelDebug)

	Error("persist failed", errors.New("db locked"), map[string]interface{}{
		"conflict_id": "abc-123",
	})

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if entry.Level != string(LevelError) {
		t.Errorf("Level = %q, want ERROR", entry.Level)
	}
	if entry.Message != "persist failed" {
		t.Errorf("Message = %q", entry.Message)
	}
	if entry.Error != "db locked" {
		t.Errorf("Error = %q, want db locked", entry.Error)
	}
	if entry.Context["conflict_id"] != "abc-123" {
		t.Errorf("Context = %v, want conflict_id abc-123", entry.Context)
	}
}

// TestParseLevel verifies config string to level mapping.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"nonsense", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

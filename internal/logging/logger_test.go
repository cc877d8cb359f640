package logging

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestInitWritesLogFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "slowpokefs.log")

	if err := Init(&Config{Level: "info", Format: "json", File: logFile, NoColor: true}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	With(String("mount_id", "abc")).Info("mounted")
	Debug("filtered out")
	_ = Sync()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"message":"mounted"`) || !strings.Contains(out, `"mount_id":"abc"`) {
		t.Errorf("log file missing entry: %s", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Error("debug entry should be filtered at info level")
	}
}

func TestStdLogIsRedirected(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "std.log")
	if err := Init(&Config{Level: "warn", Format: "json", File: logFile, NoColor: true}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	log.Printf("writer: short read")
	_ = Sync()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"source":"stdlib"`) {
		t.Errorf("stdlib line not forwarded: %s", data)
	}
}

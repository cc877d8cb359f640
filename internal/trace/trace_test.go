package trace

import (
	"bytes"
	"strings"
	"testing"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		args     []any
		expected string
	}{
		{"no args", "statfs", nil, "statfs()"},
		{"path", "getattr", []any{"/a.txt"}, "getattr(/a.txt)"},
		{"numbers", "read", []any{"/a.txt", 4096, int64(0)}, "read(/a.txt, 4096, 0)"},
		{"octal", "mkdir", []any{"/d", Octal(0755)}, "mkdir(/d, 0755)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.op, tt.args...); got != tt.expected {
				t.Errorf("Format() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEmitter_WritesLines(t *testing.T) {
	var buf bytes.Buffer
	e := New(true, &buf)

	e.Trace("getattr", "/")
	e.Trace("open", "/f", Octal(0))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[0], "getattr(/)") {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "open(/f, 0)") {
		t.Errorf("unexpected second line %q", lines[1])
	}
}

func TestEmitter_Disabled(t *testing.T) {
	var buf bytes.Buffer
	e := New(false, &buf)
	e.Trace("getattr", "/")

	if buf.Len() != 0 {
		t.Errorf("disabled emitter wrote %q", buf.String())
	}
	if e.Enabled() {
		t.Error("Enabled() should be false")
	}

	var nilEmitter *Emitter
	nilEmitter.Trace("getattr", "/")
	if err := nilEmitter.Sync(); err != nil {
		t.Errorf("Sync() on nil emitter = %v", err)
	}
}

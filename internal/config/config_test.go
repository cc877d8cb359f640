package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Delay.MinMs != 2000 {
		t.Errorf("expected min delay 2000, got %d", cfg.Delay.MinMs)
	}
	if cfg.Delay.MaxMs != 5000 {
		t.Errorf("expected max delay 5000, got %d", cfg.Delay.MaxMs)
	}
	if !cfg.Delay.Read || !cfg.Delay.Write {
		t.Error("expected both delay classes enabled by default")
	}
	if cfg.Trace.Debug {
		t.Error("expected tracing off by default")
	}
	if cfg.Control.Enabled {
		t.Error("expected control endpoint off by default")
	}
}

func TestLoadConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configContent := `
mount:
  root_dir: "/srv/data"
  mount_point: "/mnt/slow"
  single_threaded: true
  attr_timeout: "5s"
  max_handles: 128
delay:
  min_ms: 10
  max_ms: 20
  write: false
  rules:
    - pattern: "/logs/"
      type: directory
      priority: 10
      min_ms: 0
      max_ms: 1
      read: true
trace:
  debug: true
logging:
  level: "debug"
  file: "/var/log/slowpokefs.log"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Mount.RootDir != "/srv/data" {
		t.Errorf("expected root /srv/data, got %s", cfg.Mount.RootDir)
	}
	if cfg.Mount.MountPoint != "/mnt/slow" {
		t.Errorf("expected mount point /mnt/slow, got %s", cfg.Mount.MountPoint)
	}
	if !cfg.Mount.SingleThreaded {
		t.Error("expected single_threaded true")
	}
	if cfg.Mount.MaxHandles != 128 {
		t.Errorf("expected max_handles 128, got %d", cfg.Mount.MaxHandles)
	}
	if cfg.Delay.MinMs != 10 || cfg.Delay.MaxMs != 20 {
		t.Errorf("expected delay 10..20, got %d..%d", cfg.Delay.MinMs, cfg.Delay.MaxMs)
	}
	if !cfg.Delay.Read {
		t.Error("read toggle should keep its default")
	}
	if cfg.Delay.Write {
		t.Error("expected write toggle off")
	}
	if len(cfg.Delay.Rules) != 1 || cfg.Delay.Rules[0].Type != types.PatternDirectory {
		t.Fatalf("unexpected rules: %+v", cfg.Delay.Rules)
	}
	if !cfg.Delay.Rules[0].Read || cfg.Delay.Rules[0].Write {
		t.Errorf("unexpected rule toggles: %+v", cfg.Delay.Rules[0])
	}
	if !cfg.Trace.Debug {
		t.Error("expected trace debug true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected default log format text, got %s", cfg.Logging.Format)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configPath, []byte("delay: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("Load should fail on malformed YAML")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("/nonexistent/path.yaml")
	if err != nil {
		t.Fatalf("LoadOrDefault should not error for non-existent file: %v", err)
	}
	if cfg.Delay.MaxMs != 5000 {
		t.Errorf("expected default max delay 5000, got %d", cfg.Delay.MaxMs)
	}

	cfg, err = LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault should not error for empty path: %v", err)
	}
	if cfg.Mount.FsName != "slowpokefs" {
		t.Errorf("expected default fs name slowpokefs, got %s", cfg.Mount.FsName)
	}
}

func TestResolveRoot(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}

	tests := []struct {
		root     string
		expected string
	}{
		{"/srv/data/", "/srv/data"},
		{"/srv/data///", "/srv/data"},
		{"/", "/"},
		{"data", filepath.Join(wd, "data")},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.root, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mount.RootDir = tt.root
			if err := cfg.ResolveRoot(); err != nil {
				t.Fatalf("ResolveRoot() error = %v", err)
			}
			if cfg.Mount.RootDir != tt.expected {
				t.Errorf("ResolveRoot(%q) = %q, want %q", tt.root, cfg.Mount.RootDir, tt.expected)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	root := t.TempDir()

	cfg := DefaultConfig()
	cfg.Mount.RootDir = root
	cfg.Mount.MountPoint = "/mnt/slow"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	cfg.Delay.MinMs, cfg.Delay.MaxMs = 10, 5
	if err := cfg.Validate(); !errors.Is(err, types.ErrInvalidDelayRange) {
		t.Errorf("expected ErrInvalidDelayRange, got %v", err)
	}

	cfg.Delay.MinMs, cfg.Delay.MaxMs = 0, 0
	cfg.Mount.MountPoint = ""
	if err := cfg.Validate(); !errors.Is(err, types.ErrInvalidMountPoint) {
		t.Errorf("expected ErrInvalidMountPoint, got %v", err)
	}

	cfg.Mount.MountPoint = "/mnt/slow"
	cfg.Control.Enabled = true
	cfg.Control.HTTPSocket = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for control endpoint without socket")
	}
}

func TestMountOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mount.RootDir = "/srv"
	cfg.Mount.MaxHandles = 7
	cfg.Trace.Debug = true
	cfg.Delay.Write = false
	cfg.Delay.Rules = []types.DelayRule{{Pattern: "/x", Type: types.PatternFile}}

	opts := cfg.MountOptions()
	if opts.RootDir != "/srv" || opts.MinDelay != 2000 || opts.MaxDelay != 5000 {
		t.Errorf("unexpected mount options: %+v", opts)
	}
	if !opts.Debug || !opts.ReadDelay || opts.WriteDelay || opts.MaxHandles != 7 {
		t.Errorf("unexpected toggles: %+v", opts)
	}

	cfg.Delay.Rules[0].Pattern = "/changed"
	if opts.Rules[0].Pattern != "/x" {
		t.Error("MountOptions should copy the rules")
	}
}

func TestMountConfigDurations(t *testing.T) {
	cfg := &MountConfig{
		EntryTimeout: "250ms",
		AttrTimeout:  "2s",
	}

	if cfg.GetEntryTimeout() != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.GetEntryTimeout())
	}
	if cfg.GetAttrTimeout() != 2*time.Second {
		t.Errorf("expected 2s, got %v", cfg.GetAttrTimeout())
	}

	cfg.AttrTimeout = "invalid"
	if cfg.GetAttrTimeout() != time.Second {
		t.Errorf("expected fallback 1s, got %v", cfg.GetAttrTimeout())
	}
}

// Package config provides configuration management for slowpokefs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// Config represents the complete configuration of one mount process.
type Config struct {
	Mount   MountConfig   `yaml:"mount"`
	Delay   DelayConfig   `yaml:"delay"`
	Trace   TraceConfig   `yaml:"trace"`
	Logging LoggingConfig `yaml:"logging"`
	Control ControlConfig `yaml:"control"`
}

// MountConfig holds the directories and FUSE session options.
type MountConfig struct {
	RootDir        string `yaml:"root_dir"`
	MountPoint     string `yaml:"mount_point"`
	SingleThreaded bool   `yaml:"single_threaded"`
	AllowOther     bool   `yaml:"allow_other"`
	FsName         string `yaml:"fs_name"`
	EntryTimeout   string `yaml:"entry_timeout"`
	AttrTimeout    string `yaml:"attr_timeout"`
	MaxHandles     int    `yaml:"max_handles"`
}

// DelayConfig holds the injected latency range and class toggles.
type DelayConfig struct {
	MinMs int64             `yaml:"min_ms"`
	MaxMs int64             `yaml:"max_ms"`
	Read  bool              `yaml:"read"`
	Write bool              `yaml:"write"`
	Rules []types.DelayRule `yaml:"rules"`
}

// TraceConfig controls per-operation tracing.
type TraceConfig struct {
	Debug bool `yaml:"debug"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	File    string `yaml:"file"`
	NoColor bool   `yaml:"no_color"`
}

// ControlConfig holds the optional health and metrics endpoint.
type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`
	GRPCSocket string `yaml:"grpc_socket"`
	HTTPSocket string `yaml:"http_socket"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Mount: MountConfig{
			FsName:       "slowpokefs",
			EntryTimeout: "1s",
			AttrTimeout:  "1s",
		},
		Delay: DelayConfig{
			MinMs: 2000,
			MaxMs: 5000,
			Read:  true,
			Write: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Control: ControlConfig{
			GRPCSocket: "/tmp/slowpokefs/control.sock",
			HTTPSocket: "/tmp/slowpokefs/http.sock",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file, or returns default if file doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ResolveRoot makes the root directory absolute against the working
// directory and strips trailing slashes.
func (c *Config) ResolveRoot() error {
	root := c.Mount.RootDir
	if root == "" {
		return nil
	}
	if !filepath.IsAbs(root) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve root directory: %w", err)
		}
		root = filepath.Join(wd, root)
	}
	if trimmed := strings.TrimRight(root, "/"); trimmed != "" {
		root = trimmed
	}
	c.Mount.RootDir = root
	return nil
}

// MountOptions converts the configuration into the immutable per-mount record.
func (c *Config) MountOptions() *types.MountConfig {
	rules := make([]types.DelayRule, len(c.Delay.Rules))
	copy(rules, c.Delay.Rules)
	return &types.MountConfig{
		RootDir:    c.Mount.RootDir,
		MinDelay:   c.Delay.MinMs,
		MaxDelay:   c.Delay.MaxMs,
		Debug:      c.Trace.Debug,
		ReadDelay:  c.Delay.Read,
		WriteDelay: c.Delay.Write,
		MaxHandles: c.Mount.MaxHandles,
		Rules:      rules,
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if err := c.MountOptions().Validate(); err != nil {
		return err
	}
	if c.Mount.MountPoint == "" {
		return types.ErrInvalidMountPoint
	}
	if c.Control.Enabled && (c.Control.GRPCSocket == "" || c.Control.HTTPSocket == "") {
		return fmt.Errorf("control endpoint enabled without socket paths")
	}
	return nil
}

// GetEntryTimeout returns the kernel entry cache timeout as a time.Duration.
func (c *MountConfig) GetEntryTimeout() time.Duration {
	d, err := time.ParseDuration(c.EntryTimeout)
	if err != nil {
		return time.Second
	}
	return d
}

// GetAttrTimeout returns the kernel attribute cache timeout as a time.Duration.
func (c *MountConfig) GetAttrTimeout() time.Duration {
	d, err := time.ParseDuration(c.AttrTimeout)
	if err != nil {
		return time.Second
	}
	return d
}

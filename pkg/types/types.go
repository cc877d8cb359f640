// Package types defines the core domain types for slowpokefs.
package types

import (
	"fmt"
	"os"
	"path/filepath"
)

// OpClass groups filesystem operations by the latency policy applied to them.
type OpClass int

const (
	ClassRead  OpClass = iota // getattr, open, read, readdir, readlink, ...
	ClassWrite                // create, write, mkdir, rename, chmod, ...
)

// String returns the lowercase name of the class.
func (c OpClass) String() string {
	switch c {
	case ClassRead:
		return "read"
	case ClassWrite:
		return "write"
	default:
		return "unknown"
	}
}

// PatternType indicates how a delay rule pattern should be matched.
type PatternType string

const (
	PatternGlob      PatternType = "glob"      // e.g., *.log, /data/**
	PatternDirectory PatternType = "directory" // e.g., /cache/
	PatternFile      PatternType = "file"      // e.g., /db.sqlite (highest priority)
)

// DelayRule overrides the global delay range and class toggles for matching paths.
type DelayRule struct {
	Pattern  string      `yaml:"pattern"`
	Type     PatternType `yaml:"type"`
	Priority int         `yaml:"priority"`
	MinDelay int64       `yaml:"min_ms"`
	MaxDelay int64       `yaml:"max_ms"`
	Read     bool        `yaml:"read"`
	Write    bool        `yaml:"write"`
}

// Enabled reports whether the rule delays operations of the given class.
func (r DelayRule) Enabled(class OpClass) bool {
	if class == ClassWrite {
		return r.Write
	}
	return r.Read
}

// MountConfig is the immutable configuration of one mount.
// It is built once at startup and shared read-only with every handler.
type MountConfig struct {
	RootDir    string      // absolute path of the real directory
	MinDelay   int64       // milliseconds, >= 0
	MaxDelay   int64       // milliseconds, >= MinDelay
	Debug      bool        // trace every operation to stderr
	ReadDelay  bool        // delay read-class operations
	WriteDelay bool        // delay write-class operations
	MaxHandles int         // 0 means unlimited
	Rules      []DelayRule // optional per-path overrides
}

// DelayEnabled reports whether the global toggle for class is on.
func (c *MountConfig) DelayEnabled(class OpClass) bool {
	if class == ClassWrite {
		return c.WriteDelay
	}
	return c.ReadDelay
}

// Validate returns an error unless the root is an existing directory and
// every delay range and rule is well formed.
func (c *MountConfig) Validate() error {
	if c.RootDir == "" {
		return ErrInvalidRootDir
	}
	if !filepath.IsAbs(c.RootDir) {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidRootDir, c.RootDir)
	}
	info, err := os.Stat(c.RootDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRootDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %q is not a directory", ErrInvalidRootDir, c.RootDir)
	}
	if err := validateRange(c.MinDelay, c.MaxDelay); err != nil {
		return err
	}
	if c.MaxHandles < 0 {
		return fmt.Errorf("max handles must not be negative, got %d", c.MaxHandles)
	}
	for _, r := range c.Rules {
		if r.Pattern == "" {
			return fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
		}
		switch r.Type {
		case PatternGlob, PatternDirectory, PatternFile:
		default:
			return fmt.Errorf("%w: unknown type %q for %s", ErrInvalidPattern, r.Type, r.Pattern)
		}
		if err := validateRange(r.MinDelay, r.MaxDelay); err != nil {
			return fmt.Errorf("rule %s: %w", r.Pattern, err)
		}
	}
	return nil
}

func validateRange(min, max int64) error {
	if min < 0 || max < 0 {
		return fmt.Errorf("%w: delays must not be negative (min=%d, max=%d)", ErrInvalidDelayRange, min, max)
	}
	if min > max {
		return fmt.Errorf("%w: minimum %dms is larger than maximum %dms", ErrInvalidDelayRange, min, max)
	}
	return nil
}

package latency

import (
	"testing"

	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

func TestRuleSet_FilePattern(t *testing.T) {
	rs := NewRuleSet([]types.DelayRule{
		{Pattern: "/db.sqlite", Type: types.PatternFile, Priority: 10, MaxDelay: 1},
		{Pattern: "/**", Type: types.PatternGlob, Priority: 1, MaxDelay: 2},
	})

	tests := []struct {
		path     string
		expected int64
	}{
		{"/db.sqlite", 1},
		{"/other.sqlite", 2},
		{"/some/path/db.sqlite", 2},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r, ok := rs.Match(tt.path)
			if !ok {
				t.Fatalf("Match(%q) found no rule", tt.path)
			}
			if r.MaxDelay != tt.expected {
				t.Errorf("Match(%q) picked rule %q", tt.path, r.Pattern)
			}
		})
	}
}

func TestRuleSet_DirectoryPattern(t *testing.T) {
	rs := NewRuleSet([]types.DelayRule{
		{Pattern: "/cache/", Type: types.PatternDirectory, Priority: 10},
	})

	tests := []struct {
		path    string
		matched bool
	}{
		{"/cache", true},
		{"/cache/", true},
		{"/cache/item", true},
		{"/cache/sub/item", true},
		{"/cachet", false},
		{"/other/cache/item", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if _, ok := rs.Match(tt.path); ok != tt.matched {
				t.Errorf("Match(%q) = %v, want %v", tt.path, ok, tt.matched)
			}
		})
	}
}

func TestRuleSet_GlobPattern(t *testing.T) {
	rs := NewRuleSet([]types.DelayRule{
		{Pattern: "*.md", Type: types.PatternGlob, Priority: 5, MaxDelay: 1},
		{Pattern: "**/*.log", Type: types.PatternGlob, Priority: 5, MaxDelay: 2},
		{Pattern: "/data/**", Type: types.PatternGlob, Priority: 5, MaxDelay: 3},
	})

	tests := []struct {
		path     string
		expected int64 // 0 means no match
	}{
		{"/readme.md", 1},
		{"/docs/guide.md", 0},
		{"/app.log", 2},
		{"/var/log/app.log", 2},
		{"/data", 3},
		{"/data/a/b", 3},
		{"/database", 0},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r, ok := rs.Match(tt.path)
			var got int64
			if ok {
				got = r.MaxDelay
			}
			if got != tt.expected {
				t.Errorf("Match(%q) = %d, want %d", tt.path, got, tt.expected)
			}
		})
	}
}

func TestRuleSet_Priority(t *testing.T) {
	rs := NewRuleSet([]types.DelayRule{
		{Pattern: "/**", Type: types.PatternGlob, Priority: 1, MaxDelay: 1},
		{Pattern: "/data/", Type: types.PatternDirectory, Priority: 10, MaxDelay: 2},
		{Pattern: "/data/hot.bin", Type: types.PatternFile, Priority: 100, MaxDelay: 3},
	})

	tests := []struct {
		path     string
		expected int64
	}{
		{"/data/cold.bin", 2},
		{"/data/hot.bin", 3},
		{"/elsewhere", 1},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r, _ := rs.Match(tt.path)
			if r.MaxDelay != tt.expected {
				t.Errorf("Match(%q) picked %q", tt.path, r.Pattern)
			}
		})
	}
}

func TestRuleSet_SamePriorityPrefersFile(t *testing.T) {
	rs := NewRuleSet([]types.DelayRule{
		{Pattern: "/data/**", Type: types.PatternGlob, MaxDelay: 1},
		{Pattern: "/data/", Type: types.PatternDirectory, MaxDelay: 2},
		{Pattern: "/data/x", Type: types.PatternFile, MaxDelay: 3},
	})

	if r, _ := rs.Match("/data/x"); r.MaxDelay != 3 {
		t.Errorf("file rule should win, got %q", r.Pattern)
	}
	if r, _ := rs.Match("/data/y"); r.MaxDelay != 2 {
		t.Errorf("directory rule should win over glob, got %q", r.Pattern)
	}
}

func TestRuleSet_PathNormalization(t *testing.T) {
	rs := NewRuleSet([]types.DelayRule{
		{Pattern: "/docs/readme.md", Type: types.PatternFile},
	})

	for _, p := range []string{"/docs/readme.md", "docs/readme.md", "/docs//readme.md", "/docs/./readme.md"} {
		t.Run(p, func(t *testing.T) {
			if _, ok := rs.Match(p); !ok {
				t.Errorf("Match(%q) should find the rule", p)
			}
		})
	}
}

func TestRuleSet_Empty(t *testing.T) {
	rs := NewRuleSet(nil)
	if _, ok := rs.Match("/any/path"); ok {
		t.Error("empty rule set should not match")
	}
	if rs.Len() != 0 {
		t.Errorf("Len() = %d, want 0", rs.Len())
	}
}

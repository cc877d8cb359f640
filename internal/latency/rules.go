package latency

import (
	"path"
	"sort"
	"strings"

	"github.com/ajaxzhan/slowpokefs/pkg/types"
)

// RuleSet selects the delay rule governing a virtual path.
type RuleSet struct {
	rules []types.DelayRule
}

// NewRuleSet copies rules and orders them for first-match lookup.
func NewRuleSet(rules []types.DelayRule) *RuleSet {
	rs := &RuleSet{rules: make([]types.DelayRule, len(rules))}
	copy(rs.rules, rules)

	// Higher priority first. Ties go to file > directory > glob, then to the
	// more specific pattern.
	sort.SliceStable(rs.rules, func(i, j int) bool {
		a, b := rs.rules[i], rs.rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if ta, tb := typeRank(a.Type), typeRank(b.Type); ta != tb {
			return ta > tb
		}
		return specificity(a.Pattern) > specificity(b.Pattern)
	})
	return rs
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Match returns the first rule matching p.
func (rs *RuleSet) Match(p string) (types.DelayRule, bool) {
	if len(rs.rules) == 0 {
		return types.DelayRule{}, false
	}
	p = normalize(p)
	for _, r := range rs.rules {
		if matches(r, p) {
			return r, true
		}
	}
	return types.DelayRule{}, false
}

func typeRank(t types.PatternType) int {
	switch t {
	case types.PatternFile:
		return 3
	case types.PatternDirectory:
		return 2
	case types.PatternGlob:
		return 1
	default:
		return 0
	}
}

// specificity scores a pattern; larger scores are tried first.
func specificity(pattern string) int {
	score := 0
	if strings.HasPrefix(pattern, "/") {
		score += 100
	}
	if !strings.HasPrefix(pattern, "**") {
		score += 50
	}
	if idx := strings.Index(pattern, "**"); idx > 0 {
		score += idx
	}
	if !strings.Contains(pattern, "*") {
		score += 200
	}
	return score
}

func matches(r types.DelayRule, p string) bool {
	pattern := normalize(r.Pattern)

	switch r.Type {
	case types.PatternFile:
		return p == pattern

	case types.PatternDirectory:
		if pattern == "/" {
			return true
		}
		return p == pattern || strings.HasPrefix(p, pattern+"/")

	case types.PatternGlob:
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
		if strings.Contains(pattern, "**") {
			return matchDoubleStar(pattern, p)
		}
		return false
	}
	return false
}

// matchDoubleStar handles patterns such as "/**/*.log" and "/cache/**".
func matchDoubleStar(pattern, p string) bool {
	// normalize turns a leading "**/" into "/**/".
	if rest, ok := strings.CutPrefix(pattern, "/**/"); ok {
		ok, _ := path.Match(rest, path.Base(p))
		return ok
	}

	prefix, suffix, found := strings.Cut(pattern, "**")
	if !found || strings.Contains(suffix, "**") {
		return false
	}

	if dir := strings.TrimSuffix(prefix, "/"); dir != "" {
		if p == dir {
			return true
		}
		if !strings.HasPrefix(p, dir+"/") {
			return false
		}
	}

	switch {
	case suffix == "":
		return true
	case strings.HasPrefix(suffix, "/"):
		ok, _ := path.Match(strings.TrimPrefix(suffix, "/"), path.Base(p))
		return ok
	default:
		return strings.HasSuffix(p, suffix)
	}
}

func normalize(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

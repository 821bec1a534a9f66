package pattern

import (
	"strings"

	"github.com/burrowd/burrow/pkg/errdefs"
)

// Wildcard matches one whole segment; a bare wildcard matches every name.
const Wildcard = "*"

// Validate checks that a pattern is well formed. A pattern is one or more
// non-empty colon-separated segments; each segment is either a literal or the
// wildcard. A wildcard embedded inside a literal ("comp*") is rejected so a
// malformed pattern fails loudly at subscription time instead of silently
// matching nothing.
func Validate(pattern string) error {
	if pattern == "" {
		return errdefs.InvalidPatternf("pattern is empty")
	}
	for _, seg := range strings.Split(pattern, ":") {
		if seg == "" {
			return errdefs.InvalidPatternf("pattern %q has an empty segment", pattern)
		}
		if seg != Wildcard && strings.Contains(seg, Wildcard) {
			return errdefs.InvalidPatternf("pattern %q embeds %q in a literal segment", pattern, Wildcard)
		}
	}
	return nil
}

// ValidateAll validates every pattern in the set.
func ValidateAll(patterns []string) error {
	for _, p := range patterns {
		if err := Validate(p); err != nil {
			return err
		}
	}
	return nil
}

// Match reports whether an event name matches a colon-segmented glob pattern.
// "*" as a segment matches exactly one segment; the bare pattern "*" matches
// every name. Segment counts must agree for anything other than bare "*".
//
//	Match("completion:*", "completion:result") == true
//	Match("completion:*", "monitor:subscribe") == false
//	Match("*", "anything:at:all")              == true
func Match(pattern, name string) bool {
	if pattern == Wildcard {
		return true
	}
	if pattern == name {
		return true
	}
	if !strings.Contains(pattern, Wildcard) {
		return false
	}

	psegs := strings.Split(pattern, ":")
	nsegs := strings.Split(name, ":")
	if len(psegs) != len(nsegs) {
		return false
	}
	for i, pseg := range psegs {
		if pseg == Wildcard {
			continue
		}
		if pseg != nsegs[i] {
			return false
		}
	}
	return true
}

// MatchAny reports whether the name matches at least one pattern. An empty
// pattern set matches everything, mirroring an unfiltered subscription.
func MatchAny(patterns []string, name string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if Match(p, name) {
			return true
		}
	}
	return false
}

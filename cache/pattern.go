package cache

import "strings"

// matchPattern implements the minimal glob grammar from spec §6/§9: `*`
// is the sole metacharacter, used as a greedy wildcard. A pattern that
// does not start with `*` is anchored at the beginning; a leading `*`
// makes the match unanchored (a "contains" search). No other
// metacharacters are recognized — literal characters match themselves.
//
// This is deliberately simpler than pkg/utils.MatchPattern (which also
// understands `?` and compiles a cached regex): that richer matcher
// stays as the admin-facing convenience tool in the invalidation
// service, while RemoveByPattern here must stay portable to a remote
// store's server-side SCAN pattern, which only ever gets `*`.
func matchPattern(key, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == key {
		return true
	}

	unanchored := strings.HasPrefix(pattern, "*")
	parts := strings.Split(pattern, "*")

	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(key[pos:], part)
		if idx < 0 {
			return false
		}
		if i == 0 && !unanchored && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}

	// If the pattern doesn't end in `*`, the last literal segment must
	// reach exactly to the end of the key.
	if !strings.HasSuffix(pattern, "*") {
		last := parts[len(parts)-1]
		if last != "" && !strings.HasSuffix(key, last) {
			return false
		}
	}

	return true
}

package invalidation

import (
	"errors"
	"strings"

	"cachemesh.app/pkg/utils"
)

// PatternMatcher is a thin wrapper over pkg/utils' regex-caching matcher,
// giving the admin-facing invalidation API the same prefix/suffix/glob/
// regex vocabulary an operator typing a pattern into a dashboard would
// expect — richer than the engine's own `*`-only grammar, which stays
// deliberately minimal for the hot Remove/RemoveByPattern path.
type PatternMatcher struct{}

// NewPatternMatcher constructs a PatternMatcher.
func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{}
}

// Match returns every key in keys that matches pattern.
func (pm *PatternMatcher) Match(pattern string, keys []string) []string {
	if pattern == "" {
		return []string{}
	}
	matched, err := utils.FilterKeys(pattern, keys)
	if err != nil {
		return []string{}
	}
	return matched
}

// MatchCount reports how many keys match pattern; it is the length of
// the slice Match returns.
func (pm *PatternMatcher) MatchCount(pattern string, keys []string) int {
	return len(pm.Match(pattern, keys))
}

// ValidatePattern accepts the empty pattern (it matches nothing) and
// rejects patterns over 1000 characters and anything whose regex
// fallback fails to compile, so a bad admin request is caught before it
// reaches the pub/sub broadcast.
func (pm *PatternMatcher) ValidatePattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	if len(pattern) > 1000 {
		return errors.New("pattern too long: potential DoS")
	}
	_, err := utils.MatchPattern(pattern, "")
	if err != nil {
		return err
	}
	return nil
}

// ClearCache drops every compiled regex pkg/utils has cached for pattern
// matching. Exposed for tests and operators relieving memory pressure.
func (pm *PatternMatcher) ClearCache() {
	utils.ClearRegexCache()
}

// CacheSize reports how many compiled regexes pkg/utils currently holds.
func (pm *PatternMatcher) CacheSize() int {
	return utils.RegexCacheSize()
}

// IsWildcard reports whether pattern contains a glob wildcard.
func IsWildcard(pattern string) bool {
	return strings.Contains(pattern, "*")
}

// IsRegex reports whether pattern looks like it uses regex metacharacters
// beyond the plain `*` glob.
func IsRegex(pattern string) bool {
	for _, c := range []string{"[", "]", "(", ")", "^", "$", "+", "?", "{", "}", "|"} {
		if strings.Contains(pattern, c) {
			return true
		}
	}
	return false
}

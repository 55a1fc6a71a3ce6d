// This file is the pattern matcher behind invalidation's PatternMatcher;
// cache.Store's RemoveByPattern uses its own matcher in cache/pattern.go.
// Exact keys and plain prefixes ("users:*") take a fast path, anything
// with an embedded wildcard ("user:*:profile") compiles to a regex, and
// any other pattern is compiled as a regex as written; compiled regexes
// are cached in regexCache so a repeated pattern isn't recompiled.
package utils

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// regexCache maps a glob-turned-regex pattern string to its compiled
// *regexp.Regexp. Grows without bound; ClearRegexCache exists for tests
// and for an operator who wants to reclaim it manually.
var regexCache sync.Map

// MatchPattern reports whether key matches pattern: exact equality,
// then a "prefix:*" prefix check (which also covers "*"), then the
// cached-regex path, where a pattern containing '*' or '?' is rewritten
// by globToRegex first and any other pattern is used as a regex as
// written. Returns an error for an empty pattern or one that compiles
// to invalid regex.
func MatchPattern(pattern, key string) (bool, error) {
	if pattern == "" {
		return false, fmt.Errorf("pattern cannot be empty")
	}

	// Fast path: exact match
	if pattern == key {
		return true, nil
	}

	// Fast path: prefix match (most common case for cache invalidation)
	// Pattern "users:*" matches any key starting with "users:"
	if strings.HasSuffix(pattern, "*") && !strings.Contains(pattern[:len(pattern)-1], "*") {
		prefix := pattern[:len(pattern)-1]
		return strings.HasPrefix(key, prefix), nil
	}

	// Fast path: single wildcard match-all
	if pattern == "*" {
		return true, nil
	}

	// Regex fallback for complex patterns
	// Convert simple glob patterns to regex if needed
	regexPattern := pattern
	if strings.Contains(pattern, "*") || strings.Contains(pattern, "?") {
		regexPattern = globToRegex(pattern)
	}

	// Check cache for compiled regex
	cached, ok := regexCache.Load(regexPattern)
	var re *regexp.Regexp
	if ok {
		re = cached.(*regexp.Regexp)
	} else {
		// Compile and cache regex
		var err error
		re, err = regexp.Compile("^" + regexPattern + "$")
		if err != nil {
			return false, fmt.Errorf("invalid pattern regex: %w", err)
		}
		regexCache.Store(regexPattern, re)
	}

	return re.MatchString(key), nil
}

// FilterKeys returns the subset of keys matching pattern; invalidation's
// PatternMatcher.Match calls it to turn a pattern into a concrete key
// list.
func FilterKeys(pattern string, keys []string) ([]string, error) {
	if pattern == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	// Fast path: match all
	if pattern == "*" {
		result := make([]string, len(keys))
		copy(result, keys)
		return result, nil
	}

	// Fast path: prefix match
	if strings.HasSuffix(pattern, "*") && !strings.Contains(pattern[:len(pattern)-1], "*") {
		prefix := pattern[:len(pattern)-1]
		result := make([]string, 0, len(keys)/10) // Estimate 10% match

		for _, key := range keys {
			if strings.HasPrefix(key, prefix) {
				result = append(result, key)
			}
		}
		return result, nil
	}

	// Regex fallback
	result := make([]string, 0, len(keys)/10)
	for _, key := range keys {
		match, err := MatchPattern(pattern, key)
		if err != nil {
			return nil, err
		}
		if match {
			result = append(result, key)
		}
	}

	return result, nil
}

// PrefixMatch reports whether key starts with prefix, with no pattern
// parsing at all — a narrower, cheaper check than MatchPattern for
// callers that already know they want a plain prefix.
func PrefixMatch(prefix, key string) bool {
	return strings.HasPrefix(key, prefix)
}

// globToRegex rewrites a glob ('*' -> any run of characters, '?' -> one
// character) into the equivalent regex, escaping everything else that
// regexp would otherwise treat as special.
func globToRegex(pattern string) string {
	var result strings.Builder
	result.Grow(len(pattern) * 2) // Estimate

	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '*':
			result.WriteString(".*")
		case '?':
			result.WriteString(".")
		case '.', '+', '(', ')', '|', '[', ']', '{', '}', '^', '$', '\\':
			// Escape regex special chars
			result.WriteByte('\\')
			result.WriteByte(ch)
		default:
			result.WriteByte(ch)
		}
	}

	return result.String()
}

// ClearRegexCache drops every cached compiled pattern.
func ClearRegexCache() {
	regexCache.Range(func(key, value interface{}) bool {
		regexCache.Delete(key)
		return true
	})
}

// RegexCacheSize returns how many compiled patterns are currently cached.
func RegexCacheSize() int {
	count := 0
	regexCache.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}
package compare

import (
	"regexp"
	"strings"
	"sync"
)

// PatternCache compiles wildcard patterns to anchored regular expressions
// and memoizes them by their literal pattern text. Go's regexp engine runs
// in linear time, so user-supplied patterns cannot trigger pathological
// backtracking.
//
// Entries are immutable once inserted; the cache is safe for concurrent
// readers. A pattern that fails to compile is cached as nil and never
// matches.
type PatternCache struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

// NewPatternCache creates an empty pattern cache.
func NewPatternCache() *PatternCache {
	return &PatternCache{compiled: make(map[string]*regexp.Regexp)}
}

// Match reports whether s matches the wildcard pattern. A % in the pattern
// matches any run of characters; a pattern without % is tried as a
// case-insensitive literal before falling back to the compiled form.
func (pc *PatternCache) Match(s, pattern string) bool {
	if !strings.Contains(pattern, "%") && strings.EqualFold(s, pattern) {
		return true
	}
	re := pc.get(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(s)
}

func (pc *PatternCache) get(pattern string) *regexp.Regexp {
	pc.mu.RLock()
	re, ok := pc.compiled[pattern]
	pc.mu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile(translate(pattern))
	if err != nil {
		re = nil
	}

	pc.mu.Lock()
	pc.compiled[pattern] = re
	pc.mu.Unlock()
	return re
}

// translate turns a %-wildcard pattern into an anchored, case-insensitive
// regular expression with each % standing for any run of characters. The
// remainder of the pattern is passed through as regex source, which is why
// a syntactically broken pattern can land in the never-matches path above.
func translate(pattern string) string {
	return "(?i)^" + strings.ReplaceAll(pattern, "%", ".*") + "$"
}

package routing

import (
	"regexp"
	"strings"
	"sync"
)

// NormalizeContentType lower-cases a Content-Type value and drops its
// parameters.
func NormalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// PatternMatcher compiles content-type patterns once and caches them.
type PatternMatcher struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

// NewPatternMatcher creates an empty matcher.
func NewPatternMatcher() *PatternMatcher {
	return &PatternMatcher{compiled: make(map[string]*regexp.Regexp)}
}

// Match reports whether contentType satisfies pattern. A nil pattern
// matches everything.
func (pm *PatternMatcher) Match(pattern *string, contentType string) bool {
	if pattern == nil {
		return true
	}
	p := strings.ToLower(strings.TrimSpace(*pattern))
	if p == "*" || p == "*/*" || p == "%" {
		return true
	}

	ct := NormalizeContentType(contentType)
	if !strings.ContainsAny(p, "*%") {
		return p == ct
	}
	return pm.regexFor(p).MatchString(ct)
}

func (pm *PatternMatcher) regexFor(pattern string) *regexp.Regexp {
	pm.mu.RLock()
	re, ok := pm.compiled[pattern]
	pm.mu.RUnlock()
	if ok {
		return re
	}

	re = compileWildcard(pattern)

	pm.mu.Lock()
	pm.compiled[pattern] = re
	pm.mu.Unlock()
	return re
}

// compileWildcard turns '*' and '%' into ".*" and quotes everything else.
func compileWildcard(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	literal := strings.Builder{}
	flush := func() {
		b.WriteString(regexp.QuoteMeta(literal.String()))
		literal.Reset()
	}
	for _, r := range pattern {
		if r == '*' || r == '%' {
			flush()
			b.WriteString(".*")
			continue
		}
		literal.WriteRune(r)
	}
	flush()
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

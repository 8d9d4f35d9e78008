package main

import (
	"regexp"
	"strings"
	"sync"
)

// TextualReferenceMatcher decides whether a SQL body (trigger statement,
// check clause, routine or view definition) references a column identifier.
// The default implementation is regexp-based and deliberately over-matches;
// a parser-backed matcher can replace it without touching the classifier.
type TextualReferenceMatcher interface {
	Matches(body, identifier string) bool
}

// wordBoundaryMatcher matches identifiers on case-insensitive word
// boundaries. False positives are acceptable; false negatives are the unsafe
// failure mode, since a silently missed dependent breaks at execution time.
type wordBoundaryMatcher struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

func newWordBoundaryMatcher() *wordBoundaryMatcher {
	return &wordBoundaryMatcher{cache: make(map[string]*regexp.Regexp)}
}

func (m *wordBoundaryMatcher) pattern(identifier string) *regexp.Regexp {
	m.mu.Lock()
	defer m.mu.Unlock()
	if re, ok := m.cache[identifier]; ok {
		return re
	}
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(identifier) + `\b`)
	m.cache[identifier] = re
	return re
}

func (m *wordBoundaryMatcher) Matches(body, identifier string) bool {
	if body == "" || identifier == "" {
		return false
	}
	// Backtick-quoted identifiers defeat \b when the name starts or ends
	// with a non-word rune; cover the common quoted form explicitly.
	if strings.Contains(body, "`"+identifier+"`") {
		return true
	}
	return m.pattern(identifier).MatchString(body)
}

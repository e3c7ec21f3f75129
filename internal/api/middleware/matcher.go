package middleware

import (
	"fmt"
	"net/http"
	"path"
	"strings"
)

// Pattern describes a request that bypasses token checks. A pattern is
// written as "[METHOD ]PATH[*]": an optional method restricts the match, and
// a trailing "*" matches PATH and every path below it.
type Pattern struct {
	Method string
	Path   string
	Prefix bool
}

// ParsePattern parses a pattern string.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	var p Pattern

	if method, rest, ok := strings.Cut(s, " "); ok {
		p.Method = strings.ToUpper(method)
		s = strings.TrimSpace(rest)
	}
	if strings.HasSuffix(s, "*") {
		p.Prefix = true
		s = strings.TrimSuffix(s, "*")
	}
	if !strings.HasPrefix(s, "/") {
		return Pattern{}, fmt.Errorf("pattern path must start with /: %q", s)
	}
	p.Path = normalizePath(s)
	return p, nil
}

// String renders the pattern in ParsePattern syntax.
func (p Pattern) String() string {
	s := p.Path
	if p.Prefix {
		s += "*"
	}
	if p.Method != "" {
		s = p.Method + " " + s
	}
	return s
}

func (p Pattern) matches(method, cleanPath string) bool {
	if p.Method != "" && p.Method != method {
		return false
	}
	if !p.Prefix {
		return cleanPath == p.Path
	}
	if cleanPath == p.Path || p.Path == "/" {
		return true
	}
	return strings.HasPrefix(cleanPath, p.Path+"/")
}

// Matcher decides whether a request is exempt from token checks. It is
// built once and safe for concurrent use.
type Matcher struct {
	patterns []Pattern
}

// NewMatcher compiles patterns into a Matcher.
func NewMatcher(patterns ...string) (*Matcher, error) {
	m := &Matcher{patterns: make([]Pattern, 0, len(patterns))}
	for _, s := range patterns {
		p, err := ParsePattern(s)
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

// MustMatcher is like NewMatcher but panics on an invalid pattern.
func MustMatcher(patterns ...string) *Matcher {
	m, err := NewMatcher(patterns...)
	if err != nil {
		panic(err)
	}
	return m
}

// Patterns returns the compiled patterns.
func (m *Matcher) Patterns() []Pattern {
	out := make([]Pattern, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// Match reports whether method and urlPath hit any pattern. The path is
// cleaned first so dot segments cannot climb out of a prefix.
func (m *Matcher) Match(method, urlPath string) bool {
	clean := normalizePath(urlPath)
	for _, p := range m.patterns {
		if p.matches(method, clean) {
			return true
		}
	}
	return false
}

// MatchRequest reports whether r is exempt.
func (m *Matcher) MatchRequest(r *http.Request) bool {
	return m.Match(r.Method, r.URL.Path)
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

package access

import (
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Segment weights used to rank patterns. Higher is more specific.
const (
	weightDoubleStar = 0
	weightWildcard   = 1
	weightPartial    = 2
	weightLiteral    = 3
)

var pathVariable = regexp.MustCompile(`\{[^/{}]*\}`)

// pattern is an ant-style path pattern prepared for matching.
type pattern struct {
	raw     string
	glob    string
	weights []int
}

// ValidatePattern reports whether raw can be used as a rule path pattern.
func ValidatePattern(raw string) error {
	if !strings.HasPrefix(strings.TrimSpace(raw), "/") {
		return &PatternError{Pattern: raw}
	}
	_, err := compilePattern(raw)
	return err
}

func compilePattern(raw string) (pattern, error) {
	norm := normalizePath(raw)
	glob := pathVariable.ReplaceAllString(norm, "*")
	if !doublestar.ValidatePattern(glob) {
		return pattern{}, &PatternError{Pattern: raw}
	}

	segs := splitPath(norm)
	weights := make([]int, len(segs))
	for i, s := range segs {
		weights[i] = segmentWeight(s)
	}
	return pattern{raw: raw, glob: glob, weights: weights}, nil
}

func segmentWeight(seg string) int {
	switch {
	case seg == "**":
		return weightDoubleStar
	case seg == "*" || pathVariable.FindString(seg) == seg:
		return weightWildcard
	case strings.ContainsAny(seg, "*?{["):
		return weightPartial
	default:
		return weightLiteral
	}
}

// match reports whether a request path matches the pattern. A trailing
// "/**" also matches the bare prefix, so "/admin/**" covers "/admin".
func (p pattern) match(path string) bool {
	path = normalizePath(path)
	if ok, _ := doublestar.Match(p.glob, path); ok {
		return true
	}
	if prefix, ok := strings.CutSuffix(p.glob, "/**"); ok {
		if prefix == "" {
			return path == "/"
		}
		if ok, _ := doublestar.Match(prefix, path); ok {
			return true
		}
	}
	return false
}

// compareSpecificity returns a positive number when a is more specific
// than b, negative when less, zero when they rank the same.
func compareSpecificity(a, b pattern) int {
	n := len(a.weights)
	if len(b.weights) < n {
		n = len(b.weights)
	}
	for i := 0; i < n; i++ {
		if d := a.weights[i] - b.weights[i]; d != 0 {
			return d
		}
	}
	return len(a.weights) - len(b.weights)
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

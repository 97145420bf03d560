package access

import (
	"fmt"
	"sort"
	"time"

	"github.com/graham924/blog-feng-yu/internal/domain"
)

// PatternError reports a rule whose path pattern cannot be compiled.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid path pattern %q", e.Pattern)
}

type compiledRule struct {
	rule    domain.AccessRule
	pattern pattern
	method  string
}

// RuleTable is an immutable, specificity-ordered set of rules.
type RuleTable struct {
	rules    []compiledRule
	seq      uint64
	loadedAt time.Time
}

// NewRuleTable compiles rules. Rules with invalid patterns are returned as
// errors and left out of the table.
func NewRuleTable(rules []domain.AccessRule) (*RuleTable, []error) {
	var errs []error
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		p, err := compilePattern(r.PathPattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", r.ID, err))
			continue
		}
		r.Roles = append([]string(nil), r.Roles...)
		compiled = append(compiled, compiledRule{
			rule:    r,
			pattern: p,
			method:  domain.NormalizeMethod(r.Method),
		})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		a, b := compiled[i], compiled[j]
		if d := compareSpecificity(a.pattern, b.pattern); d != 0 {
			return d > 0
		}
		if (a.method == "") != (b.method == "") {
			return a.method != ""
		}
		return a.rule.ID < b.rule.ID
	})

	return &RuleTable{rules: compiled, loadedAt: time.Now()}, errs
}

// Match returns the most specific rule covering the request.
func (t *RuleTable) Match(path, method string) (domain.AccessRule, bool) {
	if t == nil {
		return domain.AccessRule{}, false
	}
	method = domain.NormalizeMethod(method)
	for _, cr := range t.rules {
		if cr.method != "" && cr.method != method {
			continue
		}
		if cr.pattern.match(path) {
			return cr.rule, true
		}
	}
	return domain.AccessRule{}, false
}

// Len returns the number of rules in the table.
func (t *RuleTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.rules)
}

// Rules returns a copy of the rules in match order.
func (t *RuleTable) Rules() []domain.AccessRule {
	if t == nil {
		return nil
	}
	out := make([]domain.AccessRule, len(t.rules))
	for i, cr := range t.rules {
		out[i] = cr.rule
	}
	return out
}

// LoadedAt returns when the table was built.
func (t *RuleTable) LoadedAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.loadedAt
}

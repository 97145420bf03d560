package access

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/internal/metrics"
	"github.com/graham924/blog-feng-yu/pkg/log"
	"github.com/graham924/blog-feng-yu/pkg/pubsub"
)

var (
	ErrUnauthenticated = errors.New("not logged in")
	ErrForbidden       = errors.New("permission denied")
)

// Outcome is the result kind of an access decision.
type Outcome int

const (
	Allow Outcome = iota
	Unauthenticated
	Forbidden
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	}
	return "unknown"
}

// Subject is the caller being authorized. An empty UserID is anonymous.
type Subject struct {
	UserID string
	Roles  []string
}

func (s Subject) anonymous() bool {
	return s.UserID == ""
}

// Decision is the result of Decide.
type Decision struct {
	Outcome Outcome
	Rule    *domain.AccessRule
}

// Err maps the decision to ErrUnauthenticated, ErrForbidden or nil.
func (d Decision) Err() error {
	switch d.Outcome {
	case Unauthenticated:
		return ErrUnauthenticated
	case Forbidden:
		return ErrForbidden
	}
	return nil
}

// RuleSource loads the current rules.
type RuleSource interface {
	ListRules(ctx context.Context) ([]domain.AccessRule, error)
}

const refreshKey = "rules"

// Engine decides requests against a rule table that can be reloaded at
// runtime. Decide never blocks on a reload.
type Engine struct {
	source  RuleSource
	metrics *metrics.Metrics

	table atomic.Pointer[RuleTable]
	seq   atomic.Uint64
	group singleflight.Group
}

func NewEngine(source RuleSource, m *metrics.Metrics) *Engine {
	e := &Engine{source: source, metrics: m}
	empty, _ := NewRuleTable(nil)
	e.table.Store(empty)
	return e
}

// Decide evaluates one request. Paths no rule covers are allowed. A rule
// without roles disables its resource for every caller.
func (e *Engine) Decide(path, method string, subject Subject) Decision {
	rule, ok := e.table.Load().Match(path, method)
	if !ok {
		return Decision{Outcome: Allow}
	}

	d := Decision{Rule: &rule}
	switch {
	case subject.anonymous():
		d.Outcome = Unauthenticated
	case hasCommonRole(rule.Roles, subject.Roles):
		d.Outcome = Allow
	default:
		d.Outcome = Forbidden
	}
	return d
}

func hasCommonRole(allowed, held []string) bool {
	for _, a := range allowed {
		for _, h := range held {
			if a == h {
				return true
			}
		}
	}
	return false
}

// Table returns the live rule table.
func (e *Engine) Table() *RuleTable {
	return e.table.Load()
}

// Refresh reloads the rules. Calls made while a reload is in flight share
// its result.
func (e *Engine) Refresh(ctx context.Context) (int, error) {
	v, err, _ := e.group.Do(refreshKey, func() (interface{}, error) {
		return e.load(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Reload starts a fresh load even if one is in flight, for callers that
// just changed the rules and must not observe a load that began earlier.
func (e *Engine) Reload(ctx context.Context) (int, error) {
	e.group.Forget(refreshKey)
	return e.Refresh(ctx)
}

func (e *Engine) load(ctx context.Context) (int, error) {
	seq := e.seq.Add(1)

	rules, err := e.source.ListRules(ctx)
	if err != nil {
		e.metrics.RuleRefresh("error", 0)
		return 0, fmt.Errorf("load access rules: %w", err)
	}

	table, errs := NewRuleTable(rules)
	table.seq = seq
	for _, perr := range errs {
		l := log.Ctx(ctx)
		l.Warn().Err(perr).Msg("skipping access rule")
	}

	// An older load finishing late must not replace a newer table.
	for {
		cur := e.table.Load()
		if cur != nil && cur.seq > seq {
			break
		}
		if e.table.CompareAndSwap(cur, table) {
			break
		}
	}

	e.metrics.RuleRefresh("ok", table.Len())
	return table.Len(), nil
}

// Run refreshes the table every interval and whenever an invalidation event
// arrives, until ctx is done. A nil events channel disables event refresh.
func (e *Engine) Run(ctx context.Context, interval time.Duration, events <-chan *pubsub.Event) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	l := log.Ctx(ctx)
	for {
		select {
		case <-ctx.Done():
			return

		case <-tick:
			if _, err := e.Refresh(ctx); err != nil {
				l.Error().Err(err).Msg("periodic access rule refresh failed")
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Type != pubsub.EventRulesChanged {
				continue
			}
			n, err := e.Reload(ctx)
			if err != nil {
				l.Error().Err(err).Msg("access rule invalidation refresh failed")
				continue
			}
			l.Info().Int("rules", n).Msg("access rules reloaded after invalidation")
		}
	}
}

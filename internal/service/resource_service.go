package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/graham924/blog-feng-yu/internal/access"
	"github.com/graham924/blog-feng-yu/internal/audit"
	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/internal/repository"
	"github.com/graham924/blog-feng-yu/pkg/log"
	"github.com/graham924/blog-feng-yu/pkg/pubsub"
)

var ErrInvalidPattern = errors.New("invalid path pattern")

// RuleReloader rebuilds the in-memory rule table.
type RuleReloader interface {
	Reload(ctx context.Context) (int, error)
}

// resourceServiceImpl implements ResourceService.
type resourceServiceImpl struct {
	repo      repository.ResourceRepository
	engine    RuleReloader
	publisher pubsub.Publisher
}

// NewResourceService creates the resource service. Changes are announced on
// pubsub.ChannelAccessRules when publisher is not nil.
func NewResourceService(repo repository.ResourceRepository, engine RuleReloader, publisher pubsub.Publisher) ResourceService {
	return &resourceServiceImpl{
		repo:      repo,
		engine:    engine,
		publisher: publisher,
	}
}

func (s *resourceServiceImpl) List(ctx context.Context) ([]domain.AccessRule, error) {
	return s.repo.ListRules(ctx)
}

func (s *resourceServiceImpl) Create(ctx context.Context, actor string, req *domain.CreateResourceRequest) (*domain.AccessRule, error) {
	pattern := strings.TrimSpace(req.PathPattern)
	if err := access.ValidatePattern(pattern); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	rule := &domain.AccessRule{
		PathPattern: pattern,
		Method:      req.Method,
		Roles:       dedupe(req.Roles),
	}
	if err := s.repo.CreateResource(ctx, rule); err != nil {
		return nil, err
	}

	audit.LogWithDetail(ctx, audit.ActionResourceCreate, actor, rule.Method+" "+rule.PathPattern, "access resource created")
	s.changed(ctx, rule.ID, "created")
	return rule, nil
}

func (s *resourceServiceImpl) Delete(ctx context.Context, actor, id string) error {
	if err := s.repo.DeleteResource(ctx, id); err != nil {
		return err
	}

	audit.LogTarget(ctx, audit.ActionResourceDelete, actor, id, "access resource deleted")
	s.changed(ctx, id, "deleted")
	return nil
}

func (s *resourceServiceImpl) Refresh(ctx context.Context, actor string) (int, error) {
	n, err := s.engine.Reload(ctx)
	if err != nil {
		return 0, err
	}

	audit.Log(ctx, audit.ActionRulesRefresh, actor, "access rules refreshed")
	s.announce(ctx, "", "manual")
	return n, nil
}

func (s *resourceServiceImpl) SeedIfEmpty(ctx context.Context, rules []domain.AccessRule) (int, error) {
	n, err := s.repo.CountResources(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	created := 0
	for i := range rules {
		rule := rules[i]
		if err := s.repo.CreateResource(ctx, &rule); err != nil {
			if errors.Is(err, repository.ErrResourceExists) {
				continue
			}
			return created, fmt.Errorf("seed %s: %w", rule.PathPattern, err)
		}
		created++
	}
	return created, nil
}

// changed reloads the local table and notifies the other instances. The
// write already succeeded, so failures here are only logged; the periodic
// refresh catches up.
func (s *resourceServiceImpl) changed(ctx context.Context, resourceID, reason string) {
	l := log.Ctx(ctx)
	if _, err := s.engine.Reload(ctx); err != nil {
		l.Error().Err(err).Str(log.FieldRuleID, resourceID).Msg("failed to reload access rules after change")
	}
	s.announce(ctx, resourceID, reason)
}

func (s *resourceServiceImpl) announce(ctx context.Context, resourceID, reason string) {
	if s.publisher == nil {
		return
	}

	l := log.Ctx(ctx)
	event, err := pubsub.NewEvent(pubsub.EventRulesChanged, resourceID, &pubsub.RulesChangedPayload{
		ResourceID: resourceID,
		Reason:     reason,
	})
	if err != nil {
		l.Error().Err(err).Msg("failed to build rules changed event")
		return
	}
	if err := s.publisher.Publish(ctx, pubsub.ChannelAccessRules, event); err != nil {
		l.Warn().Err(err).Str(log.FieldRuleID, resourceID).Msg("failed to publish rules changed event")
	}
}

func dedupe(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

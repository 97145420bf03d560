package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/graham924/blog-feng-yu/internal/audit"
	"github.com/graham924/blog-feng-yu/internal/cache"
	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/internal/repository"
	"github.com/graham924/blog-feng-yu/pkg/jwt"
	"github.com/graham924/blog-feng-yu/pkg/log"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("user is disabled")
	ErrUserNotFound       = errors.New("user not found")
)

// TokenManager issues, validates and revokes token pairs.
type TokenManager interface {
	Issue(id jwt.Identity) (*jwt.TokenPair, error)
	ValidateToken(token string) (*jwt.Claims, error)
	RevokeUserTokens(userID string)
}

// authServiceImpl implements AuthService.
type authServiceImpl struct {
	repo   repository.UserRepository
	tokens TokenManager
	likes  cache.LikeCache
}

// NewAuthService creates the auth service. likes may be nil, in which case
// principals carry empty like sets.
func NewAuthService(repo repository.UserRepository, tokens TokenManager, likes cache.LikeCache) AuthService {
	return &authServiceImpl{
		repo:   repo,
		tokens: tokens,
		likes:  likes,
	}
}

// Login authenticates a user by username and password.
func (s *authServiceImpl) Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthResponse, error) {
	l := log.Ctx(ctx)

	user, err := s.repo.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			audit.LogWithDetail(ctx, audit.ActionLoginFailed, "", req.Username, "login failed: user not found")
			return nil, ErrInvalidCredentials
		}
		l.Error().Err(err).Msg("failed to get user by username")
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		audit.LogWithDetail(ctx, audit.ActionLoginFailed, user.ID, req.Username, "login failed: wrong password")
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		audit.LogWithDetail(ctx, audit.ActionLoginFailed, user.ID, req.Username, "login failed: user disabled")
		return nil, ErrUserDisabled
	}

	pair, err := s.tokens.Issue(jwt.Identity{
		UserID:   user.ID,
		Username: user.Username,
		Nickname: user.Nickname,
		Roles:    user.Roles,
	})
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, user.ID).Msg("failed to issue tokens after login")
		return nil, err
	}

	audit.Log(ctx, audit.ActionLogin, user.ID, "user logged in")

	return newAuthResponse(s.principal(ctx, user), pair), nil
}

// RefreshToken exchanges a refresh token for a new pair. The user is read
// again so role changes and disabling take effect at the next refresh.
func (s *authServiceImpl) RefreshToken(ctx context.Context, req *domain.RefreshTokenRequest) (*domain.AuthResponse, error) {
	l := log.Ctx(ctx)

	claims, err := s.tokens.ValidateToken(req.RefreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != jwt.TypeRefresh {
		return nil, jwt.ErrInvalidToken
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if user.Disabled {
		return nil, ErrUserDisabled
	}

	pair, err := s.tokens.Issue(jwt.Identity{
		UserID:   user.ID,
		Username: user.Username,
		Nickname: user.Nickname,
		Roles:    user.Roles,
	})
	if err != nil {
		l.Error().Err(err).Str(log.FieldUserID, user.ID).Msg("failed to issue tokens after refresh")
		return nil, err
	}

	return newAuthResponse(s.principal(ctx, user), pair), nil
}

// Logout revokes every token issued to the user so far.
func (s *authServiceImpl) Logout(ctx context.Context, userID string) error {
	s.tokens.RevokeUserTokens(userID)
	audit.Log(ctx, audit.ActionLogout, userID, "user logged out")
	return nil
}

// GetMe returns the principal of a logged-in user.
func (s *authServiceImpl) GetMe(ctx context.Context, userID string) (*domain.Principal, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	p := s.principal(ctx, user)
	return &p, nil
}

func (s *authServiceImpl) EnsureUser(ctx context.Context, username, password, nickname string, roles []string) (bool, error) {
	_, err := s.repo.GetByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return false, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Username:     username,
		Nickname:     nickname,
		PasswordHash: string(hash),
		Roles:        roles,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUsernameExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// principal builds the login view of user. Like sets that cannot be read
// are left empty.
func (s *authServiceImpl) principal(ctx context.Context, user *domain.User) domain.Principal {
	p := domain.Principal{
		UserID:          user.ID,
		Username:        user.Username,
		Nickname:        user.Nickname,
		Avatar:          user.Avatar,
		Roles:           user.Roles,
		LikedArticleIDs: []string{},
		LikedCommentIDs: []string{},
		LikedTalkIDs:    []string{},
	}
	if p.Roles == nil {
		p.Roles = []string{}
	}
	if s.likes == nil {
		return p
	}

	l := log.Ctx(ctx)
	for kind, dst := range map[string]*[]string{
		cache.KindArticle: &p.LikedArticleIDs,
		cache.KindComment: &p.LikedCommentIDs,
		cache.KindTalk:    &p.LikedTalkIDs,
	} {
		ids, err := s.likes.Liked(ctx, kind, user.ID)
		if err != nil {
			l.Warn().Err(err).Str(log.FieldUserID, user.ID).Str("kind", kind).Msg("failed to load like set")
			continue
		}
		if ids != nil {
			*dst = ids
		}
	}
	return p
}

func newAuthResponse(p domain.Principal, pair *jwt.TokenPair) *domain.AuthResponse {
	return &domain.AuthResponse{
		Principal:        p,
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

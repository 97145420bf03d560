package service

import (
	"context"

	"github.com/graham924/blog-feng-yu/internal/domain"
	"github.com/graham924/blog-feng-yu/internal/hub"
)

// ChatService drives the lifecycle of chat connections.
type ChatService interface {
	// Open registers c, announces the new online count and replays recent
	// history to c alone.
	Open(ctx context.Context, c *hub.Client) error
	// HandleMessage dispatches one inbound frame from c.
	HandleMessage(ctx context.Context, c *hub.Client, raw []byte) error
	// Close closes and unregisters c. Only the first call has any effect.
	Close(ctx context.Context, c *hub.Client)
	// SendVoice stores a voice clip and broadcasts it as a chat record.
	SendVoice(ctx context.Context, v *domain.VoiceUpload) (*domain.ChatRecord, error)
	OnlineCount() int
}

// AuthService authenticates users and describes the logged-in principal.
type AuthService interface {
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.AuthResponse, error)
	RefreshToken(ctx context.Context, req *domain.RefreshTokenRequest) (*domain.AuthResponse, error)
	Logout(ctx context.Context, userID string) error
	GetMe(ctx context.Context, userID string) (*domain.Principal, error)
	// EnsureUser creates the user with the given roles unless the username
	// is taken. It reports whether a user was created.
	EnsureUser(ctx context.Context, username, password, nickname string, roles []string) (bool, error)
}

// ResourceService manages the access rules behind the authorization engine.
type ResourceService interface {
	List(ctx context.Context) ([]domain.AccessRule, error)
	Create(ctx context.Context, actor string, req *domain.CreateResourceRequest) (*domain.AccessRule, error)
	Delete(ctx context.Context, actor, id string) error
	// Refresh reloads the local rule table and tells the other instances
	// to do the same.
	Refresh(ctx context.Context, actor string) (int, error)
	// SeedIfEmpty stores rules when no resource exists yet.
	SeedIfEmpty(ctx context.Context, rules []domain.AccessRule) (int, error)
}

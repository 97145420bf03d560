package repository

import (
	"context"
	"errors"
	"time"

	"github.com/graham924/blog-feng-yu/internal/domain"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUsernameExists   = errors.New("username already exists")
	ErrResourceNotFound = errors.New("resource not found")
	ErrResourceExists   = errors.New("resource already exists")
	ErrRoleNotFound     = errors.New("role not found")
)

// ChatRecordRepository persists chat records.
type ChatRecordRepository interface {
	Insert(ctx context.Context, record *domain.ChatRecord) error
	// DeleteByID removes a record. Deleting a missing record is not an error.
	DeleteByID(ctx context.Context, id string) error
	// ListSince returns records created at or after since, oldest first.
	ListSince(ctx context.Context, since time.Time) ([]domain.ChatRecord, error)
}

// UserRepository looks up users and their roles.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	RolesOf(ctx context.Context, userID string) ([]string, error)
	Create(ctx context.Context, user *domain.User) error
}

// ResourceRepository is the source of access rules.
type ResourceRepository interface {
	ListRules(ctx context.Context) ([]domain.AccessRule, error)
	CreateResource(ctx context.Context, rule *domain.AccessRule) error
	DeleteResource(ctx context.Context, id string) error
	CountResources(ctx context.Context) (int64, error)
}

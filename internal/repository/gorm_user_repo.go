package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/graham924/blog-feng-yu/internal/domain"
)

// GormUserRepository implements UserRepository using GORM.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based user repository.
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// GetByUsername retrieves a user by username, roles included.
func (r *GormUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getBy(ctx, "username = ?", username)
}

// GetByID retrieves a user by ID, roles included.
func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getBy(ctx, "id = ?", id)
}

func (r *GormUserRepository) getBy(ctx context.Context, query string, arg string) (*domain.User, error) {
	var model domain.UserModel
	result := r.db.WithContext(ctx).First(&model, query, arg)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}

	user := model.ToDomain()
	roles, err := r.RolesOf(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return user, nil
}

// RolesOf returns the names of the enabled roles granted to a user.
func (r *GormUserRepository) RolesOf(ctx context.Context, userID string) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Table("roles").
		Select("roles.name").
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ? AND roles.disabled = ?", userID, false).
		Order("roles.name").
		Pluck("roles.name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Create stores a user and grants it the named roles, creating roles that
// do not exist yet.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := &domain.UserModel{
			ID:           user.ID,
			Username:     user.Username,
			Nickname:     user.Nickname,
			Avatar:       user.Avatar,
			PasswordHash: user.PasswordHash,
			Disabled:     user.Disabled,
		}
		if err := tx.Create(model).Error; err != nil {
			return r.handleError(err)
		}
		user.CreatedAt = model.CreatedAt

		for _, name := range user.Roles {
			roleID, err := ensureRole(tx, name)
			if err != nil {
				return err
			}
			if err := tx.Create(&domain.UserRoleModel{UserID: user.ID, RoleID: roleID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// handleError converts unique constraint violations to ErrUsernameExists.
func (r *GormUserRepository) handleError(err error) error {
	errStr := err.Error()
	if strings.Contains(errStr, "duplicate key") ||
		strings.Contains(errStr, "UNIQUE constraint") ||
		strings.Contains(errStr, "Duplicate entry") {
		return ErrUsernameExists
	}
	return err
}

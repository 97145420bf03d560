package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/graham924/blog-feng-yu/internal/domain"
)

// GormResourceRepository implements ResourceRepository using GORM.
type GormResourceRepository struct {
	db *gorm.DB
}

// NewGormResourceRepository creates a new GORM-based resource repository.
func NewGormResourceRepository(db *gorm.DB) *GormResourceRepository {
	return &GormResourceRepository{db: db}
}

type resourceRoleRow struct {
	ResourceID string
	RoleName   string
}

// ListRules loads every resource with the names of its enabled roles.
func (r *GormResourceRepository) ListRules(ctx context.Context) ([]domain.AccessRule, error) {
	db := r.db.WithContext(ctx)

	var resources []domain.ResourceModel
	if err := db.Order("path, method").Find(&resources).Error; err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}

	var rows []resourceRoleRow
	err := db.Table("role_resources").
		Select("role_resources.resource_id AS resource_id, roles.name AS role_name").
		Joins("JOIN roles ON roles.id = role_resources.role_id").
		Where("roles.disabled = ?", false).
		Order("roles.name").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list resource roles: %w", err)
	}

	byResource := make(map[string][]string, len(resources))
	for _, row := range rows {
		byResource[row.ResourceID] = append(byResource[row.ResourceID], row.RoleName)
	}

	rules := make([]domain.AccessRule, len(resources))
	for i, res := range resources {
		rules[i] = domain.AccessRule{
			ID:          res.ID,
			PathPattern: res.Path,
			Method:      res.Method,
			Roles:       byResource[res.ID],
		}
	}
	return rules, nil
}

// CreateResource stores a resource and grants it to the named roles,
// creating roles that do not exist yet.
func (r *GormResourceRepository) CreateResource(ctx context.Context, rule *domain.AccessRule) error {
	rule.Method = domain.NormalizeMethod(rule.Method)
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&domain.ResourceModel{}).
			Where("path = ? AND method = ?", rule.PathPattern, rule.Method).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrResourceExists
		}

		if err := tx.Create(&domain.ResourceModel{
			ID:     rule.ID,
			Path:   rule.PathPattern,
			Method: rule.Method,
		}).Error; err != nil {
			return r.handleError(err)
		}

		for _, name := range rule.Roles {
			roleID, err := ensureRole(tx, name)
			if err != nil {
				return err
			}
			if err := tx.Create(&domain.RoleResourceModel{RoleID: roleID, ResourceID: rule.ID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteResource removes a resource and its role grants.
func (r *GormResourceRepository) DeleteResource(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&domain.ResourceModel{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrResourceNotFound
		}
		return tx.Delete(&domain.RoleResourceModel{}, "resource_id = ?", id).Error
	})
}

// CountResources returns the number of stored resources.
func (r *GormResourceRepository) CountResources(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.ResourceModel{}).Count(&n).Error
	return n, err
}

func ensureRole(tx *gorm.DB, name string) (string, error) {
	var role domain.RoleModel
	err := tx.First(&role, "name = ?", name).Error
	if err == nil {
		return role.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	role = domain.RoleModel{ID: uuid.New().String(), Name: name}
	if err := tx.Create(&role).Error; err != nil {
		return "", err
	}
	return role.ID, nil
}

// handleError converts unique constraint violations to ErrResourceExists.
func (r *GormResourceRepository) handleError(err error) error {
	errStr := err.Error()
	if strings.Contains(errStr, "duplicate key") ||
		strings.Contains(errStr, "UNIQUE constraint") ||
		strings.Contains(errStr, "Duplicate entry") {
		return ErrResourceExists
	}
	return err
}

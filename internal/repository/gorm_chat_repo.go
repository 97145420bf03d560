package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/graham924/blog-feng-yu/internal/domain"
)

// GormChatRecordRepository implements ChatRecordRepository using GORM.
type GormChatRecordRepository struct {
	db *gorm.DB
}

// NewGormChatRecordRepository creates a new GORM-based chat record repository.
func NewGormChatRecordRepository(db *gorm.DB) *GormChatRecordRepository {
	return &GormChatRecordRepository{db: db}
}

// Insert stores a record, assigning an ID and creation time when missing.
func (r *GormChatRecordRepository) Insert(ctx context.Context, record *domain.ChatRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	if err := r.db.WithContext(ctx).Create(domain.ChatRecordToModel(record)).Error; err != nil {
		return fmt.Errorf("%w: insert chat record: %v", domain.ErrStorage, err)
	}
	return nil
}

// DeleteByID removes a record by ID.
func (r *GormChatRecordRepository) DeleteByID(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Delete(&domain.ChatRecordModel{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("%w: delete chat record: %v", domain.ErrStorage, err)
	}
	return nil
}

// ListSince returns records created at or after since, oldest first.
func (r *GormChatRecordRepository) ListSince(ctx context.Context, since time.Time) ([]domain.ChatRecord, error) {
	var models []domain.ChatRecordModel
	err := r.db.WithContext(ctx).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list chat records: %v", domain.ErrStorage, err)
	}

	records := make([]domain.ChatRecord, len(models))
	for i := range models {
		records[i] = models[i].ToDomain()
	}
	return records, nil
}

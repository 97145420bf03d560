package domain

import (
	"strings"
	"time"
)

// ChatRecordModel is the GORM model for chat_records table.
type ChatRecordModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	UserID    string    `gorm:"type:varchar(36);index"`
	Nickname  string    `gorm:"type:varchar(50)"`
	Avatar    string    `gorm:"type:varchar(255)"`
	Content   string    `gorm:"type:text"`
	IPAddress string    `gorm:"type:varchar(64)"`
	IPSource  string    `gorm:"type:varchar(100)"`
	Type      int       `gorm:"not null"`
	VoiceURL  string    `gorm:"type:varchar(512)"`
	CreatedAt time.Time `gorm:"index;not null"`
}

// TableName specifies the table name for ChatRecordModel.
func (ChatRecordModel) TableName() string {
	return "chat_records"
}

// ToDomain converts ChatRecordModel to domain ChatRecord.
func (m *ChatRecordModel) ToDomain() ChatRecord {
	return ChatRecord{
		ID:        m.ID,
		UserID:    m.UserID,
		Nickname:  m.Nickname,
		Avatar:    m.Avatar,
		Content:   m.Content,
		IPAddress: m.IPAddress,
		IPSource:  m.IPSource,
		Type:      ChatType(m.Type),
		VoiceURL:  m.VoiceURL,
		CreatedAt: m.CreatedAt,
	}
}

// ChatRecordToModel converts domain ChatRecord to ChatRecordModel.
func ChatRecordToModel(r *ChatRecord) *ChatRecordModel {
	return &ChatRecordModel{
		ID:        r.ID,
		UserID:    r.UserID,
		Nickname:  r.Nickname,
		Avatar:    r.Avatar,
		Content:   r.Content,
		IPAddress: r.IPAddress,
		IPSource:  r.IPSource,
		Type:      int(r.Type),
		VoiceURL:  r.VoiceURL,
		CreatedAt: r.CreatedAt,
	}
}

// UserModel is the GORM model for users table.
type UserModel struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	Username     string    `gorm:"type:varchar(50);uniqueIndex;not null"`
	Nickname     string    `gorm:"type:varchar(50)"`
	Avatar       string    `gorm:"type:varchar(255)"`
	PasswordHash string    `gorm:"type:varchar(255);not null"`
	Disabled     bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts UserModel to domain User. Roles are loaded separately.
func (m *UserModel) ToDomain() *User {
	return &User{
		ID:           m.ID,
		Username:     m.Username,
		Nickname:     m.Nickname,
		Avatar:       m.Avatar,
		PasswordHash: m.PasswordHash,
		Disabled:     m.Disabled,
		CreatedAt:    m.CreatedAt,
	}
}

// RoleModel is the GORM model for roles table.
type RoleModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Name      string    `gorm:"type:varchar(50);uniqueIndex;not null"`
	Disabled  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for RoleModel.
func (RoleModel) TableName() string {
	return "roles"
}

// UserRoleModel is the GORM model for user_roles table.
type UserRoleModel struct {
	UserID string `gorm:"type:varchar(36);primaryKey"`
	RoleID string `gorm:"type:varchar(36);primaryKey"`
}

// TableName specifies the table name for UserRoleModel.
func (UserRoleModel) TableName() string {
	return "user_roles"
}

// ResourceModel is the GORM model for resources table.
type ResourceModel struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	Path      string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_resource_path_method"`
	Method    string    `gorm:"type:varchar(10);not null;default:'';uniqueIndex:idx_resource_path_method"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for ResourceModel.
func (ResourceModel) TableName() string {
	return "resources"
}

// RoleResourceModel is the GORM model for role_resources table.
type RoleResourceModel struct {
	RoleID     string `gorm:"type:varchar(36);primaryKey"`
	ResourceID string `gorm:"type:varchar(36);primaryKey;index"`
}

// TableName specifies the table name for RoleResourceModel.
func (RoleResourceModel) TableName() string {
	return "role_resources"
}

// Models lists every model for auto-migration.
func Models() []interface{} {
	return []interface{}{
		&ChatRecordModel{},
		&UserModel{},
		&RoleModel{},
		&UserRoleModel{},
		&ResourceModel{},
		&RoleResourceModel{},
	}
}

// NormalizeMethod maps the "any method" spellings to "" and upper-cases the rest.
func NormalizeMethod(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "*" {
		return ""
	}
	return m
}

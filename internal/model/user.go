package model

import "time"

// UserStatus 用户状态枚举
type UserStatus string

const (
	UserStatusOnboarding UserStatus = "onboarding" // 引导中
	UserStatusActive     UserStatus = "active"     // 引导完成，正常使用
)

// User 用户模型，资料字段由引导答案回填
type User struct {
	BaseModel
	PublicID      int64      `gorm:"uniqueIndex;not null" json:"public_id"`
	PreferredName string     `gorm:"type:varchar(64);not null;default:''" json:"preferred_name"`
	FullName      string     `gorm:"type:varchar(128);not null;default:''" json:"full_name"`
	AvatarURL     string     `gorm:"type:varchar(512);not null;default:''" json:"avatar_url"`
	FamilyRole    string     `gorm:"type:varchar(32);not null;default:''" json:"family_role"`
	CurrentCity   string     `gorm:"type:varchar(128);not null;default:''" json:"current_city"`
	Hometown      string     `gorm:"type:varchar(128);not null;default:''" json:"hometown"`
	BirthDate     string     `gorm:"type:varchar(10);not null;default:''" json:"birth_date"`
	Status        UserStatus `gorm:"type:varchar(16);not null;default:'onboarding';index:idx_users_status" json:"status"`
	OnboardedAt   *time.Time `json:"onboarded_at,omitempty"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"KinLink/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByPublicID API 中的 userID 都是 public_id
func (r *UserRepository) GetByPublicID(ctx context.Context, publicID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("public_id = ?", publicID).Take(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetByID 根据主键查询
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// Ensure 账号由认证服务签发，第一次访问引导接口时补建本地用户行
func (r *UserRepository) Ensure(ctx context.Context, publicID int64) (*model.User, error) {
	user := model.User{PublicID: publicID, Status: model.UserStatusOnboarding}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "public_id"}}, DoNothing: true}).
		Create(&user).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return r.GetByPublicID(ctx, publicID)
}

// UpdateProfile 只更新给出的列
func (r *UserRepository) UpdateProfile(ctx context.Context, id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(fields).Error
}

// MarkActive 返回是否发生了状态变化，重复调用不会覆盖 onboarded_at
func (r *UserRepository) MarkActive(ctx context.Context, id int64, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND status <> ?", id, model.UserStatusActive).
		Updates(map[string]interface{}{
			"status":       model.UserStatusActive,
			"onboarded_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

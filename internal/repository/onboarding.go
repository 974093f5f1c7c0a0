package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"KinLink/internal/model"
)

// ========== OnboardingProgress ==========

type ProgressRepository struct {
	db *gorm.DB
}

func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

func (r *ProgressRepository) Get(ctx context.Context, userID int64) (*model.OnboardingProgress, error) {
	var p model.OnboardingProgress
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// Upsert 以 user_id 为冲突键整行覆盖，合并逻辑由 service 层完成
func (r *ProgressRepository) Upsert(ctx context.Context, p *model.OnboardingProgress) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"current_step", "completed_steps", "is_completed", "last_updated", "updated_at"}),
		}).
		Create(p).Error
}

// ========== OnboardingAnswer ==========

type AnswerRepository struct {
	db *gorm.DB
}

func NewAnswerRepository(db *gorm.DB) *AnswerRepository {
	return &AnswerRepository{db: db}
}

// List 按首次写入顺序返回
func (r *AnswerRepository) List(ctx context.Context, userID int64) ([]model.OnboardingAnswer, error) {
	var answers []model.OnboardingAnswer
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&answers).Error
	return answers, err
}

// UpsertMany (user_id, question_id) 冲突时覆盖值和时间
func (r *AnswerRepository) UpsertMany(ctx context.Context, answers []model.OnboardingAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"phase", "value", "answered_at", "updated_at"}),
		}).
		Create(&answers).Error
}

// ========== OnboardingCompletion ==========

type CompletionRepository struct {
	db *gorm.DB
}

func NewCompletionRepository(db *gorm.DB) *CompletionRepository {
	return &CompletionRepository{db: db}
}

func (r *CompletionRepository) Get(ctx context.Context, userID int64) (*model.OnboardingCompletion, error) {
	var c model.OnboardingCompletion
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// CreateIfAbsent 每个用户只会成功插入一次
func (r *CompletionRepository) CreateIfAbsent(ctx context.Context, c *model.OnboardingCompletion) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(c)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *CompletionRepository) MarkPublished(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.OnboardingCompletion{}).
		Where("id = ? AND published_at IS NULL", id).
		Update("published_at", at).Error
}

// ListUnpublished 供 worker 补发，只取创建超过 olderThan 的记录
func (r *CompletionRepository) ListUnpublished(ctx context.Context, olderThan time.Time, limit int) ([]model.OnboardingCompletion, error) {
	var out []model.OnboardingCompletion
	err := r.db.WithContext(ctx).
		Where("published_at IS NULL AND created_at < ?", olderThan).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

package database

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"KinLink/internal/model"
	"KinLink/pkg/logger"
)

// Migrate 创建或更新所有表
func Migrate() error {
	db := DB()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	logger.Logger.Info("Starting database migration...")

	err := db.AutoMigrate(
		&model.User{},
		&model.OnboardingProgress{},
		&model.OnboardingAnswer{},
		&model.OnboardingCompletion{},
	)
	if err != nil {
		logger.Logger.Error("Database migration failed", zap.Error(err))
		return err
	}

	logger.Logger.Info("Database migration completed successfully")
	return nil
}

package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"KinLink/internal/model"
	"KinLink/internal/model/dto"
	"KinLink/internal/repository"
	pkgerrors "KinLink/pkg/errors"
	"KinLink/pkg/logger"
)

type UserService struct {
	users        UserRepo
	profileCache Cache
}

func NewUserService(users UserRepo, profileCache Cache) *UserService {
	return &UserService{users: users, profileCache: profileCache}
}

// GetProfile 获取当前用户资料，首次访问时补建用户
func (s *UserService) GetProfile(ctx context.Context, userID string) (*dto.UserProfileData, error) {
	publicID, err := parsePublicID(userID)
	if err != nil {
		return nil, err
	}

	var cached dto.UserProfileData
	if hit, empty := cacheGet(ctx, s.profileCache, cacheKey(publicID), &cached); hit && !empty {
		return &cached, nil
	}

	user, err := s.users.Ensure(ctx, publicID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	data := profileData(user)
	cacheSet(ctx, s.profileCache, cacheKey(publicID), data)
	return data, nil
}

// ActivateUser 由 worker 在收到完成事件后调用，userID 为内部主键
func (s *UserService) ActivateUser(ctx context.Context, userID int64, at time.Time) (bool, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			return false, pkgerrors.UserNotFound
		}
		return false, fmt.Errorf("failed to query user: %w", err)
	}

	changed, err := s.users.MarkActive(ctx, userID, at)
	if err != nil {
		return false, fmt.Errorf("failed to activate user: %w", err)
	}

	if changed {
		cacheDelete(ctx, s.profileCache, cacheKey(user.PublicID))
		logger.Logger.Info("User activated", zap.Int64("user_id", userID), zap.Int64("public_id", user.PublicID))
	}
	return changed, nil
}

func profileData(u *model.User) *dto.UserProfileData {
	return &dto.UserProfileData{
		ID:                  fmt.Sprintf("%d", u.PublicID),
		PreferredName:       u.PreferredName,
		FullName:            u.FullName,
		AvatarURL:           u.AvatarURL,
		FamilyRole:          u.FamilyRole,
		CurrentCity:         u.CurrentCity,
		Hometown:            u.Hometown,
		BirthDate:           u.BirthDate,
		Status:              string(u.Status),
		OnboardingCompleted: u.Status == model.UserStatusActive,
	}
}

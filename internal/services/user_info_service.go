package services

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/charlesng35/guildstats/internal/cache"
	"github.com/charlesng35/guildstats/internal/models"
	apperrors "github.com/charlesng35/guildstats/pkg/errors"
	"github.com/charlesng35/guildstats/pkg/logger"
)

// ErrUserInfoNotFound indicates no profile is stored for the user.
var ErrUserInfoNotFound = apperrors.New("USER_INFO_NOT_FOUND", "User info not found", http.StatusNotFound)

// SetUserInfoInput carries a partial profile update. Nil fields keep the stored value.
type SetUserInfoInput struct {
	Bio               *string
	ConnectedAccounts map[string]interface{}
}

// UserInfoService stores public user profiles. It reads straight from the store.
type UserInfoService struct {
	store cache.Store[models.UserInfo]
	log   *zap.Logger
	locks keyedMutex
}

// NewUserInfoService constructs a UserInfoService backed by store.
func NewUserInfoService(store cache.Store[models.UserInfo]) (*UserInfoService, error) {
	if store == nil {
		return nil, errors.New("user info service: store is required")
	}
	return &UserInfoService{
		store: store,
		log:   logger.WithModule("user_info"),
	}, nil
}

// Set merges input into the stored profile of userID and returns the result.
func (s *UserInfoService) Set(ctx context.Context, userID string, input SetUserInfoInput) (*models.UserInfo, error) {
	ctx = ensureContext(ctx)
	id, err := requireID("user", userID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, _, err := s.store.FindOne(ctx, id)
	if err != nil && !errors.Is(err, apperrors.ErrInvalidRecord) {
		return nil, err
	}

	next := models.UserInfo{ID: id, Bio: current.Bio, ConnectedAccounts: current.ConnectedAccounts}
	if input.Bio != nil {
		next.Bio = *input.Bio
	}
	if input.ConnectedAccounts != nil {
		next.ConnectedAccounts = datatypes.JSONMap(input.ConnectedAccounts)
	}

	if err := s.store.UpsertReplace(ctx, next); err != nil {
		s.log.Warn("persist user info failed", zap.String("user_id", id), zap.Error(err))
		return nil, err
	}
	return &next, nil
}

// Get returns the stored profile of userID.
func (s *UserInfoService) Get(ctx context.Context, userID string) (*models.UserInfo, error) {
	ctx = ensureContext(ctx)
	id, err := requireID("user", userID)
	if err != nil {
		return nil, err
	}

	info, found, err := s.store.FindOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserInfoNotFound
	}
	return &info, nil
}

// Remove deletes the profile of userID. Removing a missing profile succeeds.
func (s *UserInfoService) Remove(ctx context.Context, userID string) error {
	ctx = ensureContext(ctx)
	id, err := requireID("user", userID)
	if err != nil {
		return err
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	return s.store.Delete(ctx, id)
}

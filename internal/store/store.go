package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"housekeeping-sync/internal/model"
)

// Store persists the client session.
type Store interface {
	// Load returns the stored session, or an empty one if none exists.
	Load(ctx context.Context) (model.Session, error)
	// SaveLogin stores a fresh token pair and the user it belongs to.
	SaveLogin(ctx context.Context, token, refreshToken, username string) error
	// SaveTokens replaces the token pair after a refresh.
	SaveTokens(ctx context.Context, token, refreshToken string) error
	// SetLockedFloor stores the floor preference; nil unlocks.
	SetLockedFloor(ctx context.Context, floor *string) error
	// Clear forgets the tokens and user. The floor preference survives.
	Clear(ctx context.Context) error
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB returns the underlying gorm.DB instance.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) Load(ctx context.Context) (model.Session, error) {
	var sess model.Session
	err := s.db.WithContext(ctx).First(&sess, model.SessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Session{ID: model.SessionID}, nil
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

func (s *gormStore) SaveLogin(ctx context.Context, token, refreshToken, username string) error {
	sess := model.Session{ID: model.SessionID, Token: token, RefreshToken: refreshToken, Username: username}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "refresh_token", "username", "updated_at"}),
	}).Create(&sess).Error
	if err != nil {
		return fmt.Errorf("failed to save login: %w", err)
	}
	return nil
}

func (s *gormStore) SaveTokens(ctx context.Context, token, refreshToken string) error {
	return s.update(ctx, map[string]any{"token": token, "refresh_token": refreshToken})
}

func (s *gormStore) SetLockedFloor(ctx context.Context, floor *string) error {
	sess := model.Session{ID: model.SessionID, LockedFloor: floor}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"locked_floor", "updated_at"}),
	}).Create(&sess).Error
	if err != nil {
		return fmt.Errorf("failed to save locked floor: %w", err)
	}
	return nil
}

func (s *gormStore) Clear(ctx context.Context) error {
	return s.update(ctx, map[string]any{"token": "", "refresh_token": "", "username": ""})
}

func (s *gormStore) update(ctx context.Context, fields map[string]any) error {
	err := s.db.WithContext(ctx).
		Model(&model.Session{ID: model.SessionID}).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// UserStorage implements the UserStorage interface for Badger
type UserStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewUserStorage creates a new UserStorage instance
func NewUserStorage(db *BadgerDB, logger arbor.ILogger) interfaces.UserStorage {
	return &UserStorage{
		db:     db,
		logger: logger,
	}
}

func (s *UserStorage) SaveToken(ctx context.Context, token *models.UserToken) error {
	if token.Token == "" {
		return fmt.Errorf("token is required")
	}
	if err := s.db.Store().Upsert(token.Token, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *UserStorage) GetToken(ctx context.Context, token string) (*models.UserToken, error) {
	var record models.UserToken
	if err := s.db.Store().Get(token, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &record, nil
}

func (s *UserStorage) TouchToken(ctx context.Context, token string, seenAt time.Time) error {
	var record models.UserToken
	if err := s.db.Store().Get(token, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrUserNotFound
		}
		return fmt.Errorf("failed to get token: %w", err)
	}

	record.LastSeenAt = seenAt
	if err := s.db.Store().Upsert(token, &record); err != nil {
		return fmt.Errorf("failed to touch token: %w", err)
	}
	return nil
}

func (s *UserStorage) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var tokens []models.UserToken
	if err := s.db.Store().Find(&tokens, nil); err != nil {
		return 0, fmt.Errorf("failed to list tokens: %w", err)
	}

	deleted := 0
	for i := range tokens {
		if tokens[i].IsExpired(now) {
			if err := s.db.Store().Delete(tokens[i].Token, &models.UserToken{}); err != nil && err != badgerhold.ErrNotFound {
				return deleted, fmt.Errorf("failed to delete expired token: %w", err)
			}
			deleted++
		}
	}
	return deleted, nil
}

var _ interfaces.UserStorage = (*UserStorage)(nil)

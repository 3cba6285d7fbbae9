package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/common"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

// Service issues and validates anonymous user tokens. There are no
// accounts; a token is minted on first contact and identifies the
// client until it expires.
type Service struct {
	storage  interfaces.UserStorage
	tokenTTL time.Duration
	logger   arbor.ILogger
}

// NewService creates the auth service. tokenTTL below 1s falls back to
// one year.
func NewService(storage interfaces.UserStorage, tokenTTL time.Duration, logger arbor.ILogger) *Service {
	if tokenTTL < time.Second {
		tokenTTL = 365 * 24 * time.Hour
	}
	return &Service{
		storage:  storage,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// Issue creates and persists a fresh token.
func (s *Service) Issue(ctx context.Context) (*models.UserToken, error) {
	now := time.Now().UTC()
	token := &models.UserToken{
		Token:      common.NewUserToken(),
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(s.tokenTTL),
	}

	if err := s.storage.SaveToken(ctx, token); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}

	s.logger.Debug().
		Str("user_id", token.Token).
		Msg("Issued anonymous user token")

	return token, nil
}

// Validate returns the token record and refreshes LastSeenAt. Unknown,
// malformed or expired tokens yield ErrInvalidToken.
func (s *Service) Validate(ctx context.Context, token string) (*models.UserToken, error) {
	if !strings.HasPrefix(token, "usr_") {
		return nil, interfaces.ErrInvalidToken
	}

	record, err := s.storage.GetToken(ctx, token)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, interfaces.ErrInvalidToken
		}
		return nil, fmt.Errorf("get token: %w", err)
	}

	now := time.Now().UTC()
	if record.IsExpired(now) {
		return nil, interfaces.ErrInvalidToken
	}

	// Touch failures are not auth failures; the token stays valid.
	if err := s.storage.TouchToken(ctx, token, now); err != nil {
		s.logger.Warn().
			Str("user_id", token).
			Err(err).
			Msg("Failed to refresh token last seen")
	} else {
		record.LastSeenAt = now
	}

	return record, nil
}

// PurgeExpired removes expired tokens and returns the count.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	count, err := s.storage.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	if count > 0 {
		s.logger.Info().
			Int("count", count).
			Msg("Purged expired user tokens")
	}
	return count, nil
}

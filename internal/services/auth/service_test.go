package auth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

type memoryUserStorage struct {
	mu     sync.Mutex
	tokens map[string]*models.UserToken
}

func newMemoryUserStorage() *memoryUserStorage {
	return &memoryUserStorage{tokens: make(map[string]*models.UserToken)}
}

func (m *memoryUserStorage) SaveToken(ctx context.Context, token *models.UserToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *token
	m.tokens[token.Token] = &copied
	return nil
}

func (m *memoryUserStorage) GetToken(ctx context.Context, token string) (*models.UserToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.tokens[token]
	if !ok {
		return nil, interfaces.ErrUserNotFound
	}
	copied := *record
	return &copied, nil
}

func (m *memoryUserStorage) TouchToken(ctx context.Context, token string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record, ok := m.tokens[token]; ok {
		record.LastSeenAt = seenAt
	}
	return nil
}

func (m *memoryUserStorage) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for key, record := range m.tokens {
		if record.IsExpired(now) {
			delete(m.tokens, key)
			count++
		}
	}
	return count, nil
}

func TestService_IssueAndValidate(t *testing.T) {
	storage := newMemoryUserStorage()
	svc := NewService(storage, time.Hour, arbor.NewLogger())
	ctx := context.Background()

	issued, err := svc.Issue(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(issued.Token, "usr_"))
	assert.True(t, issued.ExpiresAt.After(issued.CreatedAt))

	validated, err := svc.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.Token, validated.Token)
	assert.False(t, validated.LastSeenAt.Before(issued.LastSeenAt))
}

func TestService_ValidateRejectsUnknownToken(t *testing.T) {
	svc := NewService(newMemoryUserStorage(), time.Hour, arbor.NewLogger())

	_, err := svc.Validate(context.Background(), "usr_does-not-exist")
	assert.ErrorIs(t, err, interfaces.ErrInvalidToken)
}

func TestService_ValidateRejectsMalformedToken(t *testing.T) {
	svc := NewService(newMemoryUserStorage(), time.Hour, arbor.NewLogger())

	for _, token := range []string{"", "garbage", "job_0b6b0cde"} {
		_, err := svc.Validate(context.Background(), token)
		assert.ErrorIs(t, err, interfaces.ErrInvalidToken, "token %q", token)
	}
}

func TestService_ValidateRejectsExpiredToken(t *testing.T) {
	storage := newMemoryUserStorage()
	svc := NewService(storage, time.Hour, arbor.NewLogger())
	ctx := context.Background()

	expired := &models.UserToken{
		Token:      "usr_expired",
		CreatedAt:  time.Now().UTC().Add(-2 * time.Hour),
		LastSeenAt: time.Now().UTC().Add(-2 * time.Hour),
		ExpiresAt:  time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, storage.SaveToken(ctx, expired))

	_, err := svc.Validate(ctx, "usr_expired")
	assert.ErrorIs(t, err, interfaces.ErrInvalidToken)
}

func TestService_PurgeExpired(t *testing.T) {
	storage := newMemoryUserStorage()
	svc := NewService(storage, time.Hour, arbor.NewLogger())
	ctx := context.Background()

	live, err := svc.Issue(ctx)
	require.NoError(t, err)

	expired := &models.UserToken{
		Token:     "usr_old",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, storage.SaveToken(ctx, expired))

	count, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = svc.Validate(ctx, live.Token)
	assert.NoError(t, err)
	_, err = svc.Validate(ctx, "usr_old")
	assert.ErrorIs(t, err, interfaces.ErrInvalidToken)
}

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/doceo/internal/interfaces"
	"github.com/ternarybob/doceo/internal/models"
)

func TestUserTokenRoundTrip(t *testing.T) {
	db := newTestDB(t)
	s := NewUserStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now().UTC()
	token := &models.UserToken{
		Token:      "usr_abc",
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(365 * 24 * time.Hour),
	}
	require.NoError(t, s.SaveToken(ctx, token))

	got, err := s.GetToken(ctx, "usr_abc")
	require.NoError(t, err)
	assert.Equal(t, "usr_abc", got.Token)

	_, err = s.GetToken(ctx, "usr_missing")
	assert.ErrorIs(t, err, interfaces.ErrUserNotFound)

	later := now.Add(time.Hour)
	require.NoError(t, s.TouchToken(ctx, "usr_abc", later))
	got, err = s.GetToken(ctx, "usr_abc")
	require.NoError(t, err)
	assert.Equal(t, later.Unix(), got.LastSeenAt.Unix())
}

func TestDeleteExpiredTokens(t *testing.T) {
	db := newTestDB(t)
	s := NewUserStorage(db, arbor.NewLogger())
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, s.SaveToken(ctx, &models.UserToken{Token: "usr_dead", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(t, s.SaveToken(ctx, &models.UserToken{Token: "usr_live", ExpiresAt: now.Add(time.Hour)}))

	deleted, err := s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.GetToken(ctx, "usr_dead")
	assert.ErrorIs(t, err, interfaces.ErrUserNotFound)

	_, err = s.GetToken(ctx, "usr_live")
	assert.NoError(t, err)
}

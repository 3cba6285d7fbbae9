package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/doceo/internal/models"
)

// ErrInvalidToken is returned for a malformed, unknown or expired token.
var ErrInvalidToken = errors.New("invalid user token")

// AuthService issues and validates anonymous user tokens. Tokens are
// opaque and long-lived; there are no accounts.
type AuthService interface {
	// Issue creates and persists a fresh token.
	Issue(ctx context.Context) (*models.UserToken, error)

	// Validate returns the token record and refreshes LastSeenAt.
	// Unknown or expired tokens yield ErrInvalidToken.
	Validate(ctx context.Context, token string) (*models.UserToken, error)

	// PurgeExpired removes expired tokens and returns the count.
	PurgeExpired(ctx context.Context) (int, error)
}

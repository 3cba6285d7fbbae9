package models

import "time"

// UserToken identifies an anonymous client. Tokens are opaque, issued on
// first contact and persisted client-side for a year.
type UserToken struct {
	Token      string    `json:"token" badgerhold:"key"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired reports whether the token is past its expiry.
func (t *UserToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

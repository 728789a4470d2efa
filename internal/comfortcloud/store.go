package comfortcloud

import (
	"context"
	"time"
)

// Session is the authenticated state for one Comfort Cloud account.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	ClientID     string    `json:"clientId"`
}

// Remaining returns how long the session is still considered usable. The
// expiry already includes the safety margin subtracted at issue time.
func (s *Session) Remaining() time.Duration {
	return time.Until(s.ExpiresAt)
}

// SessionStore persists the session across process restarts so devices keep
// working without a fresh password login. Load returns (nil, nil) when
// nothing is stored. Implementations live in internal/credentials and
// internal/storage/sqlite.
//
// Store failures never abort the session flow; the manager logs them and
// carries on with the in-memory session.
type SessionStore interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Clear(ctx context.Context) error
}

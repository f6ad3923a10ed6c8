package models

import "time"

// Session is the authenticated identity issued by the backend. The last
// session is cached so a degraded (offline) start still knows its owner.
type Session struct {
	Token     string    `json:"token"`
	OwnerID   string    `json:"owner_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session token has passed its expiry.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

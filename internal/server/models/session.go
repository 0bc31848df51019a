package models

import "time"

// SessionToken binds an opaque resumable token to a user. Each user has at
// most one token at a time.
type SessionToken struct {
	Token     string
	UserName  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t *SessionToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

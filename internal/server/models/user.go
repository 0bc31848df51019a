// Package models defines server-side records persisted in the database.
package models

import "time"

// User is a registered account. Records are created once and never modified.
type User struct {
	UserName     string
	Salt         []byte
	PasswordHash []byte
	Iterations   int
	CreatedAt    time.Time
}

// Package common defines sentinel errors and small helpers shared by the
// server and client sides of gophchat. Callers should use errors.Is to match
// the error values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrUserExists = errors.New("user already exists")

	// Token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Admission errors.
	ErrRateLimited        = errors.New("rate limited")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrCollaboratorFailed = errors.New("collaborator failed")
)

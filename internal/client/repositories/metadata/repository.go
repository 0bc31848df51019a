// Package metadata is a small key/value table in the client state database.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyUserName = "username"
	KeyToken    = "session_token"
)

type Repository interface {
	// Get returns ok=false when key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

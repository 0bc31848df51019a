// Package sessiontokens persists resumable session tokens so they survive a
// server restart.
package sessiontokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/server/models"
)

type Repository interface {
	// Replace stores token as the only token of its user, deleting any
	// previous one.
	Replace(ctx context.Context, token *models.SessionToken) error

	// Find returns common.ErrorNotFound when the token is absent.
	Find(ctx context.Context, token string) (*models.SessionToken, error)

	// DeleteByUser removes the user's token. Deleting nothing is not an error.
	DeleteByUser(ctx context.Context, userName string) error

	// DeleteExpired removes tokens that expired before now and reports how
	// many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// ListActive returns tokens still valid at now.
	ListActive(ctx context.Context, now time.Time) ([]*models.SessionToken, error)
}

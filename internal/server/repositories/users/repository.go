// Package users declares and implements persistent storage of user
// credential records.
package users

import (
	"context"

	"github.com/dmitrijs2005/gophchat/internal/server/models"
)

// Repository stores immutable user records.
type Repository interface {
	// Create inserts a new user. It returns common.ErrorAlreadyExists when the
	// username is taken.
	Create(ctx context.Context, user *models.User) error

	// GetByName returns common.ErrorNotFound when the user does not exist.
	GetByName(ctx context.Context, userName string) (*models.User, error)

	// List returns every stored user.
	List(ctx context.Context) ([]*models.User, error)
}

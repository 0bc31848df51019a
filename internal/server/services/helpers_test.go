package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/sessiontokens"
	"github.com/dmitrijs2005/gophchat/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
)

const testIterations = 1000

func setupDB(t *testing.T) (*sql.DB, repomanager.RepositoryManager) {
	t.Helper()
	ctx := context.Background()
	db, dialect, err := dbx.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m := repomanager.NewSQLRepositoryManager(dialect)
	require.NoError(t, m.RunMigrations(ctx, db))
	return db, m
}

// failingManager hands out repositories whose every call fails.
type failingManager struct {
	err error
}

func (f *failingManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f *failingManager) Users(dbx.DBTX) users.Repository            { return &failingUsers{err: f.err} }
func (f *failingManager) SessionTokens(dbx.DBTX) sessiontokens.Repository {
	return &failingTokens{err: f.err}
}

type failingUsers struct{ err error }

func (f *failingUsers) Create(context.Context, *models.User) error { return f.err }
func (f *failingUsers) GetByName(context.Context, string) (*models.User, error) {
	return nil, f.err
}
func (f *failingUsers) List(context.Context) ([]*models.User, error) { return nil, f.err }

type failingTokens struct{ err error }

func (f *failingTokens) Replace(context.Context, *models.SessionToken) error { return f.err }
func (f *failingTokens) Find(context.Context, string) (*models.SessionToken, error) {
	return nil, f.err
}
func (f *failingTokens) DeleteByUser(context.Context, string) error { return f.err }
func (f *failingTokens) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, f.err
}
func (f *failingTokens) ListActive(context.Context, time.Time) ([]*models.SessionToken, error) {
	return nil, f.err
}

var errDBDown = errors.New("db down")

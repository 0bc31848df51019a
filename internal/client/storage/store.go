// Package storage keeps the client's local state in a SQLite file so that a
// restarted client can resume its last session instead of logging in again.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophchat/internal/client/migrations"
	"github.com/dmitrijs2005/gophchat/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/filex"
	"github.com/pressly/goose/v3"
)

type Store struct {
	db       *sql.DB
	metadata metadata.Repository
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if needed) the state database at path, along with
// its directory.
func Open(ctx context.Context, path string) (*Store, error) {
	if _, err := filex.EnsureParentDir(path); err != nil {
		return nil, err
	}
	db, _, err := dbx.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("client migrations: %w", err)
	}
	return &Store{db: db, metadata: metadata.NewSQLiteRepository(db)}, nil
}

// SavedSession returns the last username and token; both are empty when
// nothing was saved.
func (s *Store) SavedSession(ctx context.Context) (user, token string, err error) {
	user, _, err = s.metadata.Get(ctx, metadata.KeyUserName)
	if err != nil {
		return "", "", err
	}
	token, _, err = s.metadata.Get(ctx, metadata.KeyToken)
	if err != nil {
		return "", "", err
	}
	return user, token, nil
}

// SaveSession stores user and token in one transaction.
func (s *Store) SaveSession(ctx context.Context, user, token string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		if err := repo.Set(ctx, metadata.KeyUserName, user); err != nil {
			return err
		}
		return repo.Set(ctx, metadata.KeyToken, token)
	})
}

// ForgetToken drops the token but keeps the username as a login hint.
func (s *Store) ForgetToken(ctx context.Context) error {
	return s.metadata.Delete(ctx, metadata.KeyToken)
}

func (s *Store) Close() error {
	return s.db.Close()
}

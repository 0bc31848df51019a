package users

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
)

// SQLRepository implements Repository over dbx.DBTX for both SQLite and
// PostgreSQL. Binary fields are stored hex-encoded and times as unix
// milliseconds so one schema serves both databases.
type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

func (r *SQLRepository) Create(ctx context.Context, user *models.User) error {
	query := dbx.Rebind(r.dialect, `
		INSERT INTO users (username, salt, password_hash, iterations, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		user.UserName,
		hex.EncodeToString(user.Salt),
		hex.EncodeToString(user.PasswordHash),
		user.Iterations,
		user.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) GetByName(ctx context.Context, userName string) (*models.User, error) {
	query := dbx.Rebind(r.dialect, `
		SELECT username, salt, password_hash, iterations, created_at
		FROM users
		WHERE username = ?
	`)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, userName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *SQLRepository) List(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT username, salt, password_hash, iterations, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*models.User, error) {
	var (
		user          models.User
		salt, hash    string
		createdMillis int64
	)
	if err := s.Scan(&user.UserName, &salt, &hash, &user.Iterations, &createdMillis); err != nil {
		return nil, err
	}

	var err error
	if user.Salt, err = hex.DecodeString(salt); err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	if user.PasswordHash, err = hex.DecodeString(hash); err != nil {
		return nil, fmt.Errorf("decode password hash: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdMillis)
	return &user, nil
}

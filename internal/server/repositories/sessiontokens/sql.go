package sessiontokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
)

// SQLRepository implements Repository over dbx.DBTX.
type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

// Replace runs two statements; callers wanting atomicity pass a *sql.Tx.
func (r *SQLRepository) Replace(ctx context.Context, token *models.SessionToken) error {
	if err := r.DeleteByUser(ctx, token.UserName); err != nil {
		return err
	}

	query := dbx.Rebind(r.dialect, `
		INSERT INTO session_tokens (token, username, issued_at, expires_at)
		VALUES (?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		token.Token, token.UserName, token.IssuedAt.UnixMilli(), token.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

func (r *SQLRepository) Find(ctx context.Context, token string) (*models.SessionToken, error) {
	query := dbx.Rebind(r.dialect, `
		SELECT token, username, issued_at, expires_at
		FROM session_tokens
		WHERE token = ?
	`)

	t, err := scanToken(r.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *SQLRepository) DeleteByUser(ctx context.Context, userName string) error {
	query := dbx.Rebind(r.dialect, `DELETE FROM session_tokens WHERE username = ?`)
	if _, err := r.db.ExecContext(ctx, query, userName); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := dbx.Rebind(r.dialect, `DELETE FROM session_tokens WHERE expires_at < ?`)
	res, err := r.db.ExecContext(ctx, query, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) ListActive(ctx context.Context, now time.Time) ([]*models.SessionToken, error) {
	query := dbx.Rebind(r.dialect, `
		SELECT token, username, issued_at, expires_at
		FROM session_tokens
		WHERE expires_at >= ?
	`)
	rows, err := r.db.QueryContext(ctx, query, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.SessionToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanToken(s scanner) (*models.SessionToken, error) {
	var (
		t                 models.SessionToken
		issued, expiresAt int64
	)
	if err := s.Scan(&t.Token, &t.UserName, &issued, &expiresAt); err != nil {
		return nil, err
	}
	t.IssuedAt = time.UnixMilli(issued)
	t.ExpiresAt = time.UnixMilli(expiresAt)
	return &t, nil
}

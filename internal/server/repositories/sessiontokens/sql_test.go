package sessiontokens

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gophchat/internal/common"
	"github.com/dmitrijs2005/gophchat/internal/dbx"
	"github.com/dmitrijs2005/gophchat/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLRepository(db, dbx.DialectPostgres), mock
}

func TestReplace_DeletesThenInserts(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	issued := time.UnixMilli(1000)
	expires := time.UnixMilli(5000)

	mock.ExpectExec(`DELETE\s+FROM\s+session_tokens\s+WHERE\s+username\s*=\s*\$1`).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)INSERT\s+INTO\s+session_tokens\b.*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)`).
		WithArgs("tok", "alice", int64(1000), int64(5000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Replace(context.Background(), &models.SessionToken{Token: "tok", UserName: "alice", IssuedAt: issued, ExpiresAt: expires})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplace_DeleteErrorStops(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`DELETE`).WillReturnError(errors.New("db err"))

	err := repo.Replace(context.Background(), &models.SessionToken{Token: "tok", UserName: "alice"})
	assert.ErrorContains(t, err, "db err")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFind_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SELECT.*FROM\s+session_tokens\s+WHERE\s+token\s*=\s*\$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFind_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT`).WithArgs("tok").WillReturnError(errors.New("db err"))

	_, err := repo.Find(context.Background(), "tok")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorNotFound)
}

func TestDeleteExpired_ReportsRows(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	now := time.UnixMilli(9000)
	mock.ExpectExec(`DELETE\s+FROM\s+session_tokens\s+WHERE\s+expires_at\s*<\s*\$1`).
		WithArgs(int64(9000)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

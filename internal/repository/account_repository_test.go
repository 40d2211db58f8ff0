package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirk1998/login-gatekeeper/internal/models"
	"github.com/amirk1998/login-gatekeeper/pkg/errors"
)

func newRepoWithMock(t *testing.T) (*AccountRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAccountRepository(db), mock
}

var accountColumns = []string{"username", "password_hash", "failed_attempts", "locked_until", "version", "created_at", "updated_at"}

func TestCreateAccount_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM accounts WHERE username = \$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs("alice", "hash", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	account := &models.Account{Username: "alice", PasswordHash: "hash", FailedAttempts: 3}
	require.NoError(t, repo.CreateAccount(context.Background(), account))

	assert.Equal(t, 0, account.FailedAttempts)
	assert.Nil(t, account.LockedUntil)
	assert.False(t, account.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount_Duplicate(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM accounts`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.CreateAccount(context.Background(), &models.Account{Username: "alice", PasswordHash: "hash"})
	assert.ErrorIs(t, err, errors.ErrAccountExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAccount_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)SELECT\s+username,\s*password_hash.*FROM\s+accounts\s+WHERE\s+username\s*=\s*\$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow("alice", "hash", 4, until, int64(7), created, created))

	got, err := repo.FindAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, 4, got.FailedAttempts)
	assert.Equal(t, int64(7), got.Version)
	require.NotNil(t, got.LockedUntil)
	assert.True(t, got.LockedUntil.Equal(until))
}

func TestFindAccount_NullLock(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`FROM\s+accounts`).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow("bob", "hash", 0, nil, int64(0), now, now))

	got, err := repo.FindAccount(context.Background(), "bob")
	require.NoError(t, err)
	assert.Nil(t, got.LockedUntil)
}

func TestFindAccount_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+accounts`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestFindAccount_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+accounts`).
		WithArgs("alice").
		WillReturnError(stderrors.New("db down"))

	_, err := repo.FindAccount(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.NotErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestUpdateCounters_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	until := time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)
	mock.ExpectExec(`(?s)UPDATE\s+accounts\s+SET\s+failed_attempts\s*=\s*\$1.*WHERE\s+username\s*=\s*\$4\s+AND\s+version\s*=\s*\$5`).
		WithArgs(5, until, sqlmock.AnyArg(), "alice", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateCounters(context.Background(), "alice", 3, 5, &until))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCounters_ClearsLock(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE\s+accounts`).
		WithArgs(0, nil, sqlmock.AnyArg(), "alice", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateCounters(context.Background(), "alice", 3, 0, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateCounters_VersionConflict(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE\s+accounts`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM accounts`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := repo.UpdateCounters(context.Background(), "alice", 3, 1, nil)
	assert.ErrorIs(t, err, errors.ErrVersionConflict)
}

func TestUpdateCounters_AccountGone(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE\s+accounts`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM accounts`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err := repo.UpdateCounters(context.Background(), "alice", 3, 1, nil)
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestUpdatePasswordHash(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`(?s)UPDATE\s+accounts\s+SET\s+password_hash\s*=\s*\$1,\s*failed_attempts\s*=\s*0,\s*locked_until\s*=\s*NULL`).
		WithArgs("newhash", sqlmock.AnyArg(), "alice", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdatePasswordHash(context.Background(), "alice", 2, "newhash"))
	require.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/amirk1998/login-gatekeeper/internal/database"
	"github.com/amirk1998/login-gatekeeper/internal/models"
	"github.com/amirk1998/login-gatekeeper/pkg/errors"
)

// AccountRepository stores accounts in SQLCipher or PostgreSQL. Queries use
// $n placeholders, which both drivers accept.
type AccountRepository struct {
	db *sql.DB
	tx *database.TransactionManager
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db, tx: database.NewTransactionManager(db)}
}

// CreateAccount inserts a new account with zeroed counters.
func (r *AccountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()

	err := r.tx.Execute(ctx, func(ctx context.Context, tx database.DBTX) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM accounts WHERE username = $1`,
			account.Username,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check account: %w", err)
		}
		if exists > 0 {
			return errors.ErrAccountExists
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO accounts (username, password_hash, failed_attempts, locked_until, version, created_at, updated_at)
			VALUES ($1, $2, 0, NULL, 0, $3, $4)`,
			account.Username,
			account.PasswordHash,
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.Version = 0
	account.CreatedAt = now
	account.UpdatedAt = now

	return nil
}

// FindAccount retrieves an account by username
func (r *AccountRepository) FindAccount(ctx context.Context, username string) (*models.Account, error) {
	query := `
		SELECT username, password_hash, failed_attempts, locked_until, version, created_at, updated_at
		FROM accounts
		WHERE username = $1`

	account := &models.Account{}
	var lockedUntil sql.NullTime
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&account.Username,
		&account.PasswordHash,
		&account.FailedAttempts,
		&lockedUntil,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if lockedUntil.Valid {
		t := lockedUntil.Time.UTC()
		account.LockedUntil = &t
	}

	return account, nil
}

// UpdateCounters writes the failure counter and lock deadline if the stored
// version still equals expectedVersion.
func (r *AccountRepository) UpdateCounters(ctx context.Context, username string, expectedVersion int64, failedAttempts int, lockedUntil *time.Time) error {
	query := `
		UPDATE accounts
		SET failed_attempts = $1, locked_until = $2, version = version + 1, updated_at = $3
		WHERE username = $4 AND version = $5`

	result, err := r.db.ExecContext(ctx, query,
		failedAttempts,
		nullTime(lockedUntil),
		time.Now().UTC(),
		username,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update counters: %w", err)
	}

	return r.checkVersioned(ctx, result, username)
}

// UpdatePasswordHash replaces the stored hash and clears the counters under
// the same version check as UpdateCounters.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, username string, expectedVersion int64, passwordHash string) error {
	query := `
		UPDATE accounts
		SET password_hash = $1, failed_attempts = 0, locked_until = NULL, version = version + 1, updated_at = $2
		WHERE username = $3 AND version = $4`

	result, err := r.db.ExecContext(ctx, query,
		passwordHash,
		time.Now().UTC(),
		username,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return r.checkVersioned(ctx, result, username)
}

// checkVersioned maps a zero-row update to ErrVersionConflict, or to
// ErrAccountNotFound when the row is gone.
func (r *AccountRepository) checkVersioned(ctx context.Context, result sql.Result, username string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM accounts WHERE username = $1`, username).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if exists == 0 {
		return errors.ErrAccountNotFound
	}

	return errors.ErrVersionConflict
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

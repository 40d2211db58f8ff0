package repository

import (
	"context"
	"sync"
	"time"

	"github.com/amirk1998/login-gatekeeper/internal/models"
	"github.com/amirk1998/login-gatekeeper/pkg/errors"
)

// MemoryAccountRepository keeps accounts in process memory. It implements
// the same version-checked writes as AccountRepository.
type MemoryAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{accounts: make(map[string]*models.Account)}
}

func (r *MemoryAccountRepository) CreateAccount(ctx context.Context, account *models.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.Username]; ok {
		return errors.ErrAccountExists
	}

	now := time.Now().UTC()
	account.FailedAttempts = 0
	account.LockedUntil = nil
	account.Version = 0
	account.CreatedAt = now
	account.UpdatedAt = now
	r.accounts[account.Username] = copyAccount(account)

	return nil
}

func (r *MemoryAccountRepository) FindAccount(ctx context.Context, username string) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[username]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (r *MemoryAccountRepository) UpdateCounters(ctx context.Context, username string, expectedVersion int64, failedAttempts int, lockedUntil *time.Time) error {
	return r.update(ctx, username, expectedVersion, func(a *models.Account) {
		a.FailedAttempts = failedAttempts
		a.LockedUntil = copyTime(lockedUntil)
	})
}

func (r *MemoryAccountRepository) UpdatePasswordHash(ctx context.Context, username string, expectedVersion int64, passwordHash string) error {
	return r.update(ctx, username, expectedVersion, func(a *models.Account) {
		a.PasswordHash = passwordHash
		a.FailedAttempts = 0
		a.LockedUntil = nil
	})
}

func (r *MemoryAccountRepository) update(ctx context.Context, username string, expectedVersion int64, apply func(*models.Account)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[username]
	if !ok {
		return errors.ErrAccountNotFound
	}
	if account.Version != expectedVersion {
		return errors.ErrVersionConflict
	}

	apply(account)
	account.Version++
	account.UpdatedAt = time.Now().UTC()

	return nil
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	c.LockedUntil = copyTime(a.LockedUntil)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := t.UTC()
	return &c
}

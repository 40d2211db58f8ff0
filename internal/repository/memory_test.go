package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirk1998/login-gatekeeper/internal/models"
	"github.com/amirk1998/login-gatekeeper/pkg/errors"
)

func TestMemoryAccountRepository_CreateAndFind(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()

	require.NoError(t, repo.CreateAccount(ctx, &models.Account{Username: "alice", PasswordHash: "h"}))
	assert.ErrorIs(t, repo.CreateAccount(ctx, &models.Account{Username: "alice"}), errors.ErrAccountExists)

	got, err := repo.FindAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "h", got.PasswordHash)
	assert.Equal(t, int64(0), got.Version)

	_, err = repo.FindAccount(ctx, "ghost")
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestMemoryAccountRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateAccount(ctx, &models.Account{Username: "alice", PasswordHash: "h"}))

	got, err := repo.FindAccount(ctx, "alice")
	require.NoError(t, err)
	got.FailedAttempts = 99

	again, err := repo.FindAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, again.FailedAttempts)
}

func TestMemoryAccountRepository_UpdateCounters(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateAccount(ctx, &models.Account{Username: "alice", PasswordHash: "h"}))

	until := time.Now().Add(time.Hour)
	require.NoError(t, repo.UpdateCounters(ctx, "alice", 0, 5, &until))

	got, err := repo.FindAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 5, got.FailedAttempts)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.LockedUntil)
	assert.True(t, got.LockedUntil.Equal(until))

	assert.ErrorIs(t, repo.UpdateCounters(ctx, "alice", 0, 1, nil), errors.ErrVersionConflict)
	assert.ErrorIs(t, repo.UpdateCounters(ctx, "ghost", 0, 1, nil), errors.ErrAccountNotFound)
}

func TestMemoryAccountRepository_UpdatePasswordHashClearsCounters(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateAccount(ctx, &models.Account{Username: "alice", PasswordHash: "h"}))

	until := time.Now().Add(time.Hour)
	require.NoError(t, repo.UpdateCounters(ctx, "alice", 0, 3, &until))
	require.NoError(t, repo.UpdatePasswordHash(ctx, "alice", 1, "h2"))

	got, err := repo.FindAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.PasswordHash)
	assert.Equal(t, 0, got.FailedAttempts)
	assert.Nil(t, got.LockedUntil)
}

func TestMemoryAccountRepository_CancelledContext(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.FindAccount(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryAccountRepository_SingleWinnerPerVersion(t *testing.T) {
	repo := NewMemoryAccountRepository()
	ctx := context.Background()
	require.NoError(t, repo.CreateAccount(ctx, &models.Account{Username: "alice", PasswordHash: "h"}))

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if repo.UpdateCounters(ctx, "alice", 0, 1, nil) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

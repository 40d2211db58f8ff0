package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/amirk1998/login-gatekeeper/internal/auth"
	"github.com/amirk1998/login-gatekeeper/internal/captcha"
	"github.com/amirk1998/login-gatekeeper/internal/gatekeeper"
	"github.com/amirk1998/login-gatekeeper/internal/models"
	"github.com/amirk1998/login-gatekeeper/internal/ratelimit"
	"github.com/amirk1998/login-gatekeeper/internal/repository"
	"github.com/amirk1998/login-gatekeeper/internal/security"
	"github.com/amirk1998/login-gatekeeper/pkg/errors"
)

const (
	strongPassword = "Correct-Horse-42"
	answer         = "4821"
)

// fixedIssuer stores a known answer so tests can solve the challenge.
type fixedIssuer struct {
	store *captcha.MemoryStore
}

func (f fixedIssuer) Issue(ctx context.Context, sessionID string) ([]byte, error) {
	if err := f.store.Put(ctx, sessionID, answer); err != nil {
		return nil, err
	}
	return []byte("png"), nil
}

type countingChallenges struct{ n int }

func (c *countingChallenges) IncChallengeIssued() { c.n++ }

type fixture struct {
	svc    *AuthService
	repo   *repository.MemoryAccountRepository
	hasher *security.PasswordHasher
	issued *countingChallenges
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := repository.NewMemoryAccountRepository()
	store := captcha.NewMemoryStore(time.Hour)
	hasher := security.NewPasswordHasherWithParams(1, 8*1024, 1)

	dummy, err := hasher.Hash("dummy")
	require.NoError(t, err)

	cfg := gatekeeper.DefaultConfig()
	cfg.DummyHash = dummy
	gk := gatekeeper.New(repo, hasher, store, cfg)

	f := &fixture{
		repo:   repo,
		hasher: hasher,
		issued: &countingChallenges{},
		now:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewAuthService(Deps{
		Accounts:    repo,
		Gatekeeper:  gk,
		Challenges:  fixedIssuer{store: store},
		Hasher:      hasher,
		Tokens:      auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour),
		RateLimiter: ratelimit.NewRateLimiter(100, 100),
		Recorder:    f.issued,
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) register(t *testing.T, username string) {
	t.Helper()
	_, err := f.svc.Register(context.Background(), &models.RegisterRequest{Username: username, Password: strongPassword})
	require.NoError(t, err)
}

func (f *fixture) login(t *testing.T, username, password string) *LoginResult {
	t.Helper()
	ctx := context.Background()
	session := f.svc.NewSession()
	_, err := f.svc.IssueChallenge(ctx, session)
	require.NoError(t, err)
	return f.svc.Login(ctx, &models.LoginRequest{
		Username:          username,
		Password:          password,
		ChallengeResponse: answer,
		SessionID:         session,
	})
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.svc.Register(ctx, &models.RegisterRequest{Username: "  alice  ", Password: strongPassword})
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)
	assert.NotEqual(t, strongPassword, account.PasswordHash)

	_, err = f.svc.Register(ctx, &models.RegisterRequest{Username: "alice", Password: strongPassword})
	assert.ErrorIs(t, err, errors.ErrAccountExists)

	_, err = f.svc.Register(ctx, &models.RegisterRequest{Username: "a", Password: strongPassword})
	assert.ErrorIs(t, err, errors.ErrInvalidUsername)

	_, err = f.svc.Register(ctx, &models.RegisterRequest{Username: "bob", Password: "short"})
	assert.ErrorIs(t, err, errors.ErrWeakPassword)
}

func TestRegister_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.svc.rateLimiter = ratelimit.NewRateLimiter(1, 1)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, &models.RegisterRequest{Username: "alice", Password: strongPassword})
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, &models.RegisterRequest{Username: "bob", Password: strongPassword})
	assert.ErrorIs(t, err, errors.ErrRateLimitExceeded)
}

func TestIssueChallenge(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.IssueChallenge(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, errors.ErrInvalidSession)

	img, err := f.svc.IssueChallenge(context.Background(), f.svc.NewSession())
	require.NoError(t, err)
	assert.NotEmpty(t, img)
	assert.Equal(t, 1, f.issued.n)
}

func TestLogin_SuccessIssuesToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	res := f.login(t, "alice", strongPassword)

	require.Equal(t, gatekeeper.Success, res.Outcome.Kind)
	require.NotEmpty(t, res.Token)
	assert.Equal(t, f.now.Add(time.Hour), res.ExpiresAt)

	username, err := f.svc.Authenticate(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestLogin_FailureHasNoToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")

	res := f.login(t, "alice", "Wrong-Password-1")

	assert.Equal(t, gatekeeper.InvalidCredentials, res.Outcome.Kind)
	assert.Equal(t, 4, res.Outcome.AttemptsRemaining)
	assert.Empty(t, res.Token)
}

func TestLogin_UpgradesLegacyHash(t *testing.T) {
	f := newFixture(t)
	legacy, err := bcrypt.GenerateFromPassword([]byte(strongPassword), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, f.repo.CreateAccount(context.Background(), &models.Account{Username: "carol", PasswordHash: string(legacy)}))

	res := f.login(t, "carol", strongPassword)
	require.Equal(t, gatekeeper.Success, res.Outcome.Kind)

	stored, err := f.repo.FindAccount(context.Background(), "carol")
	require.NoError(t, err)
	assert.False(t, f.hasher.NeedsRehash(stored.PasswordHash))

	ok, err := f.hasher.Verify(strongPassword, stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()
	newPassword := "Battery-Staple-99"

	err := f.svc.ChangePassword(ctx, "alice", &models.ChangePasswordRequest{OldPassword: "nope", NewPassword: newPassword})
	assert.ErrorIs(t, err, errors.ErrInvalidCredentials)

	err = f.svc.ChangePassword(ctx, "alice", &models.ChangePasswordRequest{OldPassword: strongPassword, NewPassword: "weak"})
	assert.ErrorIs(t, err, errors.ErrWeakPassword)

	require.NoError(t, f.svc.ChangePassword(ctx, "alice", &models.ChangePasswordRequest{OldPassword: strongPassword, NewPassword: newPassword}))
	assert.Equal(t, gatekeeper.Success, f.login(t, "alice", newPassword).Outcome.Kind)
}

func TestChangePassword_RejectedWhileLocked(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	until := f.now.Add(time.Minute)
	require.NoError(t, f.repo.UpdateCounters(context.Background(), "alice", 0, 5, &until))

	err := f.svc.ChangePassword(context.Background(), "alice", &models.ChangePasswordRequest{OldPassword: strongPassword, NewPassword: "Battery-Staple-99"})
	assert.ErrorIs(t, err, errors.ErrAccountLocked)
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.login(t, "alice", "Wrong-Password-1")
	}
	require.Equal(t, gatekeeper.Locked, f.login(t, "alice", strongPassword).Outcome.Kind)

	require.NoError(t, f.svc.Unlock(ctx, "alice"))

	account, err := f.repo.FindAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, account.FailedAttempts)
	assert.Nil(t, account.LockedUntil)
	assert.Equal(t, gatekeeper.Success, f.login(t, "alice", strongPassword).Outcome.Kind)

	assert.ErrorIs(t, f.svc.Unlock(ctx, "ghost"), errors.ErrAccountNotFound)
}

// Package gatekeeper decides the outcome of a login attempt. It checks a
// one-time challenge, enforces a failure-count lockout with lazy expiry, and
// persists counters with version-checked writes.
package gatekeeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/amirk1998/login-gatekeeper/internal/audit"
	"github.com/amirk1998/login-gatekeeper/internal/captcha"
	"github.com/amirk1998/login-gatekeeper/internal/logging"
	"github.com/amirk1998/login-gatekeeper/internal/models"
	apperrors "github.com/amirk1998/login-gatekeeper/pkg/errors"
)

const (
	DefaultThreshold          = 5
	DefaultLockoutDuration    = 30 * time.Minute
	DefaultMaxConflictRetries = 10
)

// CredentialStore reads accounts and writes counters with compare-and-set
// semantics on Account.Version.
type CredentialStore interface {
	FindAccount(ctx context.Context, username string) (*models.Account, error)
	UpdateCounters(ctx context.Context, username string, expectedVersion int64, failedAttempts int, lockedUntil *time.Time) error
}

type PasswordVerifier interface {
	Verify(password, encodedHash string) (bool, error)
}

type ChallengeStore interface {
	Consume(ctx context.Context, sessionID, candidate string) (captcha.Result, error)
}

type Auditor interface {
	Log(event *audit.Event) error
}

type Recorder interface {
	ObserveOutcome(outcome string, d time.Duration)
	IncConflict()
}

type Config struct {
	Threshold          int
	LockoutDuration    time.Duration
	MaxConflictRetries int

	// DummyHash is verified against when the account does not exist.
	DummyHash string
}

func DefaultConfig() Config {
	return Config{
		Threshold:          DefaultThreshold,
		LockoutDuration:    DefaultLockoutDuration,
		MaxConflictRetries: DefaultMaxConflictRetries,
	}
}

// Attempt is one login request as seen by the gatekeeper.
type Attempt struct {
	Username          string
	Password          string
	ChallengeResponse string
	SessionID         string
	RemoteAddr        string
}

type Gatekeeper struct {
	store      CredentialStore
	verifier   PasswordVerifier
	challenges ChallengeStore
	cfg        Config
	auditor    Auditor
	recorder   Recorder
	log        logging.Logger
}

// Option configures optional collaborators.
type Option func(*Gatekeeper)

func WithAuditor(a Auditor) Option {
	return func(g *Gatekeeper) {
		if a != nil {
			g.auditor = a
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(g *Gatekeeper) {
		if r != nil {
			g.recorder = r
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(g *Gatekeeper) {
		if l != nil {
			g.log = l
		}
	}
}

// New creates a gatekeeper. Zero values in cfg fall back to the defaults.
func New(store CredentialStore, verifier PasswordVerifier, challenges ChallengeStore, cfg Config, opts ...Option) *Gatekeeper {
	if cfg.Threshold < 1 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = DefaultLockoutDuration
	}
	if cfg.MaxConflictRetries < 1 {
		cfg.MaxConflictRetries = DefaultMaxConflictRetries
	}

	g := &Gatekeeper{
		store:      store,
		verifier:   verifier,
		challenges: challenges,
		cfg:        cfg,
		auditor:    nopAuditor{},
		recorder:   nopRecorder{},
		log:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Config returns the effective configuration.
func (g *Gatekeeper) Config() Config {
	return g.cfg
}

// AttemptLogin evaluates one attempt at instant now and returns exactly one
// outcome. The challenge is consumed first and is never re-consumed when
// the counter write has to be retried.
func (g *Gatekeeper) AttemptLogin(ctx context.Context, a Attempt, now time.Time) Outcome {
	start := time.Now()
	out := g.attempt(ctx, a, now)
	g.record(ctx, a, out, time.Since(start))
	return out
}

func (g *Gatekeeper) attempt(ctx context.Context, a Attempt, now time.Time) Outcome {
	res, err := g.challenges.Consume(ctx, a.SessionID, a.ChallengeResponse)
	if err != nil {
		return storeError(fmt.Errorf("consume challenge: %w", err))
	}
	if res != captcha.Matched {
		return Outcome{Kind: ChallengeFailed}
	}

	// Verification results keyed by stored hash, reused across retries.
	verified := make(map[string]bool)

	for try := 0; try <= g.cfg.MaxConflictRetries; try++ {
		if err := ctx.Err(); err != nil {
			return storeError(err)
		}

		acct, err := g.store.FindAccount(ctx, a.Username)
		if errors.Is(err, apperrors.ErrAccountNotFound) {
			g.burnVerify(a.Password)
			return Outcome{Kind: AccountNotFound}
		}
		if err != nil {
			return storeError(fmt.Errorf("find account: %w", err))
		}

		if acct.IsLocked(now) {
			return Outcome{Kind: Locked, RetryAfter: acct.LockedUntil.Sub(now)}
		}

		match, ok := verified[acct.PasswordHash]
		if !ok {
			match, err = g.verifier.Verify(a.Password, acct.PasswordHash)
			if err != nil {
				return storeError(fmt.Errorf("verify password: %w", err))
			}
			verified[acct.PasswordHash] = match
		}

		out, failed, lockedUntil := g.decide(acct, match, now)

		if failed == acct.FailedAttempts && lockedUntil == nil && acct.LockedUntil == nil {
			if out.Kind == Success {
				out.Account = acct
			}
			return out
		}

		if err := ctx.Err(); err != nil {
			return storeError(err)
		}

		err = g.store.UpdateCounters(ctx, acct.Username, acct.Version, failed, lockedUntil)
		switch {
		case err == nil:
			if out.Kind == Success {
				acct.FailedAttempts = 0
				acct.LockedUntil = nil
				acct.Version++
				out.Account = acct
			}
			return out
		case errors.Is(err, apperrors.ErrVersionConflict):
			g.recorder.IncConflict()
			g.log.Debug(ctx, "counter update lost race, retrying", "username", a.Username, "try", try)
			continue
		case errors.Is(err, apperrors.ErrAccountNotFound):
			return Outcome{Kind: AccountNotFound}
		default:
			return storeError(fmt.Errorf("update counters: %w", err))
		}
	}

	return storeError(fmt.Errorf("%w: gave up after %d retries", apperrors.ErrVersionConflict, g.cfg.MaxConflictRetries))
}

// decide applies the lockout rules to an account whose lock is not active.
// An expired lock resets the counters before the credential is judged.
func (g *Gatekeeper) decide(acct *models.Account, match bool, now time.Time) (Outcome, int, *time.Time) {
	failed := acct.FailedAttempts
	if acct.LockedUntil != nil {
		failed = 0
	}

	if match {
		return Outcome{Kind: Success}, 0, nil
	}

	n := failed + 1
	if n >= g.cfg.Threshold {
		until := now.Add(g.cfg.LockoutDuration)
		return Outcome{Kind: LockedJustNow, RetryAfter: g.cfg.LockoutDuration}, g.cfg.Threshold, &until
	}

	return Outcome{Kind: InvalidCredentials, AttemptsRemaining: g.cfg.Threshold - n}, n, nil
}

// burnVerify spends the same work as a real verification.
func (g *Gatekeeper) burnVerify(password string) {
	if g.cfg.DummyHash == "" {
		return
	}
	_, _ = g.verifier.Verify(password, g.cfg.DummyHash)
}

func storeError(err error) Outcome {
	return Outcome{Kind: StoreError, Err: err}
}

func (g *Gatekeeper) record(ctx context.Context, a Attempt, out Outcome, elapsed time.Duration) {
	g.recorder.ObserveOutcome(out.Kind.String(), elapsed)

	level := audit.LevelWarning
	switch out.Kind {
	case Success:
		level = audit.LevelInfo
	case LockedJustNow:
		level = audit.LevelCritical
		g.log.Warn(ctx, "account locked", "username", a.Username, "retry_after", out.RetryAfter)
	case StoreError:
		level = audit.LevelError
		g.log.Error(ctx, "login attempt failed", "username", a.Username, "error", out.Err)
	}

	meta := map[string]any{"outcome": out.Kind.String()}
	if out.RetryAfter > 0 {
		meta["retry_after_seconds"] = int64(out.RetryAfter / time.Second)
	}
	if out.Kind == InvalidCredentials {
		meta["attempts_remaining"] = out.AttemptsRemaining
	}
	metadata, _ := json.Marshal(meta)

	event := &audit.Event{
		Level:     level,
		Username:  a.Username,
		Action:    audit.ActionLogin,
		Resource:  "authentication",
		IPAddress: a.RemoteAddr,
		Success:   out.Kind == Success,
		Metadata:  string(metadata),
	}
	if out.Kind != Success {
		event.ErrorMsg = out.Kind.String()
	}

	if err := g.auditor.Log(event); err != nil {
		g.log.Warn(ctx, "failed to audit login attempt", "error", err)
	}
}

type nopAuditor struct{}

func (nopAuditor) Log(*audit.Event) error { return nil }

type nopRecorder struct{}

func (nopRecorder) ObserveOutcome(string, time.Duration) {}
func (nopRecorder) IncConflict()                         {}

package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/amirk1998/login-gatekeeper/internal/audit"
	"github.com/amirk1998/login-gatekeeper/internal/auth"
	"github.com/amirk1998/login-gatekeeper/internal/gatekeeper"
	"github.com/amirk1998/login-gatekeeper/internal/logging"
	"github.com/amirk1998/login-gatekeeper/internal/models"
	"github.com/amirk1998/login-gatekeeper/internal/ratelimit"
	"github.com/amirk1998/login-gatekeeper/internal/security"
	"github.com/amirk1998/login-gatekeeper/pkg/errors"
	"github.com/amirk1998/login-gatekeeper/pkg/validator"
)

// AccountStore is the persistence the service needs on top of what the
// gatekeeper reads and writes.
type AccountStore interface {
	gatekeeper.CredentialStore
	CreateAccount(ctx context.Context, account *models.Account) error
	UpdatePasswordHash(ctx context.Context, username string, expectedVersion int64, passwordHash string) error
}

type ChallengeIssuer interface {
	Issue(ctx context.Context, sessionID string) ([]byte, error)
}

type ChallengeRecorder interface {
	IncChallengeIssued()
}

// Deps are the collaborators of AuthService. Auditor, Recorder and Logger
// are optional.
type Deps struct {
	Accounts    AccountStore
	Gatekeeper  *gatekeeper.Gatekeeper
	Challenges  ChallengeIssuer
	Hasher      *security.PasswordHasher
	Tokens      *auth.TokenIssuer
	RateLimiter ratelimit.Limiter
	Auditor     gatekeeper.Auditor
	Recorder    ChallengeRecorder
	Logger      logging.Logger
}

type AuthService struct {
	accounts    AccountStore
	gk          *gatekeeper.Gatekeeper
	challenges  ChallengeIssuer
	hasher      *security.PasswordHasher
	tokens      *auth.TokenIssuer
	validator   *validator.Validator
	rateLimiter ratelimit.Limiter
	auditLogger gatekeeper.Auditor
	recorder    ChallengeRecorder
	log         logging.Logger
	now         func() time.Time
}

// LoginResult carries the gatekeeper outcome and, on success, the session
// token issued for it.
type LoginResult struct {
	Outcome   gatekeeper.Outcome
	Token     string
	ExpiresAt time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(d Deps) *AuthService {
	s := &AuthService{
		accounts:    d.Accounts,
		gk:          d.Gatekeeper,
		challenges:  d.Challenges,
		hasher:      d.Hasher,
		tokens:      d.Tokens,
		validator:   validator.New(),
		rateLimiter: d.RateLimiter,
		auditLogger: d.Auditor,
		recorder:    d.Recorder,
		log:         d.Logger,
		now:         time.Now,
	}
	if s.auditLogger == nil {
		s.auditLogger = discardAuditor{}
	}
	if s.log == nil {
		s.log = logging.Discard()
	}
	return s
}

// NewSession returns a fresh opaque session id.
func (s *AuthService) NewSession() string {
	return uuid.NewString()
}

// IssueChallenge renders a challenge for sessionID, replacing any pending one.
func (s *AuthService) IssueChallenge(ctx context.Context, sessionID string) ([]byte, error) {
	if err := s.validator.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	img, err := s.challenges.Issue(ctx, sessionID)
	if err != nil {
		s.log.Error(ctx, "failed to issue challenge", "error", err)
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.IncChallengeIssued()
	}
	return img, nil
}

// Register creates a new account
func (s *AuthService) Register(ctx context.Context, req *models.RegisterRequest) (*models.Account, error) {
	// Rate limiting
	if s.rateLimiter != nil && !s.rateLimiter.Allow(ctx, "register") {
		s.audit(audit.LevelWarning, "", audit.ActionRegister, false, "rate limit exceeded")
		return nil, errors.ErrRateLimitExceeded
	}

	req.Username = s.validator.SanitizeString(req.Username)

	if err := s.validator.ValidateUsername(req.Username); err != nil {
		s.audit(audit.LevelWarning, "", audit.ActionRegister, false, err.Error())
		return nil, err
	}

	if err := s.validator.ValidatePassword(req.Password); err != nil {
		s.audit(audit.LevelWarning, req.Username, audit.ActionRegister, false, err.Error())
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		s.audit(audit.LevelError, req.Username, audit.ActionRegister, false, err.Error())
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.Account{
		Username:     req.Username,
		PasswordHash: passwordHash,
	}

	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if stderrors.Is(err, errors.ErrAccountExists) {
			s.audit(audit.LevelWarning, req.Username, audit.ActionRegister, false, "username already exists")
			return nil, err
		}
		s.audit(audit.LevelError, req.Username, audit.ActionRegister, false, err.Error())
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.audit(audit.LevelInfo, account.Username, audit.ActionRegister, true, "")
	s.log.Info(ctx, "account registered", "username", account.Username)

	return account, nil
}

// Login runs the attempt through the gatekeeper and issues a session token
// on success.
func (s *AuthService) Login(ctx context.Context, req *models.LoginRequest) *LoginResult {
	now := s.now()

	out := s.gk.AttemptLogin(ctx, gatekeeper.Attempt{
		Username:          s.validator.SanitizeString(req.Username),
		Password:          req.Password,
		ChallengeResponse: req.ChallengeResponse,
		SessionID:         req.SessionID,
		RemoteAddr:        req.RemoteAddr,
	}, now)

	result := &LoginResult{Outcome: out}
	if out.Kind != gatekeeper.Success {
		return result
	}

	s.upgradeHash(ctx, out.Account, req.Password)

	token, expiresAt, err := s.tokens.Issue(out.Account.Username, now)
	if err != nil {
		s.log.Error(ctx, "failed to issue session token", "username", out.Account.Username, "error", err)
		result.Outcome = gatekeeper.Outcome{Kind: gatekeeper.StoreError, Err: err}
		return result
	}

	result.Token = token
	result.ExpiresAt = expiresAt
	return result
}

// upgradeHash rewrites a legacy or weaker hash after a verified login. A
// lost race is ignored; the next login tries again.
func (s *AuthService) upgradeHash(ctx context.Context, account *models.Account, password string) {
	if !s.hasher.NeedsRehash(account.PasswordHash) {
		return
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		s.log.Warn(ctx, "failed to rehash password", "username", account.Username, "error", err)
		return
	}

	if err := s.accounts.UpdatePasswordHash(ctx, account.Username, account.Version, passwordHash); err != nil {
		s.log.Warn(ctx, "failed to store upgraded hash", "username", account.Username, "error", err)
		return
	}

	account.PasswordHash = passwordHash
	account.Version++
	s.audit(audit.LevelInfo, account.Username, audit.ActionRehash, true, "")
}

// Authenticate validates a session token and returns its username.
func (s *AuthService) Authenticate(token string) (string, error) {
	return s.tokens.Parse(token)
}

// ChangePassword replaces the password of username after checking the old
// one. Counters are cleared by the same write.
func (s *AuthService) ChangePassword(ctx context.Context, username string, req *models.ChangePasswordRequest) error {
	if err := s.validator.ValidatePassword(req.NewPassword); err != nil {
		return err
	}

	account, err := s.accounts.FindAccount(ctx, username)
	if err != nil {
		return err
	}

	if account.IsLocked(s.now()) {
		s.audit(audit.LevelWarning, username, audit.ActionChangePassword, false, "account locked")
		return errors.ErrAccountLocked
	}

	valid, err := s.hasher.Verify(req.OldPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		s.audit(audit.LevelWarning, username, audit.ActionChangePassword, false, "invalid current password")
		return errors.ErrInvalidCredentials
	}

	passwordHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.accounts.UpdatePasswordHash(ctx, username, account.Version, passwordHash); err != nil {
		s.audit(audit.LevelError, username, audit.ActionChangePassword, false, err.Error())
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.audit(audit.LevelInfo, username, audit.ActionChangePassword, true, "")
	return nil
}

// Unlock clears the failure counter and any lock on username.
func (s *AuthService) Unlock(ctx context.Context, username string) error {
	retries := s.gk.Config().MaxConflictRetries

	for try := 0; try <= retries; try++ {
		account, err := s.accounts.FindAccount(ctx, username)
		if err != nil {
			return err
		}
		if account.FailedAttempts == 0 && account.LockedUntil == nil {
			return nil
		}

		err = s.accounts.UpdateCounters(ctx, username, account.Version, 0, nil)
		if stderrors.Is(err, errors.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to unlock account: %w", err)
		}

		s.audit(audit.LevelInfo, username, audit.ActionUnlock, true, "")
		s.log.Info(ctx, "account unlocked", "username", username)
		return nil
	}

	return fmt.Errorf("failed to unlock account: %w", errors.ErrVersionConflict)
}

func (s *AuthService) audit(level audit.LogLevel, username, action string, success bool, msg string) {
	_ = s.auditLogger.Log(&audit.Event{
		Level:    level,
		Username: username,
		Action:   action,
		Resource: "account",
		Success:  success,
		ErrorMsg: msg,
	})
}

type discardAuditor struct{}

func (discardAuditor) Log(*audit.Event) error { return nil }

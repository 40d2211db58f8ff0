package gatekeeper

import (
	"time"

	"github.com/amirk1998/login-gatekeeper/internal/models"
)

// OutcomeKind enumerates the results of a login attempt.
type OutcomeKind int

const (
	ChallengeFailed OutcomeKind = iota + 1
	AccountNotFound
	Locked
	LockedJustNow
	InvalidCredentials
	Success
	StoreError
)

func (k OutcomeKind) String() string {
	switch k {
	case ChallengeFailed:
		return "challenge_failed"
	case AccountNotFound:
		return "account_not_found"
	case Locked:
		return "locked"
	case LockedJustNow:
		return "locked_just_now"
	case InvalidCredentials:
		return "invalid_credentials"
	case Success:
		return "success"
	case StoreError:
		return "store_error"
	default:
		return "unknown"
	}
}

// Outcome is the single result of AttemptLogin. Only the fields relevant to
// Kind are set.
type Outcome struct {
	Kind OutcomeKind

	// RetryAfter is set for Locked and LockedJustNow.
	RetryAfter time.Duration

	// AttemptsRemaining is set for InvalidCredentials.
	AttemptsRemaining int

	// Account is set for Success and reflects the persisted counters.
	Account *models.Account

	// Err is set for StoreError.
	Err error
}

// Retryable reports whether the caller may repeat the attempt unchanged.
func (o Outcome) Retryable() bool {
	return o.Kind == StoreError
}

// PublicMessage is the text shown to the end user. AccountNotFound and
// InvalidCredentials share a message so existence is not revealed.
func (o Outcome) PublicMessage() string {
	switch o.Kind {
	case Success:
		return "login successful"
	case ChallengeFailed:
		return "challenge response incorrect or expired"
	case AccountNotFound, InvalidCredentials:
		return "invalid username or password"
	case Locked, LockedJustNow:
		return "account temporarily locked"
	default:
		return "service temporarily unavailable"
	}
}

package validator

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/amirk1998/login-gatekeeper/pkg/errors"
)

const (
	minPasswordLength = 12
	maxPasswordLength = 128
)

// Username: 3-32 alphanumeric characters, underscores, dots and dashes
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// ValidateUsername checks if username is valid
func (v *Validator) ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return errors.ErrInvalidUsername
	}
	return nil
}

// ValidatePassword checks password strength
func (v *Validator) ValidatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return errors.ErrWeakPassword
	}

	var (
		hasUpper   = false
		hasLower   = false
		hasNumber  = false
		hasSpecial = false
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if !hasUpper || !hasLower || !hasNumber || !hasSpecial {
		return errors.ErrWeakPassword
	}

	return nil
}

// ValidateSessionID checks that a session handle is a UUID issued by us
func (v *Validator) ValidateSessionID(sessionID string) error {
	if err := uuid.Validate(sessionID); err != nil {
		return errors.ErrInvalidSession
	}
	return nil
}

// SanitizeString removes dangerous characters and null bytes
func (v *Validator) SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Trim whitespace
	input = strings.TrimSpace(input)

	return input
}

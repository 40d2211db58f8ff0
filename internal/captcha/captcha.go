// Package captcha issues single-use image challenges bound to a session id
// and checks responses against them.
package captcha

import (
	"bytes"
	"context"
	"crypto/subtle"
	"fmt"

	dcaptcha "github.com/dchest/captcha"
)

// Result is the outcome of consuming a challenge.
type Result int

const (
	// NoChallenge means nothing was pending for the session, or it expired.
	NoChallenge Result = iota
	Matched
	Mismatched
)

func (r Result) String() string {
	switch r {
	case Matched:
		return "matched"
	case Mismatched:
		return "mismatched"
	default:
		return "no_challenge"
	}
}

// Store holds the expected answer per session. Consume must be atomic per
// session: of two concurrent consumers at most one observes the answer.
type Store interface {
	Put(ctx context.Context, sessionID, answer string) error
	Consume(ctx context.Context, sessionID, candidate string) (Result, error)
}

// Generator renders digit challenges as PNG images.
type Generator struct {
	Length int
	Width  int
	Height int
}

// NewGenerator returns a generator with the standard image size.
func NewGenerator(length int) *Generator {
	return &Generator{Length: length, Width: dcaptcha.StdWidth, Height: dcaptcha.StdHeight}
}

// Generate returns a fresh answer and its rendered image.
func (g *Generator) Generate(id string) (string, []byte, error) {
	digits := dcaptcha.RandomDigits(g.Length)

	var buf bytes.Buffer
	if _, err := dcaptcha.NewImage(id, digits, g.Width, g.Height).WriteTo(&buf); err != nil {
		return "", nil, fmt.Errorf("failed to render challenge: %w", err)
	}

	return digitsToString(digits), buf.Bytes(), nil
}

func digitsToString(digits []byte) string {
	b := make([]byte, len(digits))
	for i, d := range digits {
		b[i] = '0' + d
	}
	return string(b)
}

// Manager issues challenges into a Store and consumes them from it.
type Manager struct {
	gen   *Generator
	store Store
}

func NewManager(gen *Generator, store Store) *Manager {
	return &Manager{gen: gen, store: store}
}

// Issue renders a new challenge for sessionID, replacing any pending one.
func (m *Manager) Issue(ctx context.Context, sessionID string) ([]byte, error) {
	answer, img, err := m.gen.Generate(sessionID)
	if err != nil {
		return nil, err
	}

	if err := m.store.Put(ctx, sessionID, answer); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return img, nil
}

// Consume checks candidate against the pending challenge and clears it.
func (m *Manager) Consume(ctx context.Context, sessionID, candidate string) (Result, error) {
	return m.store.Consume(ctx, sessionID, candidate)
}

// MaxResponseLength bounds the candidate size; longer responses never match.
const MaxResponseLength = 32

// compare is an exact, constant-time comparison of the stored answer. Stores
// call it only after the answer has been removed.
func compare(expected, candidate string) Result {
	if len(candidate) > MaxResponseLength {
		return Mismatched
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1 {
		return Matched
	}
	return Mismatched
}

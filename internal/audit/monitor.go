package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amirk1998/login-gatekeeper/internal/logging"
)

type eventSource interface {
	QueryLogs(ctx context.Context, filters QueryFilters) ([]*Event, error)
	Log(event *Event) error
}

// Monitor scans recent audit events and raises a critical event for every
// username whose failed logins in the window reach the threshold. A username
// is alerted at most once per window, across runs.
type Monitor struct {
	source    eventSource
	log       logging.Logger
	window    time.Duration
	threshold int
	now       func() time.Time

	mu      sync.Mutex
	alerted map[string]time.Time
}

// NewMonitor creates a new security monitor
func NewMonitor(source eventSource, window time.Duration, threshold int, log logging.Logger) *Monitor {
	if log == nil {
		log = logging.Discard()
	}
	return &Monitor{
		source:    source,
		log:       log,
		window:    window,
		threshold: threshold,
		now:       time.Now,
		alerted:   make(map[string]time.Time),
	}
}

// DetectFailedLogins returns the usernames that crossed the threshold.
func (m *Monitor) DetectFailedLogins(ctx context.Context) ([]string, error) {
	now := m.now().UTC()
	start := now.Add(-m.window)
	failed := false

	events, err := m.source.QueryLogs(ctx, QueryFilters{
		StartTime: &start,
		EndTime:   &now,
		Action:    ActionLogin,
		Success:   &failed,
		Limit:     1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}

	m.mu.Lock()
	for username, at := range m.alerted {
		if !at.After(start) {
			delete(m.alerted, username)
		}
	}

	counts := make(map[string]int)
	var flagged []string
	for _, event := range events {
		if event.Success || event.Username == "" {
			continue
		}
		counts[event.Username]++
		if counts[event.Username] != m.threshold {
			continue
		}
		if _, seen := m.alerted[event.Username]; seen {
			continue
		}
		m.alerted[event.Username] = now
		flagged = append(flagged, event.Username)
	}
	m.mu.Unlock()

	for _, username := range flagged {
		m.log.Warn(ctx, "failed login threshold reached",
			"username", username, "failures", counts[username], "window", m.window)

		err := m.source.Log(&Event{
			Level:    LevelCritical,
			Username: username,
			Action:   ActionFailedLoginThreshold,
			Resource: "authentication",
			Success:  false,
			ErrorMsg: fmt.Sprintf("%d failed attempts in %s", counts[username], m.window),
		})
		if err != nil {
			m.log.Error(ctx, "failed to record security alert", "username", username, "error", err)
		}
	}

	return flagged, nil
}

// Start runs DetectFailedLogins every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.DetectFailedLogins(ctx); err != nil {
				m.log.Error(ctx, "security monitor run failed", "error", err)
			}
		}
	}
}

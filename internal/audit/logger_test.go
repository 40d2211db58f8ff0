package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestLogger_SyncWritesDatabaseAndFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	path := filepath.Join(t.TempDir(), "logs", "audit.log")
	al, err := NewLogger(db, path, false, nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(sqlmock.AnyArg(), "WARNING", "alice", ActionLogin, "authentication", "10.0.0.1", false, "invalid credentials", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, al.Log(&Event{
		Level:     LevelWarning,
		Username:  "alice",
		Action:    ActionLogin,
		Resource:  "authentication",
		IPAddress: "10.0.0.1",
		ErrorMsg:  "invalid credentials",
	}))
	require.NoError(t, al.Close())
	require.NoError(t, mock.ExpectationsWereMet())

	events := readEvents(t, path)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Username)
	assert.False(t, events[0].Timestamp.IsZero())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLogger_FileOnlyWithoutDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	al, err := NewLogger(nil, path, false, nil)
	require.NoError(t, err)

	require.NoError(t, al.Log(&Event{Level: LevelInfo, Action: ActionRegister, Resource: "account", Success: true}))
	require.NoError(t, al.Close())

	assert.Len(t, readEvents(t, path), 1)

	_, err = al.QueryLogs(context.Background(), QueryFilters{})
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestLogger_AsyncDrainsOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	al, err := NewLogger(nil, path, true, nil)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, al.Log(&Event{Level: LevelInfo, Action: ActionLogin, Resource: "authentication"}))
	}
	require.NoError(t, al.Close())

	assert.Len(t, readEvents(t, path), 50)
	assert.ErrorIs(t, al.Log(&Event{Action: ActionLogin}), ErrClosed)
}

func TestLogger_QueryLogs(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	al, err := NewLogger(db, "", false, nil)
	require.NoError(t, err)
	defer al.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	failed := false
	ts := start.Add(time.Minute)

	mock.ExpectQuery(`(?s)FROM audit_log\s+WHERE 1=1 AND timestamp >= \$1 AND username = \$2 AND action = \$3 AND success = \$4 ORDER BY timestamp DESC LIMIT \$5`).
		WithArgs(start, "alice", ActionLogin, false, 100).
		WillReturnRows(sqlmock.NewRows([]string{"id", "timestamp", "level", "username", "action", "resource", "ip_address", "success", "error_msg", "metadata"}).
			AddRow(int64(7), ts, "WARNING", "alice", ActionLogin, "authentication", nil, false, "invalid credentials", nil))

	events, err := al.QueryLogs(context.Background(), QueryFilters{
		StartTime: &start,
		Username:  "alice",
		Action:    ActionLogin,
		Success:   &failed,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(7), events[0].ID)
	assert.Equal(t, LevelWarning, events[0].Level)
	assert.Equal(t, "", events[0].IPAddress)
	assert.Equal(t, "invalid credentials", events[0].ErrorMsg)
}

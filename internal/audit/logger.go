package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirk1998/login-gatekeeper/internal/logging"
)

const (
	queueSize    = 1000
	writeTimeout = 5 * time.Second
)

var (
	ErrQueueFull = errors.New("audit log queue is full")
	ErrClosed    = errors.New("audit log is closed")
	ErrNoStore   = errors.New("audit log has no database")
)

// Logger records security events to the audit_log table and to a JSON-lines
// file. Either sink may be absent.
type Logger struct {
	db         *sql.DB
	out        io.Writer
	file       *os.File
	log        logging.Logger
	asyncMode  bool
	eventQueue chan *Event
	closed     atomic.Bool
	mu         sync.Mutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewLogger creates a new audit logger. db may be nil, and an empty
// logFilePath disables the file sink.
func NewLogger(db *sql.DB, logFilePath string, asyncMode bool, log logging.Logger) (*Logger, error) {
	if log == nil {
		log = logging.Discard()
	}

	al := &Logger{
		db:        db,
		out:       io.Discard,
		log:       log,
		asyncMode: asyncMode,
	}

	if logFilePath != "" {
		// Ensure log directory exists
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		f, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		al.file = f
		al.out = f
	}

	al.ctx, al.cancel = context.WithCancel(context.Background())

	if asyncMode {
		al.eventQueue = make(chan *Event, queueSize)
		al.startAsyncLogger()
	}

	return al, nil
}

// Log records an audit event. In async mode the event is queued and
// ErrQueueFull is returned when the queue has no room.
func (al *Logger) Log(event *Event) error {
	if al.closed.Load() {
		return ErrClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if al.asyncMode {
		select {
		case al.eventQueue <- event:
			return nil
		default:
			return ErrQueueFull
		}
	}

	return al.writeEvent(event)
}

// writeEvent writes event to database and file
func (al *Logger) writeEvent(event *Event) error {
	if al.db != nil {
		query := `
			INSERT INTO audit_log (
				timestamp, level, username, action, resource,
				ip_address, success, error_msg, metadata
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		_, err := al.db.ExecContext(ctx, query,
			event.Timestamp,
			string(event.Level),
			nullString(event.Username),
			event.Action,
			event.Resource,
			nullString(event.IPAddress),
			event.Success,
			nullString(event.ErrorMsg),
			nullString(event.Metadata),
		)
		if err != nil {
			// Continue to write to file even if DB write fails
			al.log.Error(ctx, "failed to write audit event to database", "action", event.Action, "error", err)
		}
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	al.mu.Lock()
	defer al.mu.Unlock()
	if _, err := al.out.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}

	return nil
}

// startAsyncLogger starts async logging worker
func (al *Logger) startAsyncLogger() {
	al.wg.Add(1)
	go func() {
		defer al.wg.Done()
		for {
			select {
			case event := <-al.eventQueue:
				if err := al.writeEvent(event); err != nil {
					al.log.Error(al.ctx, "failed to write audit event", "error", err)
				}
			case <-al.ctx.Done():
				al.drain()
				return
			}
		}
	}()
}

func (al *Logger) drain() {
	for {
		select {
		case event := <-al.eventQueue:
			_ = al.writeEvent(event)
		default:
			return
		}
	}
}

// QueryLogs queries audit logs with filters, newest first.
func (al *Logger) QueryLogs(ctx context.Context, filters QueryFilters) ([]*Event, error) {
	if al.db == nil {
		return nil, ErrNoStore
	}

	query := `
		SELECT id, timestamp, level, username, action, resource,
		       ip_address, success, error_msg, metadata
		FROM audit_log
		WHERE 1=1`

	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filters.StartTime != nil {
		query += " AND timestamp >= " + arg(filters.StartTime.UTC())
	}
	if filters.EndTime != nil {
		query += " AND timestamp <= " + arg(filters.EndTime.UTC())
	}
	if filters.Username != "" {
		query += " AND username = " + arg(filters.Username)
	}
	if filters.Action != "" {
		query += " AND action = " + arg(filters.Action)
	}
	if filters.Level != "" {
		query += " AND level = " + arg(string(filters.Level))
	}
	if filters.Success != nil {
		query += " AND success = " + arg(*filters.Success)
	}

	if filters.Limit <= 0 {
		filters.Limit = 100
	}
	query += " ORDER BY timestamp DESC LIMIT " + arg(filters.Limit)

	rows, err := al.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event := &Event{}
		var level string
		var username, ip, errMsg, metadata sql.NullString
		err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&level,
			&username,
			&event.Action,
			&event.Resource,
			&ip,
			&event.Success,
			&errMsg,
			&metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		event.Level = LogLevel(level)
		event.Username = username.String
		event.IPAddress = ip.String
		event.ErrorMsg = errMsg.String
		event.Metadata = metadata.String
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit logs: %w", err)
	}

	return events, nil
}

// Close flushes queued events and closes the file sink.
func (al *Logger) Close() error {
	if !al.closed.CompareAndSwap(false, true) {
		return nil
	}

	al.cancel()
	al.wg.Wait()

	if al.file != nil {
		return al.file.Close()
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

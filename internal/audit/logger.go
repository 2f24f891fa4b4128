package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amirk1998/quicknotes/internal/logging"
)

const queueSize = 1000

var (
	ErrQueueFull = errors.New("audit log queue is full")
	ErrClosed    = errors.New("audit logger is closed")
)

// Logger writes events to the audit_log table and appends them as JSON lines
// to a file. The table must exist; see database.SchemaLocal.
type Logger struct {
	db         *sql.DB
	logFile    *os.File
	log        logging.Logger
	asyncMode  bool
	eventQueue chan *Event
	wg         sync.WaitGroup
	now        func() time.Time

	mu     sync.RWMutex
	closed bool
}

type Option func(*Logger)

func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// NewLogger creates a new audit logger
func NewLogger(db *sql.DB, logFilePath string, asyncMode bool, log logging.Logger, opts ...Option) (*Logger, error) {
	// Ensure log directory exists
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	logger := &Logger{
		db:        db,
		logFile:   logFile,
		log:       log,
		asyncMode: asyncMode,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(logger)
	}

	if asyncMode {
		logger.eventQueue = make(chan *Event, queueSize)
		logger.startAsyncLogger()
	}

	return logger, nil
}

// Log stamps and records an event. In async mode it only enqueues.
func (al *Logger) Log(ctx context.Context, event *Event) error {
	event.Timestamp = al.now().UTC()
	if event.Level == "" {
		event.Level = LevelInfo
	}

	al.mu.RLock()
	defer al.mu.RUnlock()

	if al.closed {
		return ErrClosed
	}

	if al.asyncMode {
		select {
		case al.eventQueue <- event:
			return nil
		default:
			return ErrQueueFull
		}
	}

	return al.writeEvent(ctx, event)
}

// writeEvent writes event to database and file
func (al *Logger) writeEvent(ctx context.Context, event *Event) error {
	result, err := al.db.ExecContext(ctx, `
        INSERT INTO audit_log (
            timestamp, level, user_id, subject, action, resource,
            success, error_msg, metadata
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		event.Timestamp,
		string(event.Level),
		event.UserID,
		event.Subject,
		event.Action,
		event.Resource,
		event.Success,
		event.ErrorMsg,
		event.Metadata,
	)

	if err != nil {
		// The file copy is still written.
		al.log.Error(ctx, "failed to write audit event to database", "action", event.Action, "error", err)
	} else {
		event.ID, _ = result.LastInsertId()
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := al.logFile.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}

	return nil
}

func (al *Logger) startAsyncLogger() {
	al.wg.Add(1)
	go func() {
		defer al.wg.Done()
		ctx := context.Background()
		for event := range al.eventQueue {
			if err := al.writeEvent(ctx, event); err != nil {
				al.log.Error(ctx, "failed to write audit event", "action", event.Action, "error", err)
			}
		}
	}()
}

// QueryLogs returns matching events, newest first
func (al *Logger) QueryLogs(ctx context.Context, filters QueryFilters) ([]*Event, error) {
	query := `
        SELECT id, timestamp, level, user_id, subject, action, resource,
               success, error_msg, metadata
        FROM audit_log
        WHERE 1=1
    `

	args := []any{}

	if filters.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, filters.StartTime.UTC())
	}

	if filters.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, filters.EndTime.UTC())
	}

	if filters.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *filters.UserID)
	}

	if filters.Subject != "" {
		query += " AND subject = ?"
		args = append(args, filters.Subject)
	}

	if filters.Action != "" {
		query += " AND action = ?"
		args = append(args, filters.Action)
	}

	if filters.Level != "" {
		query += " AND level = ?"
		args = append(args, string(filters.Level))
	}

	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	if filters.Limit <= 0 {
		filters.Limit = 100
	}
	args = append(args, filters.Limit)

	rows, err := al.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			event    Event
			level    string
			userID   sql.NullInt64
			subject  sql.NullString
			errorMsg sql.NullString
			metadata sql.NullString
		)
		err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&level,
			&userID,
			&subject,
			&event.Action,
			&event.Resource,
			&event.Success,
			&errorMsg,
			&metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		event.Level = LogLevel(level)
		if userID.Valid {
			id := int(userID.Int64)
			event.UserID = &id
		}
		event.Subject = subject.String
		event.ErrorMsg = errorMsg.String
		event.Metadata = metadata.String
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

// Close flushes queued events and closes the log file. Later calls to Log
// return ErrClosed.
func (al *Logger) Close() error {
	al.mu.Lock()
	if al.closed {
		al.mu.Unlock()
		return nil
	}
	al.closed = true
	if al.asyncMode {
		close(al.eventQueue)
	}
	al.mu.Unlock()

	al.wg.Wait()
	return al.logFile.Close()
}

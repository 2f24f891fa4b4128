package audit

import (
	"context"
	"encoding/json"
	"time"
)

type LogLevel string

const (
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

const (
	ActionSignIn                = "SIGN_IN"
	ActionSignUp                = "SIGN_UP"
	ActionSignOut               = "SIGN_OUT"
	ActionNoteList              = "NOTE_LIST"
	ActionNoteSearch            = "NOTE_SEARCH"
	ActionNoteView              = "NOTE_VIEW"
	ActionNoteCreate            = "NOTE_CREATE"
	ActionNoteUpdate            = "NOTE_UPDATE"
	ActionNoteDelete            = "NOTE_DELETE"
	ActionBackupCreate          = "BACKUP_CREATE"
	ActionFailedSignInThreshold = "FAILED_SIGN_IN_THRESHOLD"
)

type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	UserID    *int      `json:"user_id,omitempty"`
	// Subject is who the event is about when there is no user id yet,
	// usually the email given at sign-in or sign-up.
	Subject  string `json:"subject,omitempty"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Success  bool   `json:"success"`
	ErrorMsg string `json:"error_msg,omitempty"`
	Metadata string `json:"metadata,omitempty"`
}

type QueryFilters struct {
	StartTime *time.Time
	EndTime   *time.Time
	UserID    *int
	Subject   string
	Action    string
	Level     LogLevel
	Limit     int
}

// Recorder accepts audit events.
type Recorder interface {
	Log(ctx context.Context, event *Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Log(context.Context, *Event) error { return nil }

// Metadata encodes key-value pairs for Event.Metadata.
func Metadata(kv map[string]string) string {
	if len(kv) == 0 {
		return ""
	}
	data, err := json.Marshal(kv)
	if err != nil {
		return ""
	}
	return string(data)
}

package audit

import "time"

type LogLevel string

const (
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

// Actions recorded by the gatekeeper.
const (
	ActionLogin                = "LOGIN"
	ActionRegister             = "REGISTER"
	ActionChangePassword       = "CHANGE_PASSWORD"
	ActionUnlock               = "UNLOCK"
	ActionRehash               = "REHASH"
	ActionBackup               = "BACKUP"
	ActionFailedLoginThreshold = "FAILED_LOGIN_THRESHOLD"
)

type Event struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Username  string    `json:"username,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IPAddress string    `json:"ip_address,omitempty"`
	Success   bool      `json:"success"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
}

type QueryFilters struct {
	StartTime *time.Time
	EndTime   *time.Time
	Username  string
	Action    string
	Level     LogLevel
	Success   *bool
	Limit     int
}

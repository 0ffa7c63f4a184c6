// Package logging provides an audit trail for security- and data-relevant events.
// Audit events are JSON lines written to <date>_audit.log next to the category logs.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Authentication
	AuditLoginSuccess AuditEventType = "login_success"
	AuditLoginFailure AuditEventType = "login_failure"
	AuditLogout       AuditEventType = "logout"
	AuditSessionPurge AuditEventType = "session_purge"

	// Accounts
	AuditUserCreated  AuditEventType = "user_created"
	AuditUserRejected AuditEventType = "user_rejected"

	// Archive data
	AuditImportStart    AuditEventType = "import_start"
	AuditImportComplete AuditEventType = "import_complete"
	AuditImportAbort    AuditEventType = "import_abort"
	AuditDownload       AuditEventType = "database_download"
)

// AuditEvent represents a structured audit log entry.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`
	EventType  AuditEventType         `json:"event"`
	Category   string                 `json:"cat,omitempty"`
	RequestID  string                 `json:"req,omitempty"`
	Subject    string                 `json:"subject,omitempty"` // user ID, username or file
	RemoteAddr string                 `json:"remote,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger writes audit events, optionally scoped to a category and request.
type AuditLogger struct {
	category  Category
	requestID string
}

// InitAudit opens the audit log. It is a no-op outside debug mode.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	configMu.RLock()
	dir := logsDir
	configMu.RUnlock()

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(dir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditFor returns an audit logger scoped to a category and request.
func AuditFor(category Category, requestID string) *AuditLogger {
	return &AuditLogger{category: category, requestID: requestID}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.RequestID == "" && a.requestID != "" {
		event.RequestID = a.requestID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

// Login records a login attempt.
func (a *AuditLogger) Login(identifier, remote string, err error) {
	event := AuditEvent{
		EventType:  AuditLoginSuccess,
		Subject:    identifier,
		RemoteAddr: remote,
		Success:    err == nil,
	}
	if err != nil {
		event.EventType = AuditLoginFailure
		event.Error = err.Error()
	}
	a.Log(event)
}

// Import records the outcome of an archive import.
func (a *AuditLogger) Import(source string, duration time.Duration, fields map[string]interface{}, err error) {
	event := AuditEvent{
		EventType:  AuditImportComplete,
		Subject:    source,
		Success:    err == nil,
		DurationMs: duration.Milliseconds(),
		Fields:     fields,
	}
	if err != nil {
		event.EventType = AuditImportAbort
		event.Error = err.Error()
	}
	a.Log(event)
}

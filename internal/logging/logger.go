// Package logging provides config-driven categorized file-based logging for lnm.
// Each category writes to its own dated file under the configured logs directory.
// Nothing is written unless debug mode is enabled.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Start-up, config loading
	CategoryArchive  Category = "archive"  // Archive site rendering
	CategoryAPI      Category = "api"      // Archive JSON API
	CategoryStore    Category = "store"    // SQLite access (archive + platform)
	CategoryIngest   Category = "ingest"   // Dump importer and watcher
	CategoryPlatform Category = "platform" // User accounts
	CategoryAuth     Category = "auth"     // Login, sessions, password hashing
	CategoryBattle   Category = "battle"   // Battle solver and gateway
	CategoryHTTP     Category = "http"     // Server lifecycle
)

// AllCategories lists every known category in a stable order.
var AllCategories = []Category{
	CategoryBoot,
	CategoryArchive,
	CategoryAPI,
	CategoryStore,
	CategoryIngest,
	CategoryPlatform,
	CategoryAuth,
	CategoryBattle,
	CategoryHTTP,
}

// Options mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type Options struct {
	DebugMode  bool
	Categories map[string]bool
	Level      string
	JSONFormat bool
}

// StructuredLogEntry represents a JSON log line.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"`  // Unix milliseconds
	Category  string                 `json:"cat"` // Log category
	Level     string                 `json:"lvl"` // debug/info/warn/error
	Message   string                 `json:"msg"`
	RequestID string                 `json:"req,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	config    Options
	configMu  sync.RWMutex
	logLevel  int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory.
// Should be called once at startup.
func Initialize(dir string, opts Options) error {
	if dir == "" {
		return fmt.Errorf("logs directory required")
	}

	CloseAll()

	configMu.Lock()
	logsDir = dir
	config = opts
	logLevel = parseLevel(opts.Level)
	configMu.Unlock()

	if !opts.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== lnm logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	boot.Info("Log level: %s", opts.Level)

	if len(opts.Categories) > 0 {
		enabled := 0
		for cat, on := range opts.Categories {
			if on {
				enabled++
			}
			boot.Debug("Category '%s': %v", cat, on)
		}
		boot.Info("Enabled categories: %d/%d", enabled, len(opts.Categories))
	} else {
		boot.Info("All categories enabled (no category filter)")
	}

	return nil
}

func parseLevel(level string) int {
	switch level {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	configMu.RLock()
	dir := logsDir
	configMu.RUnlock()
	if dir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func jsonFormat() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.JSONFormat
}

func currentLevel() int {
	configMu.RLock()
	defer configMu.RUnlock()
	return logLevel
}

func (l *Logger) write(level string, minLevel int, requestID string, fields map[string]interface{}, msg string) {
	if l.logger == nil || currentLevel() > minLevel {
		return
	}
	if jsonFormat() {
		entry := StructuredLogEntry{
			Timestamp: time.Now().UnixMilli(),
			Category:  string(l.category),
			Level:     level,
			Message:   msg,
			RequestID: requestID,
			Fields:    fields,
		}
		if data, err := json.Marshal(entry); err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	prefix := ""
	if requestID != "" {
		prefix = "[req:" + requestID + "] "
	}
	if len(fields) > 0 {
		l.logger.Printf("[%s] %s%s | %v", upper(level), prefix, msg, fields)
		return
	}
	l.logger.Printf("[%s] %s%s", upper(level), prefix, msg)
}

func upper(level string) string {
	switch level {
	case "debug":
		return "DEBUG"
	case "info":
		return "INFO"
	case "warn":
		return "WARN"
	default:
		return "ERROR"
	}
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write("debug", LevelDebug, "", nil, fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...interface{}) {
	l.write("info", LevelInfo, "", nil, fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write("warn", LevelWarn, "", nil, fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("error", LevelError, "", nil, fmt.Sprintf(format, args...))
}

// StructuredLog writes a log entry with custom fields
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	l.write(level, parseLevel(level), "", fields, msg)
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootWarn logs warning to the boot category
func BootWarn(format string, args ...interface{}) {
	Get(CategoryBoot).Warn(format, args...)
}

// Archive logs to the archive category
func Archive(format string, args ...interface{}) {
	Get(CategoryArchive).Info(format, args...)
}

// ArchiveError logs error to the archive category
func ArchiveError(format string, args ...interface{}) {
	Get(CategoryArchive).Error(format, args...)
}

// API logs to the api category
func API(format string, args ...interface{}) {
	Get(CategoryAPI).Info(format, args...)
}

// APIDebug logs debug to the api category
func APIDebug(format string, args ...interface{}) {
	Get(CategoryAPI).Debug(format, args...)
}

// APIError logs error to the api category
func APIError(format string, args ...interface{}) {
	Get(CategoryAPI).Error(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}

// Ingest logs to the ingest category
func Ingest(format string, args ...interface{}) {
	Get(CategoryIngest).Info(format, args...)
}

// IngestDebug logs debug to the ingest category
func IngestDebug(format string, args ...interface{}) {
	Get(CategoryIngest).Debug(format, args...)
}

// IngestWarn logs warning to the ingest category
func IngestWarn(format string, args ...interface{}) {
	Get(CategoryIngest).Warn(format, args...)
}

// IngestError logs error to the ingest category
func IngestError(format string, args ...interface{}) {
	Get(CategoryIngest).Error(format, args...)
}

// Platform logs to the platform category
func Platform(format string, args ...interface{}) {
	Get(CategoryPlatform).Info(format, args...)
}

// PlatformDebug logs debug to the platform category
func PlatformDebug(format string, args ...interface{}) {
	Get(CategoryPlatform).Debug(format, args...)
}

// Auth logs to the auth category
func Auth(format string, args ...interface{}) {
	Get(CategoryAuth).Info(format, args...)
}

// AuthWarn logs warning to the auth category
func AuthWarn(format string, args ...interface{}) {
	Get(CategoryAuth).Warn(format, args...)
}

// Battle logs to the battle category
func Battle(format string, args ...interface{}) {
	Get(CategoryBattle).Info(format, args...)
}

// BattleDebug logs debug to the battle category
func BattleDebug(format string, args ...interface{}) {
	Get(CategoryBattle).Debug(format, args...)
}

// HTTP logs to the http category
func HTTP(format string, args ...interface{}) {
	Get(CategoryHTTP).Info(format, args...)
}

// HTTPError logs error to the http category
func HTTPError(format string, args ...interface{}) {
	Get(CategoryHTTP).Error(format, args...)
}

// =============================================================================
// REQUEST ID TRACING
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	logger    *Logger
	requestID string
	fields    map[string]interface{}
}

// WithRequestID creates a request-scoped logger
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    Get(category),
		requestID: requestID,
		fields:    make(map[string]interface{}),
	}
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	r.fields[key] = value
	return r
}

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	r.logger.write("debug", LevelDebug, r.requestID, r.fields, fmt.Sprintf(format, args...))
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	r.logger.write("info", LevelInfo, r.requestID, r.fields, fmt.Sprintf(format, args...))
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	r.logger.write("warn", LevelWarn, r.requestID, r.fields, fmt.Sprintf(format, args...))
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	r.logger.write("error", LevelError, r.requestID, r.fields, fmt.Sprintf(format, args...))
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}

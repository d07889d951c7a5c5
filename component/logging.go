package component

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WouterBesse/social-interaction-cloud/deviceaddr"
	"github.com/WouterBesse/social-interaction-cloud/message"
)

// LogEntry is a structured log record published to the shared log channel so
// users can follow a remote device's components without shell access.
type LogEntry struct {
	Timestamp string           `json:"timestamp"` // RFC3339 format
	Level     message.LogLevel `json:"level"`
	Name      string           `json:"name"`
	Device    string           `json:"device"`
	Message   string           `json:"message"`
	Error     string           `json:"error,omitempty"`
}

// LogSubject derives the log channel subject for a named logger on a device.
func LogSubject(deviceAddr, name string) string {
	return fmt.Sprintf("sic.logs.%s.%s", deviceaddr.Sanitize(deviceAddr), name)
}

// Logger provides structured logging scoped to one component or manager.
// Entries at or above the configured minimum level are published to the
// shared log channel on the bus; everything is also logged locally through
// slog.
type Logger struct {
	name     string
	device   string
	minLevel message.LogLevel
	nc       *nats.Conn
	logger   *slog.Logger
	enabled  bool // whether bus publishing is enabled
}

// NewLogger creates a logger named name for the given device. A nil NATS
// connection disables bus publishing; a nil slog logger falls back to
// slog.Default().
func NewLogger(name, device string, minLevel message.LogLevel, nc *nats.Conn, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if minLevel == "" {
		minLevel = message.LogLevelInfo
	}
	return &Logger{
		name:     name,
		device:   device,
		minLevel: minLevel,
		nc:       nc,
		logger:   logger.With("name", name, "device", device),
		enabled:  nc != nil,
	}
}

// Name returns the logger's scope name.
func (l *Logger) Name() string {
	return l.name
}

// Debug logs a debug-level message
func (l *Logger) Debug(msg string) {
	l.publish(message.LogLevelDebug, msg, nil)
	l.logger.Debug(msg)
}

// Info logs an info-level message
func (l *Logger) Info(msg string) {
	l.publish(message.LogLevelInfo, msg, nil)
	l.logger.Info(msg)
}

// Warn logs a warning-level message
func (l *Logger) Warn(msg string) {
	l.publish(message.LogLevelWarn, msg, nil)
	l.logger.Warn(msg)
}

// Error logs an error-level message with optional error details
func (l *Logger) Error(msg string, err error) {
	l.publish(message.LogLevelError, msg, err)
	l.logger.Error(msg, "error", err)
}

// publish sends a log entry to the shared log channel. Publish failures are
// reported locally and never propagated; logging must not take a component
// down.
func (l *Logger) publish(level message.LogLevel, msg string, cause error) {
	if !l.enabled || !level.AtLeast(l.minLevel) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Name:      l.name,
		Device:    l.device,
		Message:   msg,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error("Failed to marshal log entry", "error", err)
		return
	}

	nc := l.nc
	if nc == nil {
		return
	}

	subject := LogSubject(l.device, l.name)
	if err := nc.Publish(subject, data); err != nil {
		l.logger.Error("Failed to publish log entry", "error", err, "subject", subject)
	}
}

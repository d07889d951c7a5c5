package message

import "encoding/json"

// LogLevel is the minimum severity a started component should log at.
// Values match the log channel's level names.
type LogLevel string

// Supported log levels, lowest to highest severity.
const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// severity orders log levels for filtering. Unknown levels sort lowest so
// nothing is silently dropped.
func (l LogLevel) severity() int {
	switch l {
	case LogLevelDebug:
		return 1
	case LogLevelInfo:
		return 2
	case LogLevelWarn:
		return 3
	case LogLevelError:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether l is at or above the given minimum level.
func (l LogLevel) AtLeast(minimum LogLevel) bool {
	return l.severity() >= minimum.severity()
}

// StartComponentRequest asks the component manager on a device to start a
// component providing some capability from that device. Conf is opaque to
// the manager and handed to the component factory unchanged.
type StartComponentRequest struct {
	ComponentName string          `json:"component_name"`
	LogLevel      LogLevel        `json:"log_level,omitempty"`
	Conf          json.RawMessage `json:"conf,omitempty"`
}

// StopRequest asks the component manager to shut down. It carries no
// payload; addressing alone selects the manager.
type StopRequest struct{}

package component

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/WouterBesse/social-interaction-cloud/message"
)

func TestLogSubject(t *testing.T) {
	assert.Equal(t, "sic.logs.10-0-0-5.ComponentManager-10.0.0.5",
		LogSubject("10.0.0.5", "ComponentManager-10.0.0.5"))
}

func TestNewLogger_Defaults(t *testing.T) {
	logger := NewLogger("echo", "10.0.0.5", "", nil, nil)

	assert.Equal(t, "echo", logger.Name())
	assert.Equal(t, message.LogLevelInfo, logger.minLevel)
	assert.False(t, logger.enabled, "bus publishing disabled without a connection")
}

func TestLogger_LocalLogging(t *testing.T) {
	var buf bytes.Buffer
	local := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	logger := NewLogger("echo", "10.0.0.5", message.LogLevelDebug, nil, local)
	logger.Info("component ready")
	logger.Error("component failed", assert.AnError)

	out := buf.String()
	assert.Contains(t, out, "component ready")
	assert.Contains(t, out, "component failed")
	assert.Contains(t, out, "name=echo")
	assert.Contains(t, out, "device=10.0.0.5")
}

func TestLogger_NilConnDoesNotPanic(t *testing.T) {
	logger := NewLogger("echo", "10.0.0.5", message.LogLevelDebug, nil, slog.Default())

	// All levels must be safe without a bus connection.
	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e", nil)
}

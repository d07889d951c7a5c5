package component

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeComponent implements Runnable for testing. It optionally delays or
// withholds readiness, fails immediately, and records stop observation.
type fakeComponent struct {
	readyDelay time.Duration
	neverReady bool
	runErr     error
	stopSeen   chan struct{}
}

func (f *fakeComponent) Run(ctx context.Context, ready chan<- struct{}) error {
	if f.runErr != nil {
		return f.runErr
	}

	if !f.neverReady {
		if f.readyDelay > 0 {
			select {
			case <-time.After(f.readyDelay):
			case <-ctx.Done():
				return nil
			}
		}
		close(ready)
	}

	<-ctx.Done()
	if f.stopSeen != nil {
		close(f.stopSeen)
	}
	return nil
}

func fakeClass(name string, timeout time.Duration, build func() *fakeComponent) *Class {
	return &Class{
		Name:           name,
		StartupTimeout: timeout,
		Factory: func(_ RuntimeContext) (Runnable, error) {
			return build(), nil
		},
	}
}

func TestOutputChannel_Deterministic(t *testing.T) {
	first := OutputChannel("echo", "10.0.0.5")
	second := OutputChannel("echo", "10.0.0.5")

	assert.Equal(t, first, second, "same inputs must derive the same channel")
	assert.Equal(t, "sic.component.10-0-0-5.echo.output", first)
}

func TestOutputChannel_DistinctPerClassAndDevice(t *testing.T) {
	echo := OutputChannel("echo", "10.0.0.5")

	assert.NotEqual(t, echo, OutputChannel("motor", "10.0.0.5"))
	assert.NotEqual(t, echo, OutputChannel("echo", "10.0.0.6"))
}

func TestRequestSubject(t *testing.T) {
	assert.Equal(t, "sic.device.10-0-0-5.requests", RequestSubject("10.0.0.5"))
}

func TestClass_Validate(t *testing.T) {
	valid := &Class{
		Name:    "echo",
		Factory: func(_ RuntimeContext) (Runnable, error) { return &fakeComponent{}, nil },
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name  string
		class *Class
	}{
		{"nil class", nil},
		{"missing name", &Class{Factory: valid.Factory}},
		{"missing factory", &Class{Name: "echo"}},
		{"negative timeout", &Class{Name: "echo", Factory: valid.Factory, StartupTimeout: -time.Second}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Error(t, test.class.Validate())
		})
	}
}

func TestClass_Timeout(t *testing.T) {
	assert.Equal(t, DefaultStartupTimeout, (&Class{Name: "echo"}).Timeout())
	assert.Equal(t, time.Second, (&Class{Name: "echo", StartupTimeout: time.Second}).Timeout())
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateInitializing, "initializing"},
		{StateReady, "ready"},
		{StateServing, "serving"},
		{StateShuttingDown, "shutting_down"},
		{StateStopped, "stopped"},
		{State(42), "unknown"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.state.String())
	}
}

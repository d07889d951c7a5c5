// Package component defines the building blocks hosted by the device
// component manager: startable component classes, the class registry, and
// the runtime instances the manager launches and tracks.
package component

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/WouterBesse/social-interaction-cloud/deviceaddr"
	"github.com/WouterBesse/social-interaction-cloud/errors"
	"github.com/WouterBesse/social-interaction-cloud/message"
)

// DefaultStartupTimeout bounds how long the manager waits for a component to
// report readiness when its class declares no timeout of its own.
const DefaultStartupTimeout = 10 * time.Second

// Runnable is a running component's execution body. Run must block until ctx
// is cancelled (the stop signal) and close ready exactly once as soon as the
// component can accept input.
type Runnable interface {
	Run(ctx context.Context, ready chan<- struct{}) error
}

// RuntimeContext carries everything a factory needs to build a component
// instance. Conf is the requester's configuration blob, passed through the
// manager unparsed.
type RuntimeContext struct {
	OutputChannel string
	LogLevel      message.LogLevel
	Conf          json.RawMessage
	Logger        *Logger
}

// Factory produces a Runnable for one component start. Factories must not
// perform blocking I/O; that belongs in Run.
type Factory func(rc RuntimeContext) (Runnable, error)

// Class describes a component type the manager can start on this device.
type Class struct {
	// Name uniquely identifies the class within one manager's registry.
	Name string

	// StartupTimeout bounds the readiness wait for instances of this class.
	// Zero means DefaultStartupTimeout.
	StartupTimeout time.Duration

	// Factory builds one runtime instance per start request.
	Factory Factory
}

// Validate checks the class is usable for registration.
func (c *Class) Validate() error {
	if c == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Class", "Validate", "nil class")
	}
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Class", "Validate", "class name")
	}
	if c.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Class", "Validate",
			fmt.Sprintf("factory for class %q", c.Name))
	}
	if c.StartupTimeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Class", "Validate",
			fmt.Sprintf("startup timeout for class %q", c.Name))
	}
	return nil
}

// Timeout returns the class's startup timeout, falling back to the default.
func (c *Class) Timeout() time.Duration {
	if c.StartupTimeout > 0 {
		return c.StartupTimeout
	}
	return DefaultStartupTimeout
}

// OutputChannel derives the bus subject a component of the given class on
// the given device publishes its output to. The derivation is a pure
// function of its inputs so any process can recompute it independently.
func OutputChannel(className, deviceAddr string) string {
	return fmt.Sprintf("sic.component.%s.%s.output", deviceaddr.Sanitize(deviceAddr), className)
}

// RequestSubject derives the bus subject the component manager on the given
// device listens for requests on.
func RequestSubject(deviceAddr string) string {
	return fmt.Sprintf("sic.device.%s.requests", deviceaddr.Sanitize(deviceAddr))
}

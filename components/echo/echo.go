// Package echo provides the built-in demonstration component: it subscribes
// to an input subject and republishes every message unchanged on its output
// channel. Useful for verifying a device's manager and bus wiring end to end
// without any hardware.
package echo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/WouterBesse/social-interaction-cloud/component"
	"github.com/WouterBesse/social-interaction-cloud/errors"
)

// ClassName is the name the echo component registers under.
const ClassName = "echo"

// Conf is the echo component's configuration. InputChannel defaults to the
// output channel with its trailing "output" token replaced by "input".
type Conf struct {
	InputChannel string `json:"input_channel,omitempty"`
}

// Echo republishes input messages on its output channel.
type Echo struct {
	conn   *nats.Conn
	input  string
	output string
	logger *component.Logger
}

// NewClass builds the registrable echo class bound to the given bus
// connection.
func NewClass(conn *nats.Conn) *component.Class {
	return &component.Class{
		Name: ClassName,
		Factory: func(rc component.RuntimeContext) (component.Runnable, error) {
			return New(conn, rc)
		},
	}
}

// New constructs an echo instance from its runtime context.
func New(conn *nats.Conn, rc component.RuntimeContext) (*Echo, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Echo", "New", "bus connection")
	}

	var conf Conf
	if len(rc.Conf) > 0 {
		if err := json.Unmarshal(rc.Conf, &conf); err != nil {
			return nil, errors.WrapInvalid(err, "Echo", "New", "parse configuration")
		}
	}

	input := conf.InputChannel
	if input == "" {
		input = DefaultInputChannel(rc.OutputChannel)
	}

	return &Echo{
		conn:   conn,
		input:  input,
		output: rc.OutputChannel,
		logger: rc.Logger,
	}, nil
}

// DefaultInputChannel derives the input subject from an output channel by
// swapping the trailing "output" token.
func DefaultInputChannel(outputChannel string) string {
	if strings.HasSuffix(outputChannel, ".output") {
		return strings.TrimSuffix(outputChannel, ".output") + ".input"
	}
	return outputChannel + ".input"
}

// InputChannel returns the subject the instance listens on.
func (e *Echo) InputChannel() string {
	return e.input
}

// Run subscribes to the input subject, signals readiness, and republishes
// until the stop signal arrives.
func (e *Echo) Run(ctx context.Context, ready chan<- struct{}) error {
	sub, err := e.conn.Subscribe(e.input, func(msg *nats.Msg) {
		if err := e.conn.Publish(e.output, msg.Data); err != nil {
			e.logger.Error(fmt.Sprintf("republishing to %s", e.output), err)
		}
	})
	if err != nil {
		return errors.WrapTransient(err, "Echo", "Run", "subscribe input subject")
	}

	e.logger.Info(fmt.Sprintf("echoing %s to %s", e.input, e.output))
	close(ready)

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		e.logger.Error("unsubscribing input subject", err)
	}
	return nil
}

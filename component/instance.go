package component

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/WouterBesse/social-interaction-cloud/errors"
)

// Instance is one launched component: its execution goroutine, stop signal
// (context cancellation), and one-shot ready signal. An Instance is owned
// exclusively by the manager that launched it, from creation until shutdown.
type Instance struct {
	className     string
	outputChannel string
	startedAt     time.Time

	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}

	mu     sync.Mutex
	runErr error
}

// Launch builds a runtime instance via the class factory and starts its
// execution goroutine. A factory error (or panic) is returned without
// launching anything.
func Launch(class *Class, rc RuntimeContext) (inst *Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = errors.Wrap(fmt.Errorf("factory panic: %v", r), "Instance", "Launch", "construct component")
		}
	}()

	runnable, err := class.Factory(rc)
	if err != nil {
		return nil, errors.Wrap(err, "Instance", "Launch", "construct component")
	}
	if runnable == nil {
		return nil, errors.Wrap(fmt.Errorf("factory for class %q returned nil", class.Name),
			"Instance", "Launch", "construct component")
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst = &Instance{
		className:     class.Name,
		outputChannel: rc.OutputChannel,
		startedAt:     time.Now(),
		cancel:        cancel,
		ready:         make(chan struct{}),
		done:          make(chan struct{}),
	}

	go inst.run(ctx, runnable)

	return inst, nil
}

// run executes the component body and records its outcome. A panicking
// component is recorded as a failure instead of killing the process.
func (i *Instance) run(ctx context.Context, runnable Runnable) {
	defer close(i.done)
	defer func() {
		if r := recover(); r != nil {
			i.setErr(fmt.Errorf("component %s panicked: %v", i.className, r))
		}
	}()

	if err := runnable.Run(ctx, i.ready); err != nil {
		i.setErr(err)
	}
}

func (i *Instance) setErr(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.runErr = err
}

// Err returns the error the component's Run returned, if any.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.runErr
}

// AwaitReady blocks until the instance signals readiness or the timeout
// elapses. The instance keeps running either way; a timeout only means it
// was not ready in time.
func (i *Instance) AwaitReady(timeout time.Duration) error {
	select {
	case <-i.ready:
		return nil
	case <-i.done:
		// Exited before becoming ready; surface the run error when there is one.
		if err := i.Err(); err != nil {
			return errors.Wrap(err, "Instance", "AwaitReady", fmt.Sprintf("component %s exited", i.className))
		}
		return errors.WrapTransient(errors.ErrStartupTimeout, "Instance", "AwaitReady",
			fmt.Sprintf("component %s exited before readiness", i.className))
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrStartupTimeout, "Instance", "AwaitReady",
			fmt.Sprintf("component %s readiness within %v", i.className, timeout))
	}
}

// Stop sets the instance's stop signal. Cooperative: the component decides
// when to actually exit.
func (i *Instance) Stop() {
	i.cancel()
}

// Join blocks until the execution goroutine terminates or the timeout
// elapses.
func (i *Instance) Join(timeout time.Duration) error {
	select {
	case <-i.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("component %s still running after %v", i.className, timeout),
			"Instance", "Join", "await termination")
	}
}

// Done exposes the termination channel, closed when the execution goroutine
// exits.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// ClassName returns the name of the class that produced this instance.
func (i *Instance) ClassName() string {
	return i.className
}

// OutputChannel returns the subject the instance publishes output to.
func (i *Instance) OutputChannel() string {
	return i.outputChannel
}

// StartedAt returns the launch timestamp.
func (i *Instance) StartedAt() time.Time {
	return i.startedAt
}

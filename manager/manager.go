// Package manager implements the device component manager: it answers
// start and stop requests arriving on the device's request subject, launches
// registered component classes as runtime instances, tracks the active
// instances, and replies with routing information or a typed failure.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/WouterBesse/social-interaction-cloud/busclient"
	"github.com/WouterBesse/social-interaction-cloud/component"
	"github.com/WouterBesse/social-interaction-cloud/deviceaddr"
	"github.com/WouterBesse/social-interaction-cloud/errors"
	"github.com/WouterBesse/social-interaction-cloud/health"
	"github.com/WouterBesse/social-interaction-cloud/message"
	"github.com/WouterBesse/social-interaction-cloud/metric"
)

// DefaultPollInterval bounds each wait of the serve loop so a stop signal is
// observed within one interval.
const DefaultPollInterval = 100 * time.Millisecond

// DefaultShutdownGrace bounds the join on running instances during shutdown.
const DefaultShutdownGrace = 5 * time.Second

// Bus is the transport surface the manager needs. *busclient.Client
// implements it.
type Bus interface {
	HandleRequests(ctx context.Context, subject string, handler busclient.RequestHandler) error
	Close(ctx context.Context) error
	IsHealthy() bool
}

// Outcome tags a start attempt's result.
type Outcome int

const (
	// OutcomeStarted means the component runs (or was reused) and Info is set.
	OutcomeStarted Outcome = iota
	// OutcomeFailed means the start attempt failed and Err carries the cause.
	OutcomeFailed
	// OutcomeIgnored means the class is not registered on this device.
	OutcomeIgnored
)

// String returns a label for the outcome, used in metrics and logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeFailed:
		return "failed"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// StartResult is the tagged outcome of one start attempt. Exactly one of
// Info (when Started) or Err (when Failed) is set; Ignored carries neither.
type StartResult struct {
	Outcome Outcome
	Info    *message.StartedComponentInformation
	Err     error
}

// starter is the start path, overridable by the singleton variant.
type starter interface {
	startComponent(ctx context.Context, req *message.StartComponentRequest) StartResult
}

// activeRecord is the KV document describing one live instance, published so
// other processes can discover what runs on a device.
type activeRecord struct {
	ClassName     string    `json:"class_name"`
	OutputChannel string    `json:"output_channel"`
	Device        string    `json:"device"`
	StartedAt     time.Time `json:"started_at"`
}

// Manager owns the component lifecycle on one device.
type Manager struct {
	registry   *component.Registry
	bus        Bus
	deviceAddr string
	name       string

	pollInterval   time.Duration
	shutdownGrace  time.Duration
	startupTimeout time.Duration
	maxInstances   int
	limiter        *rate.Limiter

	logger  *component.Logger
	slogger *slog.Logger
	metrics *metric.Metrics
	monitor *health.Monitor
	kv      jetstream.KeyValue

	starter starter

	mu     sync.Mutex
	state  component.State
	active []*component.Instance

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager) error

// WithPollInterval sets the serve loop's wait bound.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("manager.WithPollInterval: interval must be positive, got %v", d)
		}
		m.pollInterval = d
		return nil
	}
}

// WithShutdownGrace sets how long Shutdown waits for instances to exit.
func WithShutdownGrace(d time.Duration) Option {
	return func(m *Manager) error {
		if d < 0 {
			return fmt.Errorf("manager.WithShutdownGrace: grace cannot be negative, got %v", d)
		}
		m.shutdownGrace = d
		return nil
	}
}

// WithStartupTimeout sets the readiness deadline applied to classes that
// declare none of their own.
func WithStartupTimeout(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("manager.WithStartupTimeout: timeout must be positive, got %v", d)
		}
		m.startupTimeout = d
		return nil
	}
}

// WithMaxInstances caps the number of tracked instances. Zero means no cap.
func WithMaxInstances(n int) Option {
	return func(m *Manager) error {
		if n < 0 {
			return fmt.Errorf("manager.WithMaxInstances: cap cannot be negative, got %d", n)
		}
		m.maxInstances = n
		return nil
	}
}

// WithRequestRate limits start request admission to r per second with the
// given burst. Zero rate disables limiting.
func WithRequestRate(r float64, burst int) Option {
	return func(m *Manager) error {
		if r < 0 || burst < 0 {
			return fmt.Errorf("manager.WithRequestRate: rate and burst cannot be negative")
		}
		if r > 0 {
			if burst < 1 {
				burst = 1
			}
			m.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
		return nil
	}
}

// WithMetrics sets the metrics sink. Defaults to an unregistered set.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Manager) error {
		if metrics == nil {
			return fmt.Errorf("manager.WithMetrics: metrics cannot be nil")
		}
		m.metrics = metrics
		return nil
	}
}

// WithLogger sets the local structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			return fmt.Errorf("manager.WithLogger: logger cannot be nil")
		}
		m.slogger = logger
		return nil
	}
}

// WithHealthMonitor attaches a monitor tracking the bus and each launched
// instance.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(m *Manager) error {
		m.monitor = monitor
		return nil
	}
}

// WithKVBucket enables best-effort publication of active-instance records to
// the given bucket.
func WithKVBucket(bucket jetstream.KeyValue) Option {
	return func(m *Manager) error {
		m.kv = bucket
		return nil
	}
}

// New creates a component manager for the given device. The registry is
// taken as-is and never mutated afterwards.
func New(registry *component.Registry, bus Bus, deviceAddr string, opts ...Option) (*Manager, error) {
	if registry == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "New", "nil registry")
	}
	if bus == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "New", "nil bus")
	}
	if deviceAddr == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Manager", "New", "empty device address")
	}

	m := &Manager{
		registry:      registry,
		bus:           bus,
		deviceAddr:    deviceAddr,
		name:          fmt.Sprintf("ComponentManager-%s", deviceAddr),
		pollInterval:  DefaultPollInterval,
		shutdownGrace: DefaultShutdownGrace,
		slogger:       slog.Default(),
		metrics:       metric.NewMetrics(),
		state:         component.StateInitializing,
		stop:          make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, errors.WrapInvalid(err, "Manager", "New", "apply option")
		}
	}

	m.starter = m
	m.logger = component.NewLogger(m.name, deviceAddr, message.LogLevelInfo, m.busConn(), m.slogger)
	m.setState(component.StateReady)

	return m, nil
}

// busConn extracts the raw connection for log publication when the bus
// exposes one. Test fakes don't.
func (m *Manager) busConn() *nats.Conn {
	if c, ok := m.bus.(interface{ Conn() *nats.Conn }); ok {
		return c.Conn()
	}
	return nil
}

// Name returns the manager's identity used as reply source and log name.
func (m *Manager) Name() string {
	return m.name
}

// DeviceAddress returns the device address the manager serves.
func (m *Manager) DeviceAddress() string {
	return m.deviceAddr
}

// State returns the current lifecycle state.
func (m *Manager) State() component.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s component.State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// ActiveCount returns the number of tracked instances.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ActiveInstances returns a snapshot of the tracked instances.
func (m *Manager) ActiveInstances() []*component.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*component.Instance, len(m.active))
	copy(out, m.active)
	return out
}

// Serve registers the request handler on the device's request subject and
// blocks until a stop request arrives or ctx is cancelled, then runs
// Shutdown. Each wait is bounded by the poll interval.
func (m *Manager) Serve(ctx context.Context) error {
	m.mu.Lock()
	if m.state != component.StateReady {
		state := m.state
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyServing, "Manager", "Serve",
			fmt.Sprintf("state %s", state))
	}
	m.state = component.StateServing
	m.mu.Unlock()

	subject := component.RequestSubject(m.deviceAddr)
	if err := m.bus.HandleRequests(ctx, subject, m.handleRaw); err != nil {
		m.setState(component.StateReady)
		return errors.Wrap(err, "Manager", "Serve", "register request handler")
	}

	m.logger.Info(fmt.Sprintf("serving component requests on %s", subject))
	m.observeBus()

	for {
		select {
		case <-m.stop:
			m.logger.Info("stop requested, shutting down")
			return m.Shutdown(context.Background())
		case <-ctx.Done():
			m.logger.Info("context cancelled, shutting down")
			return m.Shutdown(context.Background())
		case <-time.After(m.pollInterval):
			m.observeBus()
		}
	}
}

// observeBus feeds the bus connection state into metrics and the monitor.
func (m *Manager) observeBus() {
	healthy := m.bus.IsHealthy()
	m.metrics.RecordBusStatus(healthy)
	if m.monitor == nil {
		return
	}
	if healthy {
		m.monitor.UpdateHealthy("bus", "connected")
	} else {
		m.monitor.UpdateUnhealthy("bus", "connection lost")
	}
}

// Stop sets the manager's stop signal. Safe to call more than once and from
// any goroutine.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// handleRaw is the request entry point. Every inbound request produces
// exactly one reply, malformed requests included.
func (m *Manager) handleRaw(ctx context.Context, data []byte) []byte {
	env, err := message.Decode(data)
	if err != nil {
		m.logger.Error("dropping malformed request", err)
		m.metrics.RecordRequest("malformed", "failed")
		return m.encodeReply(message.KindNotStarted, nil, message.NewNotStarted(err))
	}

	reply := m.HandleRequest(ctx, env)
	return reply
}

// HandleRequest classifies a decoded request and returns the encoded reply.
func (m *Manager) HandleRequest(ctx context.Context, env *message.Envelope) []byte {
	switch env.Kind {
	case message.KindStopRequest:
		m.logger.Info("received stop request")
		m.metrics.RecordRequest(string(env.Kind), "success")
		m.Stop()
		return m.encodeReply(message.KindSuccess, env, &message.SuccessMessage{})

	case message.KindStartRequest:
		var req message.StartComponentRequest
		if err := env.DecodePayload(message.KindStartRequest, &req); err != nil {
			m.metrics.RecordRequest(string(env.Kind), "failed")
			return m.encodeReply(message.KindNotStarted, env, message.NewNotStarted(err))
		}
		if req.ComponentName == "" {
			m.metrics.RecordRequest(string(env.Kind), "failed")
			err := errors.WrapInvalid(errors.ErrInvalidMessage, "Manager", "HandleRequest",
				"empty component name")
			return m.encodeReply(message.KindNotStarted, env, message.NewNotStarted(err))
		}

		result := m.starter.startComponent(ctx, &req)
		m.metrics.RecordRequest(string(env.Kind), result.Outcome.String())
		return m.replyFor(env, &req, result)

	default:
		m.logger.Warn(fmt.Sprintf("unsupported request kind %q", env.Kind))
		m.metrics.RecordRequest(string(env.Kind), "failed")
		err := errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownKind, env.Kind),
			"Manager", "HandleRequest", "classify request")
		return m.encodeReply(message.KindNotStarted, env, message.NewNotStarted(err))
	}
}

// replyFor converts a tagged start result into the wire reply. The reply's
// correlation field is stamped here, on this requester's own copy.
func (m *Manager) replyFor(env *message.Envelope, req *message.StartComponentRequest, result StartResult) []byte {
	switch result.Outcome {
	case OutcomeStarted:
		info := result.Info.Copy()
		info.RequestID = env.ID
		return m.encodeReply(message.KindStarted, env, info)
	case OutcomeIgnored:
		m.logger.Info(fmt.Sprintf("ignoring request for unknown component %q", req.ComponentName))
		return m.encodeReply(message.KindIgnored, env, &message.IgnoreRequestMessage{})
	default:
		m.logger.Error(fmt.Sprintf("component %q failed to start", req.ComponentName), result.Err)
		return m.encodeReply(message.KindNotStarted, env, message.NewNotStarted(result.Err))
	}
}

// encodeReply builds and serializes a reply envelope. Serialization of the
// reply types cannot realistically fail; when it does the requester times
// out and the failure is logged.
func (m *Manager) encodeReply(kind message.Kind, request *message.Envelope, payload any) []byte {
	env, err := message.NewReply(kind, m.name, request, payload)
	if err != nil {
		m.logger.Error("building reply", err)
		return nil
	}
	data, err := env.Encode()
	if err != nil {
		m.logger.Error("encoding reply", err)
		return nil
	}
	return data
}

// startComponent resolves the class, launches an instance, waits for
// readiness within the class's timeout, and tracks the instance. A readiness
// timeout is logged but the instance stays active and the start still counts
// as a success, matching the cooperative contract: slow is not dead. Once the
// stop signal is set or shutdown has begun, starts are refused so no instance
// can slip past the shutdown sweep.
func (m *Manager) startComponent(ctx context.Context, req *message.StartComponentRequest) StartResult {
	if err := m.admit(); err != nil {
		m.metrics.RecordStart(req.ComponentName, "rejected")
		return StartResult{Outcome: OutcomeFailed, Err: err}
	}

	class, ok := m.registry.Lookup(req.ComponentName)
	if !ok {
		return StartResult{Outcome: OutcomeIgnored}
	}

	outputChannel := component.OutputChannel(class.Name, m.deviceAddr)
	rc := component.RuntimeContext{
		OutputChannel: outputChannel,
		LogLevel:      req.LogLevel,
		Conf:          req.Conf,
		Logger:        component.NewLogger(class.Name, m.deviceAddr, req.LogLevel, m.busConn(), m.slogger),
	}

	launchedAt := time.Now()
	inst, err := component.Launch(class, rc)
	if err != nil {
		m.metrics.RecordStart(class.Name, "failed")
		return StartResult{Outcome: OutcomeFailed, Err: err}
	}

	timeout := m.timeoutFor(class)
	if err := inst.AwaitReady(timeout); err != nil {
		select {
		case <-inst.Done():
			// Exited before readiness: a real failure.
			inst.Stop()
			m.metrics.RecordStart(class.Name, "failed")
			return StartResult{Outcome: OutcomeFailed, Err: err}
		default:
			// Still running, just slow. Keep it and warn.
			m.logger.Error(fmt.Sprintf("component %q not ready within %v, keeping it",
				class.Name, timeout), err)
			m.metrics.RecordStartupTimeout(class.Name)
			if m.monitor != nil {
				m.monitor.UpdateDegraded(class.Name, "missed readiness deadline")
			}
		}
	} else {
		m.metrics.RecordStartupDuration(class.Name, time.Since(launchedAt))
		if m.monitor != nil {
			m.monitor.UpdateHealthy(class.Name, "running")
		}
	}

	m.mu.Lock()
	if m.state == component.StateShuttingDown || m.state == component.StateStopped {
		// Shutdown snapshotted the active list while this start was in
		// flight; an instance appended now would never see its stop signal.
		m.mu.Unlock()
		inst.Stop()
		if m.monitor != nil {
			m.monitor.Remove(class.Name)
		}
		m.metrics.RecordStart(class.Name, "rejected")
		return StartResult{Outcome: OutcomeFailed, Err: errors.WrapTransient(
			errors.ErrShuttingDown, "Manager", "startComponent", "track instance")}
	}
	m.active = append(m.active, inst)
	count := len(m.active)
	m.mu.Unlock()

	if m.monitor != nil {
		go m.watchInstance(inst)
	}

	m.metrics.RecordStart(class.Name, "started")
	m.metrics.SetActiveInstances(count)
	m.logger.Info(fmt.Sprintf("started component %q publishing to %s", class.Name, outputChannel))

	m.publishActiveRecord(ctx, inst)

	return StartResult{
		Outcome: OutcomeStarted,
		Info: &message.StartedComponentInformation{
			OutputChannel: outputChannel,
			IsSingleton:   false,
		},
	}
}

// admit applies the shutdown guard, the optional rate limit, and the
// instance cap.
func (m *Manager) admit() error {
	if m.stopping() {
		return errors.WrapTransient(errors.ErrShuttingDown, "Manager", "startComponent",
			"admit start request")
	}
	if m.limiter != nil && !m.limiter.Allow() {
		return errors.WrapTransient(errors.ErrRateLimited, "Manager", "startComponent",
			"admit start request")
	}
	if m.maxInstances > 0 {
		m.mu.Lock()
		count := len(m.active)
		m.mu.Unlock()
		if count >= m.maxInstances {
			return errors.WrapTransient(
				fmt.Errorf("%w: %d instances running, cap is %d",
					errors.ErrInstanceLimit, count, m.maxInstances),
				"Manager", "startComponent", "admit start request")
		}
	}
	return nil
}

// stopping reports whether the stop signal is set or shutdown has begun.
func (m *Manager) stopping() bool {
	select {
	case <-m.stop:
		return true
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == component.StateShuttingDown || m.state == component.StateStopped
}

// timeoutFor resolves the readiness deadline for a class. The class's own
// timeout wins, then the manager-wide default.
func (m *Manager) timeoutFor(class *component.Class) time.Duration {
	if class.StartupTimeout > 0 {
		return class.StartupTimeout
	}
	if m.startupTimeout > 0 {
		return m.startupTimeout
	}
	return component.DefaultStartupTimeout
}

// watchInstance flags an instance in the monitor when its goroutine exits:
// a run error marks it unhealthy, a clean exit removes it.
func (m *Manager) watchInstance(inst *component.Instance) {
	<-inst.Done()
	if err := inst.Err(); err != nil {
		m.monitor.UpdateUnhealthy(inst.ClassName(), err.Error())
	} else {
		m.monitor.Remove(inst.ClassName())
	}
}

// publishActiveRecord writes the instance to the KV registry so other
// processes can discover it. Best effort: failures are logged and never
// affect the reply.
func (m *Manager) publishActiveRecord(ctx context.Context, inst *component.Instance) {
	if m.kv == nil {
		return
	}

	putCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	key := fmt.Sprintf("%s.%s", deviceaddr.Sanitize(m.deviceAddr), inst.ClassName())
	rec := activeRecord{
		ClassName:     inst.ClassName(),
		OutputChannel: inst.OutputChannel(),
		Device:        m.deviceAddr,
		StartedAt:     inst.StartedAt(),
	}
	if err := busclient.PutJSON(putCtx, m.kv, key, rec); err != nil {
		m.logger.Error("publishing active-instance record", err)
	}
}

// Shutdown signals every tracked instance to stop, joins them within the
// grace period, and closes the bus. It never hangs: instances that outlive
// the grace period are abandoned with a logged error. Errors are reported
// but shutdown always runs to completion.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state == component.StateShuttingDown || m.state == component.StateStopped {
		m.mu.Unlock()
		return nil
	}
	m.state = component.StateShuttingDown
	instances := make([]*component.Instance, len(m.active))
	copy(instances, m.active)
	m.mu.Unlock()

	m.logger.Info(fmt.Sprintf("shutting down, stopping %d component(s)", len(instances)))

	for _, inst := range instances {
		inst.Stop()
	}

	deadline := time.Now().Add(m.shutdownGrace)
	var abandoned int
	for _, inst := range instances {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		if err := inst.Join(remaining); err != nil {
			abandoned++
			m.logger.Error(fmt.Sprintf("abandoning component %q after grace period", inst.ClassName()), err)
		}
	}

	var closeErr error
	if err := m.bus.Close(ctx); err != nil {
		closeErr = errors.Wrap(err, "Manager", "Shutdown", "close bus")
		m.logger.Error("closing bus connection", err)
	}

	m.mu.Lock()
	m.active = nil
	m.state = component.StateStopped
	m.mu.Unlock()
	m.metrics.SetActiveInstances(0)
	if m.monitor != nil {
		m.monitor.Clear()
	}

	if abandoned > 0 {
		m.slogger.Error("shutdown abandoned running components", "count", abandoned)
	}

	return closeErr
}

// Package main implements sicd, the device component manager daemon. It
// connects to the message bus, registers the built-in component classes,
// and answers start/stop requests addressed to this device until told to
// stop or signalled.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/WouterBesse/social-interaction-cloud/busclient"
	"github.com/WouterBesse/social-interaction-cloud/component"
	"github.com/WouterBesse/social-interaction-cloud/components/echo"
	"github.com/WouterBesse/social-interaction-cloud/config"
	"github.com/WouterBesse/social-interaction-cloud/deviceaddr"
	"github.com/WouterBesse/social-interaction-cloud/health"
	"github.com/WouterBesse/social-interaction-cloud/manager"
	"github.com/WouterBesse/social-interaction-cloud/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "sicd"
)

// activeComponentsBucket is the KV bucket other processes read to discover
// what runs on each device.
const activeComponentsBucket = "sic_active_components"

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Daemon failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, err := initializeCLI()
	if cliCfg == nil || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	deviceAddr, err := resolveDeviceAddress(cfg)
	if err != nil {
		return err
	}
	slog.Info("Device identity resolved", "address", deviceAddr)

	ctx := context.Background()
	client, err := connectBus(ctx, cfg)
	if err != nil {
		return err
	}

	metricsRegistry := metric.NewRegistry()
	monitor := health.NewMonitor()

	mgr, err := buildManager(ctx, cfg, client, metricsRegistry, monitor, deviceAddr)
	if err != nil {
		_ = client.Close(ctx)
		return err
	}

	return serve(ctx, cfg, cliCfg, mgr, metricsRegistry, monitor)
}

// initializeCLI parses flags and sets up logging. A nil config with nil
// error means a version/help request handled the invocation.
func initializeCLI() (*CLIConfig, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting device component manager",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, nil
}

// initializeConfiguration loads the config file when one is given, applies
// CLI overrides, and validates the result.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg := config.Default()
	if cliCfg.ConfigPath != "" {
		loaded, err := config.Load(cliCfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if cliCfg.DeviceAddress != "" {
		cfg.Device.Address = cliCfg.DeviceAddress
	}
	if cliCfg.NATSURL != "" {
		cfg.NATS.URL = cliCfg.NATSURL
	}
	if cliCfg.Singleton {
		cfg.Manager.Singleton = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// resolveDeviceAddress prefers the configured address and falls back to
// probing the network.
func resolveDeviceAddress(cfg *config.Config) (string, error) {
	if cfg.Device.Address != "" {
		return cfg.Device.Address, nil
	}

	addr, err := deviceaddr.Resolve()
	if err != nil {
		return "", fmt.Errorf("resolve device address: %w", err)
	}
	return addr, nil
}

// connectBus builds the bus client from config and connects it.
func connectBus(ctx context.Context, cfg *config.Config) (*busclient.Client, error) {
	opts := []busclient.ClientOption{
		busclient.WithName(appName),
		busclient.WithLogger(slog.Default()),
		busclient.WithTimeout(cfg.NATS.ConnectTimeout),
		busclient.WithRequestTimeout(cfg.NATS.RequestTimeout),
		busclient.WithReconnect(cfg.NATS.MaxReconnects, 2*time.Second),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, busclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, busclient.WithToken(cfg.NATS.Token))
	}
	if cfg.NATS.TLS.Enabled {
		opts = append(opts, busclient.WithTLS(cfg.NATS.TLS.CertFile, cfg.NATS.TLS.KeyFile, cfg.NATS.TLS.CAFile))
	}

	client, err := busclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bus client: %w", err)
	}

	slog.Info("Connecting to bus", "url", cfg.NATS.URL)
	connectCtx, cancel := context.WithTimeout(ctx, cfg.NATS.ConnectTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("connect to bus: %w", err)
	}

	return client, nil
}

// managerType abstracts over the plain and singleton managers; both expose
// the same serve surface.
type managerType interface {
	Serve(ctx context.Context) error
	Name() string
}

// buildManager registers the built-in component classes and constructs the
// configured manager variant.
func buildManager(
	ctx context.Context,
	cfg *config.Config,
	client *busclient.Client,
	metricsRegistry *metric.Registry,
	monitor *health.Monitor,
	deviceAddr string,
) (managerType, error) {
	registry := component.NewRegistry()
	if err := registry.Register(echo.NewClass(client.Conn())); err != nil {
		return nil, fmt.Errorf("register built-in components: %w", err)
	}
	slog.Info("Component classes registered", "classes", registry.Names())

	opts := []manager.Option{
		manager.WithPollInterval(cfg.Manager.PollInterval),
		manager.WithShutdownGrace(cfg.Manager.ShutdownGrace),
		manager.WithStartupTimeout(cfg.Manager.StartupTimeout),
		manager.WithMaxInstances(cfg.Manager.MaxInstances),
		manager.WithMetrics(metricsRegistry.Metrics),
		manager.WithHealthMonitor(monitor),
		manager.WithLogger(slog.Default()),
	}
	if cfg.Manager.RequestsPerSec > 0 {
		opts = append(opts, manager.WithRequestRate(cfg.Manager.RequestsPerSec, cfg.Manager.RequestBurst))
	}
	if bucket := ensureActiveBucket(ctx, client); bucket != nil {
		opts = append(opts, manager.WithKVBucket(bucket))
	}

	if cfg.Manager.Singleton {
		sm, err := manager.NewSingleton(registry, client, deviceAddr, opts...)
		if err != nil {
			return nil, fmt.Errorf("create singleton manager: %w", err)
		}
		return sm, nil
	}

	m, err := manager.New(registry, client, deviceAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("create manager: %w", err)
	}
	return m, nil
}

// ensureActiveBucket creates or opens the active-component KV bucket. The
// bucket is an optional discovery aid; a server without JetStream just means
// no registry.
func ensureActiveBucket(ctx context.Context, client *busclient.Client) jetstream.KeyValue {
	bucketCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	bucket, err := client.EnsureKeyValueBucket(bucketCtx, jetstream.KeyValueConfig{
		Bucket:      activeComponentsBucket,
		Description: "Live component instances per device",
		History:     1,
	})
	if err != nil {
		slog.Warn("Active-component registry unavailable", "error", err)
		return nil
	}
	return bucket
}

// serve runs the manager loop and the metrics endpoint until a signal or a
// stop request arrives.
func serve(
	ctx context.Context,
	cfg *config.Config,
	cliCfg *CLIConfig,
	mgr managerType,
	metricsRegistry *metric.Registry,
	monitor *health.Monitor,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	group, groupCtx := errgroup.WithContext(signalCtx)

	group.Go(func() error {
		// Serve returning for any reason ends the whole group, including a
		// stop request arriving over the bus.
		defer signalCancel()
		slog.Info("Manager serving", "name", mgr.Name())
		return mgr.Serve(groupCtx)
	})

	if cfg.Metrics.Enabled {
		metricsServer := metric.NewServer(metricsRegistry,
			metric.WithPort(cfg.Metrics.Port),
			metric.WithPath(cfg.Metrics.Path),
			metric.WithHealth(monitor))
		group.Go(func() error {
			if err := metricsServer.Start(); err != nil {
				return fmt.Errorf("start metrics server: %w", err)
			}
			slog.Info("Metrics endpoint up", "address", metricsServer.Address(), "path", cfg.Metrics.Path)

			<-groupCtx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Stop(stopCtx)
		})
	}

	// A signal cancels groupCtx; Serve observes it within one poll interval
	// and runs its own bounded shutdown. The shutdown timeout is the hard
	// backstop for the whole group.
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		return finish(err)
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal", "timeout", cliCfg.ShutdownTimeout)
		select {
		case err := <-done:
			return finish(err)
		case <-time.After(cliCfg.ShutdownTimeout):
			return fmt.Errorf("shutdown timed out after %v", cliCfg.ShutdownTimeout)
		}
	}
}

// finish normalizes the group result: cancellation is the normal exit path.
func finish(err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

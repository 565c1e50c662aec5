// Package main implements the entry point for the agentrund host.
// It wires a registry onto the configured state store, starts the
// in-process runtime and the optional metrics endpoint, registers the
// built-in echo agent, and runs until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	goruntime "runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/agentruntime/agent"
	"github.com/c360/agentruntime/config"
	"github.com/c360/agentruntime/metric"
	"github.com/c360/agentruntime/pkg/retry"
	"github.com/c360/agentruntime/registry"
	"github.com/c360/agentruntime/runtime"
	"github.com/c360/agentruntime/statestore"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "agentrund"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := goruntime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting agent runtime host", "config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()

	store, cleanup, err := createStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create state store: %w", err)
	}
	defer cleanup()

	metricsRegistry := metric.NewMetricsRegistry()
	metrics := metricsRegistry.CoreMetrics()

	reg, err := registry.New(ctx, store,
		registry.WithLogger(logger),
		registry.WithMetrics(metrics),
		registry.WithRetryConfig(retry.Config{
			MaxAttempts:  cfg.Registry.MaxWriteAttempts,
			InitialDelay: cfg.Registry.WriteRetryDelay.Std(),
			MaxDelay:     500 * time.Millisecond,
			Multiplier:   2.0,
			AddJitter:    true,
		}))
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}

	rt := runtime.New(reg,
		runtime.WithLogger(logger),
		runtime.WithMetrics(metrics),
		runtime.WithDeliverToSelf(cfg.Runtime.DeliverToSelf),
		runtime.WithStopTimeout(cfg.Runtime.StopTimeout.Std()))

	if err := registerBuiltinAgents(ctx, rt, logger); err != nil {
		return fmt.Errorf("register built-in agents: %w", err)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(5 * time.Second); err != nil {
				slog.Warn("Metrics server stop failed", "error", err)
			}
		}()
	}

	return runWithSignalHandling(ctx, rt, cliCfg.ShutdownTimeout)
}

// createStore builds the registry's state store from the store section.
// The returned cleanup releases any backing connection.
func createStore(ctx context.Context, cfg *config.Config) (statestore.Store, func(), error) {
	noop := func() {}

	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		slog.Warn("Using in-memory state store, registry state will not survive restarts")
		return statestore.NewMemoryStore(), noop, nil

	case config.StoreBackendFile:
		store, err := statestore.NewFileStore(cfg.Store.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case config.StoreBackendNATS:
		opts := []nats.Option{
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.ReconnectWait(cfg.NATS.ReconnectWait.Std()),
		}
		if cfg.NATS.Username != "" {
			opts = append(opts, nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password))
		}
		if cfg.NATS.Token != "" {
			opts = append(opts, nats.Token(cfg.NATS.Token))
		}
		nc, err := nats.Connect(cfg.NATS.URL, opts...)
		if err != nil {
			return nil, noop, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, noop, fmt.Errorf("create JetStream context: %w", err)
		}
		kv, err := statestore.EnsureBucket(ctx, js, cfg.Store.Bucket)
		if err != nil {
			nc.Close()
			return nil, noop, err
		}
		return statestore.NewNATSKVStore(kv, cfg.Store.Key), nc.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// registerBuiltinAgents installs the agent types every host carries. The
// echo agent answers any string with the same string, which makes it a
// useful liveness probe for the dispatch path.
func registerBuiltinAgents(ctx context.Context, rt *runtime.InProcessRuntime, logger *slog.Logger) error {
	return rt.RegisterAgentType(ctx, "echo", "replies with the received message",
		func(id agent.AgentId) (agent.Agent, error) {
			a := agent.NewBase(id, "replies with the received message", agent.WithLogger(logger))
			err := agent.HandleFunc(a, func(_ context.Context, msg string, _ agent.MessageContext) (any, error) {
				return msg, nil
			})
			return a, err
		})
}

// runWithSignalHandling starts the runtime and blocks until SIGINT or
// SIGTERM, then shuts down within the timeout
func runWithSignalHandling(ctx context.Context, rt *runtime.InProcessRuntime, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start runtime: %w", err)
	}
	slog.Info("Agent runtime host started")

	// Exercise the dispatch path once so a broken deployment fails at
	// startup instead of on first real traffic.
	probeCtx, probeCancel := context.WithTimeout(signalCtx, 5*time.Second)
	reply, err := rt.Call(probeCtx, "ready", agent.AgentId{Type: "echo", Key: "startup-probe"})
	probeCancel()
	if err != nil {
		stopErr := rt.Stop()
		return fmt.Errorf("startup probe: %w", fmt.Errorf("%w (stop: %v)", err, stopErr))
	}
	slog.Debug("Startup probe succeeded", "reply", reply)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	done := make(chan error, 1)
	go func() { done <- rt.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
	}

	slog.Info("Agent runtime host shutdown complete")
	return nil
}

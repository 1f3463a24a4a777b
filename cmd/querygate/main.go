// Package main implements the entry point for the QueryGate application.
// QueryGate is a declarative SQL API gateway: HTTP endpoints are defined in
// external configuration and dispatched to registered SQL statements, with
// admission control bounding concurrent backend work.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/Clickin/querygate/config"
	"github.com/Clickin/querygate/endpoint"
	"github.com/Clickin/querygate/gateway"
	"github.com/Clickin/querygate/metric"
	"github.com/Clickin/querygate/sqlexec"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "querygate"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (build %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogging(cliCfg)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	executor, err := sqlexec.Open(ctx, cfg.Executor, logger.With("component", "executor"))
	if err != nil {
		return err
	}
	defer func() { _ = executor.Close() }()

	metrics := metric.NewRegistry()
	server, err := gateway.NewServer(cfg, executor, metrics, logger)
	if err != nil {
		return err
	}

	if err := server.Start(ctx); err != nil {
		return err
	}

	watcher, err := setupWatcher(ctx, cfg, server, executor, logger)
	if err != nil {
		return err
	}

	logger.Info("startup complete",
		"version", Version,
		"address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))

	<-ctx.Done()
	logger.Info("shutdown signal received", "timeout", cliCfg.ShutdownTimeout)

	if watcher != nil {
		_ = watcher.Stop(cliCfg.ShutdownTimeout)
	}
	return server.Stop(cliCfg.ShutdownTimeout)
}

// setupWatcher wires hot reload for the endpoint and statement files when
// reload is enabled.
func setupWatcher(ctx context.Context, cfg *config.Config, server *gateway.Server, executor *sqlexec.SQLExecutor, logger *slog.Logger) (*endpoint.Watcher, error) {
	if !cfg.Reload.Enabled {
		return nil, nil
	}

	watcher := endpoint.NewWatcher(logger.With("component", "watcher"), cfg.Reload.Debounce())

	if err := watcher.Watch(cfg.EndpointConfigPath, func(path string) error {
		return server.Registry().LoadFile(path)
	}); err != nil {
		return nil, err
	}

	if cfg.Executor.StatementsPath != "" {
		if err := watcher.Watch(cfg.Executor.StatementsPath, func(path string) error {
			return executor.Statements().LoadFile(path)
		}); err != nil {
			return nil, err
		}
	}

	if err := watcher.Start(ctx); err != nil {
		return nil, err
	}

	logger.Info("hot reload enabled",
		"endpoint_config", cfg.EndpointConfigPath,
		"debounce", cfg.Reload.Debounce())
	return watcher, nil
}

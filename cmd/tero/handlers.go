package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/vijoin/tero/internal/config"
	"github.com/vijoin/tero/internal/observability"
	"github.com/vijoin/tero/internal/server"
)

// runServe loads the configuration, wires the core and serves until a
// shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, logger, closeLog, err := loadConfig(configPath, debug)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("starting tero",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()
	if err := stores.Migrate(ctx); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	a, err := newApp(cfg, logger, stores)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.close()

	tracer, shutdownTracer, err := observability.NewTracer(ctx, cfg.Observability.Tracing.TraceConfig(version))
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scheduler, err := a.scheduler()
	if err != nil {
		return err
	}
	scheduler.Start(ctx)

	srv := server.New(server.Config{
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Stores:            stores,
		Engine:            a.engine,
		Tools:             a.configs,
		OAuth:             a.oauth,
		Runner:            a.runner,
		Auth:              a.authenticator(),
		Metrics:           a.metrics,
		MetricsPath:       cfg.Observability.Metrics.Path,
		Tracer:            tracer,
		Logger:            logger,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler did not stop in time", "error", err)
	}

	logger.Info("tero stopped gracefully")
	return nil
}

// runMigrate applies the schema to the configured database.
func runMigrate(ctx context.Context, out io.Writer, configPath string) error {
	cfg, _, closeLog, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	defer closeLog()

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := stores.Migrate(ctx); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	fmt.Fprintf(out, "Schema applied to %s database.\n", cfg.Database.Driver)
	return nil
}

// runConfigSchema prints the configuration JSON Schema.
func runConfigSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("build config schema: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s\n", schema)
	return err
}

// runConfigValidate loads the configuration at path and reports whether it
// is usable.
func runConfigValidate(out io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintf(out, "%s is valid (%s database, %d models).\n", path, cfg.Database.Driver, len(cfg.LLM.Models))
	return nil
}

// runSweep runs the maintenance sweeps once.
func runSweep(ctx context.Context, out io.Writer, configPath string) error {
	cfg, logger, closeLog, err := loadConfig(configPath, false)
	if err != nil {
		return err
	}
	defer closeLog()

	stores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	a, err := newApp(cfg, logger, stores)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.close()

	return sweepOnce(ctx, out, a)
}

// sweepOnce runs every scheduled sweep now and reports each outcome in
// registration order.
func sweepOnce(ctx context.Context, out io.Writer, a *app) error {
	scheduler, err := a.scheduler()
	if err != nil {
		return err
	}
	failures := scheduler.RunAll(ctx)
	var errs []error
	for _, job := range scheduler.Jobs() {
		if err, failed := failures[job.ID]; failed {
			fmt.Fprintf(out, "%s: failed: %v\n", job.ID, err)
			errs = append(errs, fmt.Errorf("%s: %w", job.ID, err))
			continue
		}
		fmt.Fprintf(out, "%s: ok\n", job.ID)
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("sweep finished with errors", "error", err)
		return err
	}
	return nil
}

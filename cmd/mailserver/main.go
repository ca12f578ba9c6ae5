// Command mailserver accepts mail over SMTP and delivers every message to
// stdout and, when configured, to a SQL archive and a NATS subject.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/fluxorio/maildemo/pkg/archive"
	"github.com/fluxorio/maildemo/pkg/concurrency"
	"github.com/fluxorio/maildemo/pkg/config"
	"github.com/fluxorio/maildemo/pkg/delivery"
	"github.com/fluxorio/maildemo/pkg/logging"
	"github.com/fluxorio/maildemo/pkg/observability/prometheus"
	"github.com/fluxorio/maildemo/pkg/observability/tracing"
	"github.com/fluxorio/maildemo/pkg/relay"
	"github.com/fluxorio/maildemo/pkg/smtpd"
)

func main() {
	configPath := flag.String("config", os.Getenv("MAILDEMO_CONFIG"), "path to a YAML or JSON config file")
	flag.Parse()

	cfg, err := config.LoadApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("mailserver failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) error {
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	metrics := prometheus.NewMetrics(promclient.NewRegistry())

	exec, err := concurrency.NewBoundedExecutor(context.Background(), concurrency.BoundedExecutorConfig{
		Name:         "smtp-delivery",
		Parallelism:  cfg.Executor.Parallelism,
		DrainTimeout: cfg.Executor.DrainTimeout.D(),
		Logger:       logger,
		Observer:     metrics,
	})
	if err != nil {
		return err
	}
	logger.Info("delivery executor ready", "executor", exec.String())

	sinks, closeSinks, err := buildSinks(ctx, cfg, logger)
	if err != nil {
		exec.ShutdownNow()
		return err
	}
	defer closeSinks()

	pipeline := delivery.NewPipeline(delivery.NewMulti(metrics, sinks...), logger)
	srv := smtpd.NewServer(context.Background(), cfg.Server, exec, pipeline.Handle, smtpd.Options{
		Logger:   logger,
		Observer: metrics,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start() }()

	var metricsSrv *prometheus.Server
	if cfg.Metrics.Enabled {
		metricsSrv = prometheus.NewServer(cfg.Metrics.Addr, metrics, func() bool { return !exec.IsShutdown() }, logger)
		go func() {
			if err := metricsSrv.Start(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("server stopped unexpectedly", "error", runErr)
		}
	}

	// Leave room past the executor's own drain timeout for closing sessions.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Executor.DrainTimeout.D()+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Stop(); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}

	stats := exec.Stats()
	logger.Info("mailserver stopped",
		"completed", stats.CompletedTasks,
		"rejected", stats.RejectedTasks,
		"panicked", stats.PanickedTasks)
	return runErr
}

// buildSinks returns the enabled sinks in delivery order and a func that
// releases them.
func buildSinks(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) ([]delivery.NamedSink, func(), error) {
	sinks := []delivery.NamedSink{{Name: "printer", Sink: delivery.NewPrinter(os.Stdout)}}
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("sink close failed", "error", err)
			}
		}
	}

	if cfg.Archive.Enabled {
		a, err := archive.Open(ctx, archive.PoolConfigFrom(cfg.Archive), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open archive: %w", err)
		}
		closers = append(closers, a.Close)
		if err := a.Migrate(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, delivery.NamedSink{Name: "archive", Sink: a})
	}

	if cfg.Relay.Enabled {
		r, err := relay.Connect(cfg.Relay, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, r.Close)
		sinks = append(sinks, delivery.NamedSink{Name: "relay", Sink: r})
	}

	return sinks, closeAll, nil
}

// Command mailclient sends the demo message to a mailserver.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fluxorio/maildemo/pkg/concurrency"
	"github.com/fluxorio/maildemo/pkg/config"
	"github.com/fluxorio/maildemo/pkg/logging"
	"github.com/fluxorio/maildemo/pkg/mail"
	"github.com/fluxorio/maildemo/pkg/observability/tracing"
	"github.com/fluxorio/maildemo/pkg/resource"
)

func main() {
	configPath := flag.String("config", os.Getenv("MAILDEMO_CONFIG"), "path to a YAML or JSON config file")
	count := flag.Int("count", 1, "number of messages to send")
	parallel := flag.Int("parallel", 1, "maximum concurrent SMTP sessions when count > 1")
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

	if err := run(ctx, cfg, logger, *count, *parallel); err != nil {
		logger.Error("Failed to send email", "error", err)
		os.Exit(1)
	}
	logger.Info("Successfully sent email!")
}

func run(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger, count, parallel int) error {
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	composer := mail.NewComposer(resource.Default(), cfg.Client.HeloName)
	draft, err := composer.DraftFromConfig(cfg.Client)
	if err != nil {
		return err
	}
	sender := mail.NewSender(cfg.Client.Addr, cfg.Client.HeloName, cfg.Client.Timeout.D(), logger)

	if count <= 1 {
		return sendOne(ctx, composer, sender, draft, logger)
	}
	parallel = max(parallel, 1)
	// Every round of sends may take up to the client timeout.
	drain := time.Duration(drainRounds(count, parallel)) * cfg.Client.Timeout.D()
	return sendMany(ctx, composer, sender, draft, logger, count, parallel, drain)
}

// drainRounds is ceil(count/parallel) plus one round of slack.
func drainRounds(count, parallel int) int {
	return (count+parallel-1)/parallel + 1
}

func sendOne(ctx context.Context, composer *mail.Composer, sender *mail.Sender, draft mail.Draft, logger *slog.Logger) error {
	m, err := composer.Compose(draft)
	if err != nil {
		return err
	}
	logger.Debug("sending email", "message_id", m.MessageID)
	return sender.SendComposed(ctx, m)
}

// sendMany sends count copies of draft, at most parallel at a time, and
// reports how many failed.
func sendMany(ctx context.Context, composer *mail.Composer, sender *mail.Sender, draft mail.Draft, logger *slog.Logger, count, parallel int, drain time.Duration) error {
	exec, err := concurrency.NewBoundedExecutor(ctx, concurrency.BoundedExecutorConfig{
		Name:         "mail-sender",
		Parallelism:  parallel,
		DrainTimeout: drain,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	var failed atomic.Int64
	start := time.Now()
	for i := 0; i < count; i++ {
		task := concurrency.NewNamedTask(fmt.Sprintf("send-%d", i), func(ctx context.Context) error {
			if err := sendOne(ctx, composer, sender, draft, logger); err != nil {
				failed.Add(1)
				return err
			}
			return nil
		})
		if err := exec.Submit(task); err != nil {
			exec.ShutdownNow()
			return err
		}
	}

	exec.Shutdown()
	<-exec.Done()

	stats := exec.Stats()
	logger.Info("batch finished",
		"count", count,
		"parallel", exec.Parallelism(),
		"failed", failed.Load(),
		"discarded", stats.DiscardedTasks,
		"elapsed", time.Since(start))
	if n := failed.Load() + stats.DiscardedTasks; n > 0 {
		return fmt.Errorf("%d of %d messages not sent", n, count)
	}
	if stats.CompletedTasks < int64(count) {
		return fmt.Errorf("%d of %d messages still in flight after %v", int64(count)-stats.CompletedTasks, count, drain)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/rulebook-translator/internal/config"
	"github.com/MimeLyc/rulebook-translator/internal/httpapi"
	"github.com/MimeLyc/rulebook-translator/internal/jobs"
	"github.com/MimeLyc/rulebook-translator/internal/service"
	"github.com/MimeLyc/rulebook-translator/internal/telemetry"
	"github.com/MimeLyc/rulebook-translator/pkg/icron"
	"github.com/MimeLyc/rulebook-translator/pkg/log"
)

type jobRunner interface {
	Run(ctx context.Context) error
	Stop()
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newWorkerCommand(getConfig func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume translation requests from RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), getConfig())
		},
	}
}

func runWorker(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to flush traces: %v", err)
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.service.Warmup(ctx); err != nil {
		return err
	}

	conn, err := jobs.DialAMQP(ctx, cfg.Queue)
	if err != nil {
		return err
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	source, err := jobs.NewAMQPSource(ch, cfg.Queue)
	if err != nil {
		return err
	}

	history := jobs.NewHistory(0)
	runner := jobs.NewRunner(source, a.service, jobs.WithHistory(history))

	c := icron.New()
	if cfg.Admin.WatchdogCron != "" {
		watchdog := service.NewWatchdog(a.store, cfg.Admin.StuckAfter)
		if _, err := service.Schedule(ctx, c, cfg.Admin.WatchdogCron, "watchdog", watchdog.Run); err != nil {
			return err
		}
	}
	srv := httpapi.NewServer(a.store,
		httpapi.WithStuckAfter(cfg.Admin.StuckAfter),
		httpapi.WithHistory(history),
	)

	log.Info("Worker consuming %s, admin API on %s", cfg.Queue.RequestQueue, cfg.Admin.Addr)
	return runWithComponents(ctx, runner, c, srv, cfg.Admin.Addr)
}

// runWithComponents runs the job loop next to the cron engine and the admin
// server. Cancelling ctx lets the current job finish, then stops the rest.
func runWithComponents(ctx context.Context, runner jobRunner, cron cronEngine, srv httpServer, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cron.Start()
	defer cron.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return runner.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		runner.Stop()
		shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

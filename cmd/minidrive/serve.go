package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minidrive/config"
	"minidrive/jobs"
	"minidrive/metrics"
	"minidrive/routes"
	"minidrive/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, archive workers and trash sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newNotifier(cfg *config.Config) services.Notifier {
	if cfg.MailMock {
		return services.NewLogNotifier()
	}
	return services.NewMailgunNotifier(cfg.MailgunAPIKey, cfg.MailgunDomain, cfg.FromEmail)
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer closeStore(st)

	blobs, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	m := metrics.Init(prometheus.DefaultRegisterer)

	pool := jobs.NewWorkerPool(cfg.ArchiveWorkers)
	perms := services.NewPermissionService(st)
	archives := services.NewArchiveService(st, blobs, perms, pool, m)
	container := &routes.ServiceContainer{
		NodeService:      services.NewNodeService(st, blobs, perms, cfg.MaxFileSize),
		ShareService:     services.NewShareService(st, perms, newNotifier(cfg), m),
		TrashService:     services.NewTrashService(st, cfg.TrashRetention),
		ArchiveService:   archives,
		AnalyticsService: services.NewAnalyticsService(st),
	}

	pool.Start()
	if n, err := archives.Recover(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to re-enqueue pending archive jobs")
	} else if n > 0 {
		log.Info().Int("jobs", n).Msg("Re-enqueued pending archive jobs")
	}

	cleaner := jobs.NewTrashCleaner(st, blobs,
		jobs.WithRetention(cfg.TrashRetention),
		jobs.WithCleanupWorkers(cfg.TrashCleanupWorkers),
		jobs.WithInterval(cfg.TrashCleanupInterval),
		jobs.WithMetrics(m),
	)
	cleaner.Start()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           routes.NewRouter(container, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting minidrive server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			cleaner.Stop()
			_ = pool.Shutdown(context.Background())
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}
	cleaner.Stop()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Archive workers cancelled; pending jobs resume on next start")
	}

	log.Info().Msg("minidrive stopped")
	return nil
}

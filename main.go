package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"hallboard/internal/collections"
	"hallboard/internal/config"
	"hallboard/internal/database"
	"hallboard/internal/display"
	"hallboard/internal/notify"
	"hallboard/internal/pipeline"
	"hallboard/internal/server"
	"hallboard/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg := config.Load()

	db, err := database.New(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}

	recordStore := store.New(db, cfg.WritesPerSec, logger)
	fetcher := collections.NewFetcher(cfg.ScheduleBaseURL, cfg.PropertyID, cfg.FetchTimeout, cfg.CacheTTL, logger)
	pusher := display.NewPusher(cfg.DeviceEndpoint, cfg.DeviceToken, cfg.DeviceTitleField, cfg.DeviceBodyField, logger)
	notifier := notify.New(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppNumber, cfg.AlertWhatsAppTo, logger)
	orchestrator := pipeline.New(fetcher, recordStore, pusher, cfg.LocalTimezone, logger)

	scheduler, err := startScheduler(cfg, orchestrator, recordStore, notifier, logger)
	if err != nil {
		logger.Fatal("scheduler start failed", zap.Error(err))
	}

	api := server.New(recordStore, orchestrator, cfg.APIToken, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	waitForShutdown(httpServer, scheduler, logger)
}

// startScheduler registers the daily update run and the expired-record
// prune, then starts the cron loop in the configured timezone.
func startScheduler(cfg *config.Config, orchestrator *pipeline.Orchestrator, recordStore *store.Store, notifier *notify.Notifier, logger *zap.Logger) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithLocation(cfg.LocalTimezone))

	_, err := scheduler.AddFunc(cfg.UpdateCron, func() {
		result := orchestrator.RunScheduled(context.Background())
		if !result.Success {
			notifier.AlertRunFailure(result.Err)
		}
	})
	if err != nil {
		return nil, err
	}

	_, err = scheduler.AddFunc("30 3 * * *", func() {
		removed, err := recordStore.PruneExpired(context.Background())
		if err != nil {
			logger.Warn("prune failed", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("pruned expired records", zap.Int64("removed", removed))
		}
	})
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	return scheduler, nil
}

func waitForShutdown(httpServer *http.Server, scheduler *cron.Cron, logger *zap.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}
	<-scheduler.Stop().Done()
}

// Package main runs the background worker on its own: SMS delivery and event reminders.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eventems/backend/config"
	"github.com/eventems/backend/internal/metrics"
	"github.com/eventems/backend/internal/notifications"
	"github.com/eventems/backend/internal/notify"
	"github.com/eventems/backend/internal/tickets"
	"github.com/eventems/backend/internal/worker"
	"github.com/eventems/backend/pkg/database"
	"github.com/eventems/backend/pkg/queue"
	"github.com/eventems/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	sender, err := notify.NewTwilio(notify.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
	}, logger)
	if err != nil {
		logger.Fatal("twilio", zap.Error(err))
	}

	monitor := metrics.NewMonitor(rdb.Client, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	notificationRepo := notifications.NewRepository(pool)
	dispatcher := notifications.NewDispatcher(notificationRepo, jobQueue, logger)
	ticketRepo := tickets.NewRepository(pool)

	processor := worker.NewSMSProcessor(jobQueue, sender, notificationRepo, monitor, logger)
	reminders := worker.NewReminderSweeper(ticketRepo, dispatcher,
		cfg.Worker.ReminderInterval, cfg.Worker.ReminderLookahead, cfg.Tickets.Location(), logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	go reminders.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

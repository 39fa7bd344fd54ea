package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-scheduling/internal/config"
	"github.com/clinicdesk/clinic-scheduling/internal/logging"
	"github.com/clinicdesk/clinic-scheduling/internal/notify"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	logger.Info("notify-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("exchange", cfg.NotifyExchange),
		zap.String("queue", cfg.NotifyQueue),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer, err := notify.NewAMQPConsumer(cfg.RabbitURL, cfg.NotifyExchange, cfg.NotifyQueue, notify.Keys, 16)
	if err != nil {
		logger.Fatal("rabbitmq consumer setup failed", zap.Error(err))
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Warn("error closing consumer", zap.Error(err))
		}
	}()

	if err := consumer.Run(rootCtx, notify.NewLogDeliverer(logger)); err != nil {
		logger.Error("consumer stopped with error", zap.Error(err))
		return
	}
	logger.Info("shutdown signal received, notify worker stopped")
}

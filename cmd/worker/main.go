package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"alumni/internal/app"
	"alumni/internal/config"
	"alumni/internal/store"
)

// Worker consumes the email, parse and student event queues.
func main() {
	cfg := config.Load()
	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend != "redis" {
		logger.Fatal("worker requires QUEUE_BACKEND=redis", zap.String("queueBackend", cfg.QueueBackend))
	}
	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		logger.Warn("redis not reachable yet; consumers will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	st, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStore()

	consumers := app.Consumers(cfg, st, app.Queues(cfg, redisClient), logger)
	var wg sync.WaitGroup
	for _, c := range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				logger.Error("consumer stopped", zap.String("topic", c.Topic), zap.Error(err))
			}
		}()
	}
	logger.Info("worker started", zap.Int("consumers", len(consumers)))
	wg.Wait()
	logger.Info("worker stopped")
}

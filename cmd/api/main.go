package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"alumni/internal/api"
	"alumni/internal/app"
	"alumni/internal/auth"
	"alumni/internal/config"
	"alumni/internal/mail"
	"alumni/internal/notify"
	"alumni/internal/records"
	"alumni/internal/store"
)

func main() {
	cfg := config.Load()
	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
	}
	queues := app.Queues(cfg, redisClient)

	pool := notify.NewPool(logger.Named("notify"), cfg.NotifyWorkers, cfg.NotifyBuffer)
	dispatcher := notify.NewDispatcher(logger.Named("notify"), pool, queues)
	mailer := mail.NewMailer(mail.New(cfg), logger.Named("mail"))
	svc := records.NewService(st, dispatcher, mailer, logger.Named("records"))

	// In-memory queues only exist in this process, so their consumers run here.
	if cfg.QueueBackend == "memory" {
		for _, c := range app.Consumers(cfg, st, queues, logger) {
			go func() { _ = c.Run(ctx) }()
		}
	}

	if cfg.DevAuthBypass {
		logger.Warn("DEV_AUTH_BYPASS enabled: every request runs as the dev admin")
	}
	verifier := auth.NewVerifier(cfg)
	if verifier == nil && !cfg.DevAuthBypass {
		logger.Warn("identity verifier not configured; authenticated routes will return 503", zap.String("authMode", cfg.AuthMode))
	}

	checks := map[string]api.HealthCheck{"store": st.Ping}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			if !redisClient.Healthy(ctx) {
				return errors.New("redis unreachable")
			}
			return nil
		}
	}

	router := api.NewRouter(api.Deps{
		Service:         svc,
		Gate:            auth.NewGate(verifier, cfg.DevAuthBypass),
		Log:             logger.Named("http"),
		Origins:         cfg.FrontendOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Checks:          checks,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down server")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	pool.Close()
	cancel()
	logger.Info("server exited")
	return nil
}

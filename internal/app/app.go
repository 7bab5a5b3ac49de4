// Package app wires configuration into the backends shared by the binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"alumni/internal/blob"
	"alumni/internal/config"
	"alumni/internal/jobs"
	"alumni/internal/mail"
	"alumni/internal/migrate"
	"alumni/internal/notify"
	"alumni/internal/queue"
	"alumni/internal/records"
	"alumni/internal/store"
	"alumni/internal/webhook"
)

// NewLogger returns a production logger in prod and a development one otherwise.
func NewLogger(cfg config.App) (*zap.Logger, error) {
	if cfg.Production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// OpenStore connects the record store selected by STORE_BACKEND. The
// returned close func is never nil.
func OpenStore(ctx context.Context, cfg config.App, log *zap.Logger) (records.Store, func(), error) {
	if cfg.StoreBackend == "memory" {
		log.Warn("using in-memory record store; data is lost on restart")
		return records.NewMemory(), func() {}, nil
	}
	if err := migrate.Up(ctx, cfg.DatabaseURL); err != nil {
		return nil, func() {}, fmt.Errorf("migrate: %w", err)
	}
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		db.Close()
		return nil, func() {}, fmt.Errorf("connect db: %w", err)
	}
	return records.NewPostgres(db), db.Close, nil
}

// Queues maps each logical topic to its queue. With QUEUE_BACKEND=none the
// map is empty and every enqueue is skipped.
func Queues(cfg config.App, redis *store.Redis) map[string]queue.Queue {
	names := map[string]string{
		notify.TopicEmail:  cfg.EmailTopic,
		notify.TopicParse:  cfg.ParseTopic,
		notify.TopicEvents: cfg.EventsTopic,
	}
	out := make(map[string]queue.Queue, len(names))
	for topic, name := range names {
		switch cfg.QueueBackend {
		case "memory":
			out[topic] = queue.NewInMemory(cfg.NotifyBuffer)
		case "redis":
			if redis != nil {
				out[topic] = queue.NewRedisQueue(redis.Client, cfg.QueuePrefix+":"+name)
			}
		}
	}
	return out
}

// Consumers builds one consumer per configured topic. The parse consumer
// is omitted when object storage is not configured.
func Consumers(cfg config.App, st records.Store, queues map[string]queue.Queue, log *zap.Logger) []*jobs.Consumer {
	mailer := mail.NewMailer(mail.New(cfg), log.Named("mail"))
	hooks := webhook.NewDispatcher(st, cfg.WebhookTimeout, log.Named("webhook"))

	handlers := map[string]jobs.Handler{
		notify.TopicEmail:  jobs.NewEmailHandler(st, mailer, log.Named("email")),
		notify.TopicEvents: jobs.NewEventHandler(st, hooks, log.Named("events")),
	}
	if blobs, err := blob.New(cfg); err != nil {
		log.Warn("resume parsing disabled", zap.Error(err))
	} else {
		handlers[notify.TopicParse] = jobs.NewParseHandler(blobs, st, cfg.S3Bucket, log.Named("parse"))
	}

	var out []*jobs.Consumer
	for topic, h := range handlers {
		q := queues[topic]
		if q == nil {
			continue
		}
		out = append(out, &jobs.Consumer{
			Topic:       topic,
			Queue:       q,
			Handler:     h,
			MaxAttempts: cfg.JobMaxAttempts,
			Log:         log.With(zap.String("consumer", topic)),
		})
	}
	return out
}

// Package jobs holds the worker-side handlers for queued email, resume parse
// and student event messages.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"alumni/internal/errs"
	"alumni/internal/metrics"
	"alumni/internal/queue"
)

// Handler processes one message. Returning an error wrapping
// errs.ErrValidation drops the message; any other error requeues it.
type Handler interface {
	Handle(ctx context.Context, msg queue.Message) error
}

// Consumer drains one topic's queue into a handler.
type Consumer struct {
	Topic       string
	Queue       queue.Queue
	Handler     Handler
	MaxAttempts int
	Log         *zap.Logger
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.Queue.Consume(ctx)
	if err != nil {
		return err
	}
	c.Log.Info("consuming", zap.String("topic", c.Topic))
	for msg := range msgs {
		c.process(ctx, msg)
	}
	return nil
}

func (c *Consumer) process(ctx context.Context, msg queue.Message) {
	err := c.Handler.Handle(ctx, msg)
	if err == nil {
		metrics.JobsProcessed.WithLabelValues(c.Topic, "ok").Inc()
		return
	}
	log := c.Log.With(zap.String("topic", c.Topic), zap.String("type", msg.Type), zap.Int("attempts", msg.Attempts+1))
	if errors.Is(err, errs.ErrValidation) || msg.Attempts+1 >= c.MaxAttempts {
		metrics.JobsProcessed.WithLabelValues(c.Topic, "dropped").Inc()
		log.Error("job dropped", zap.Error(err))
		return
	}

	msg.Attempts++
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if perr := c.Queue.Publish(pubCtx, msg); perr != nil {
		metrics.JobsProcessed.WithLabelValues(c.Topic, "dropped").Inc()
		log.Error("job requeue failed", zap.Error(err), zap.NamedError("requeue", perr))
		return
	}
	metrics.JobsProcessed.WithLabelValues(c.Topic, "retried").Inc()
	log.Warn("job failed, requeued", zap.Error(err))
}

func decode(msg queue.Message, want string, v any) error {
	if msg.Type != want {
		return errs.Invalid("unexpected message type %q", msg.Type)
	}
	if err := json.Unmarshal(msg.Body, v); err != nil {
		return errs.Invalid("decode %s: %v", want, err)
	}
	return nil
}

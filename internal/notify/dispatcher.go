package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"alumni/internal/metrics"
	"alumni/internal/queue"
)

// Dispatcher publishes best-effort jobs. Publishing happens on the pool so
// the request path never waits on, or fails because of, the queue.
type Dispatcher struct {
	log    *zap.Logger
	pool   *Pool
	topics map[string]queue.Queue
}

// NewDispatcher wires topics to queues. A nil or missing queue means the
// topic is not configured and jobs for it are skipped.
func NewDispatcher(log *zap.Logger, pool *Pool, topics map[string]queue.Queue) *Dispatcher {
	return &Dispatcher{log: log, pool: pool, topics: topics}
}

// Enqueue submits a publish of job to topic as a detached task.
func (d *Dispatcher) Enqueue(topic, msgType string, job any) {
	q := d.topics[topic]
	if q == nil {
		d.log.Info("queue not configured, skipping enqueue", zap.String("topic", topic), zap.String("type", msgType))
		metrics.Notifications.WithLabelValues(topic, "skipped").Inc()
		return
	}
	body, err := json.Marshal(job)
	if err != nil {
		d.log.Warn("encode job", zap.String("topic", topic), zap.Error(err))
		metrics.Notifications.WithLabelValues(topic, "failed").Inc()
		return
	}
	ok := d.pool.Submit(Task{
		Name: "publish:" + topic,
		Run: func(ctx context.Context) error {
			if err := q.Publish(ctx, queue.Message{Type: msgType, Body: body}); err != nil {
				metrics.Notifications.WithLabelValues(topic, "failed").Inc()
				return fmt.Errorf("publish %s: %w", msgType, err)
			}
			metrics.Notifications.WithLabelValues(topic, "published").Inc()
			return nil
		},
	})
	if !ok {
		metrics.Notifications.WithLabelValues(topic, "dropped").Inc()
	}
}

// EnqueueEmail queues an email job.
func (d *Dispatcher) EnqueueEmail(job EmailJob) {
	d.Enqueue(TopicEmail, TypeEmailJob, job)
}

// EnqueueParse queues a resume parse job.
func (d *Dispatcher) EnqueueParse(job ParseJob) {
	d.Enqueue(TopicParse, TypeParseJob, job)
}

// StudentUpdated announces a student mutation for webhook fan-out.
func (d *Dispatcher) StudentUpdated(alumniID string, changes map[string]any) {
	d.Enqueue(TopicEvents, TypeStudentUpdated, StudentEvent{
		Event:    TypeStudentUpdated,
		AlumniID: alumniID,
		Changes:  changes,
	})
}

// Package asynqadp adapts the Redis-backed asynq client/server to the
// domain.Queue port: enqueue on the submitter side, dispatch on the worker
// side (see worker.go).
package asynqadp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fairyhunter13/watermark-removal/internal/adapter/observability"
	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// TaskWatermarkRemoval identifies the watermark-removal job task type.
const TaskWatermarkRemoval = "watermark_removal_job"

// QueueName is the default asynq queue carrying watermark-removal tasks
// (spec.md §6 "queue name watermark-removal").
const QueueName = "watermark-removal"

// Queue implements domain.Queue against an asynq client.
type Queue struct {
	client *asynq.Client
	queue  string
}

// New constructs a Queue connected to the given Redis URL, publishing to
// queueName (falls back to QueueName when empty).
func New(redisURL, queueName string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=queue.new: %w", err)
	}
	if queueName == "" {
		queueName = QueueName
	}
	return &Queue{client: asynq.NewClient(opt), queue: queueName}, nil
}

// EnqueueJob publishes a job task with attempts=3 and exponential backoff
// starting at 5s (spec.md §6 "Queue protocol"). asynq's RetryDelayFunc
// (configured on the worker server, see worker.go) doubles the delay per
// retry and caps it, so the only retry option set here is MaxRetry, which
// counts retries after the first run: MaxRetry(2) gives three attempts.
func (q *Queue) EnqueueJob(ctx domain.Context, payload domain.JobTaskPayload) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue.marshal: %w", err)
	}
	t := asynq.NewTask(TaskWatermarkRemoval, b)
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.Queue(q.queue),
		asynq.MaxRetry(2),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	observability.EnqueueJob(QueueName)
	return info.ID, nil
}

package asynqadp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// Pipeline runs the full download -> probe -> transform -> upload -> finalize
// sequence for one job (implemented by internal/worker.Runner). Keeping the
// asynq adapter decoupled from the pipeline lets the pipeline be unit-tested
// without a Redis server.
type Pipeline interface {
	Run(ctx domain.Context, payload domain.JobTaskPayload) error
}

// Worker processes watermark-removal job tasks using asynq.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker constructs a Worker bound to the given Redis URL and pipeline,
// running up to concurrency tasks at once (spec.md §5 worker concurrency).
func NewWorker(redisURL, queueName string, concurrency int, pipeline Pipeline) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=worker.new: %w", err)
	}
	if queueName == "" {
		queueName = QueueName
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{queueName: 1},
		RetryDelayFunc: exponentialBackoff,
	})
	mux := asynq.NewServeMux()
	w := &Worker{server: srv, mux: mux}

	mux.HandleFunc(TaskWatermarkRemoval, func(ctx context.Context, t *asynq.Task) error {
		tracer := otel.Tracer("queue.worker")
		ctx, span := tracer.Start(ctx, "ProcessWatermarkRemovalJob")
		defer span.End()

		var payload domain.JobTaskPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("op=worker.unmarshal_payload: %w", err)
		}
		return pipeline.Run(ctx, payload)
	})

	return w, nil
}

// exponentialBackoff doubles the delay on each retry starting at 5s, capped
// at 60s, per spec.md §6 "Queue protocol".
func exponentialBackoff(n int, _ error, _ *asynq.Task) time.Duration {
	delay := 5 * time.Second
	for i := 0; i < n; i++ {
		delay *= 2
		if delay > 60*time.Second {
			return 60 * time.Second
		}
	}
	return delay
}

// Start begins processing tasks until shutdown.
func (w *Worker) Start() error { return w.server.Start(w.mux) }

// Stop gracefully shuts down the worker server.
func (w *Worker) Stop() { w.server.Shutdown() }

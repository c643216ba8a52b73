package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// nonTerminalStatuses are the statuses the sweeper scans for abandoned jobs;
// completed/failed/cancelled are terminal and never swept.
var nonTerminalStatuses = []domain.JobStatus{
	domain.JobQueued,
	domain.JobValidating,
	domain.JobProcessing,
}

// maxAttempts is the cap on a job's Attempts counter (incremented by the
// pipeline on every claim); a stale job at or above it is not re-enqueued
// and is left in place for operator attention.
const maxAttempts = 5

// Sweeper re-enqueues jobs abandoned mid-attempt: stuck in a non-terminal
// status past a staleness threshold, with attempts still below the cap
// (spec.md §4.3 "Stale-job sweeper", co-located with the worker pool).
type Sweeper struct {
	Jobs     domain.JobRepository
	Queue    domain.Queue
	Logger   *slog.Logger
	Interval time.Duration
	StaleAge time.Duration
}

// Run scans on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cutoff := time.Now().Add(-s.StaleAge)

	for _, status := range nonTerminalStatuses {
		jobs, err := s.Jobs.ListStale(ctx, status, cutoff, 100)
		if err != nil {
			logger.Error("sweeper list stale failed", slog.String("status", string(status)), slog.Any("error", err))
			continue
		}
		for _, j := range jobs {
			s.resweep(ctx, j, logger)
		}
	}
}

func (s *Sweeper) resweep(ctx context.Context, j domain.Job, logger *slog.Logger) {
	if j.Attempts >= maxAttempts {
		logger.Warn("stale job exceeded attempt cap, leaving in place", slog.String("job_id", j.ID), slog.Int("attempts", j.Attempts))
		return
	}

	payload := domain.JobTaskPayload{
		JobID:          j.ID,
		UserID:         j.UserID,
		InputURL:       j.InputURL,
		InputFilename:  j.InputFilename,
		CropPixels:     j.CropPixels,
		CropPosition:   j.CropPosition,
		Platform:       j.Platform,
		ProcessingMode: j.ProcessingMode,
		WebhookURL:     j.WebhookURL,
		Metadata:       j.Metadata,
	}
	if _, err := s.Queue.EnqueueJob(ctx, payload); err != nil {
		logger.Error("sweeper re-enqueue failed", slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}
	logger.Info("stale job re-enqueued", slog.String("job_id", j.ID), slog.Int("attempts", j.Attempts))
}

package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService handles data retention and cleanup
type CleanupService struct {
	Pool       *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 7 // default 7 days, per config.RetentionDays
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes completed/failed/cancelled job rows (and their
// ledger history) whose outputs have passed the retention window (spec.md
// §6 "retention_days" config). Jobs still queued or processing are never
// swept here; the stale-job sweeper owns those.
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var deletedLedger int64
	err = tx.QueryRow(ctx, `
		WITH expired AS (
			SELECT id FROM jobs
			WHERE status IN ('completed','failed','cancelled') AND created_at < $1
		)
		DELETE FROM credit_ledger WHERE job_id IN (SELECT id FROM expired)
		RETURNING count(*)
	`, cutoff).Scan(&deletedLedger)
	if err != nil {
		slog.Debug("no ledger rows to delete", slog.Any("error", err))
	}

	var deletedJobs int64
	err = tx.QueryRow(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed','failed','cancelled') AND created_at < $1
		RETURNING count(*)
	`, cutoff).Scan(&deletedJobs)
	if err != nil {
		slog.Debug("no jobs to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_jobs", deletedJobs),
		slog.Int64("deleted_ledger_entries", deletedLedger),
		slog.Time("cutoff", cutoff),
	)

	return nil
}

// RunPeriodic starts a periodic cleanup job
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour // daily by default
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial cleanup
	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}

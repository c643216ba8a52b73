// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// JobRepo persists and loads jobs from PostgreSQL using a minimal pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `id, user_id, platform, processing_mode, crop_pixels, crop_position,
	input_url, input_filename, input_size_bytes, input_duration_sec,
	status, progress, current_step, started_at, completed_at, processing_time_ms, attempts,
	output_url, output_filename, output_size_bytes, expires_at,
	error_message, error_code, webhook_url, batch_id, metadata, created_at, updated_at`

// Create inserts a new job and returns its id.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "jobs"),
	)
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	meta, err := json.Marshal(j.Metadata)
	if err != nil {
		return "", fmt.Errorf("op=job.create.marshal_metadata: %w", err)
	}
	now := time.Now().UTC()
	q := `INSERT INTO jobs (` + jobColumns + `) VALUES (
		$1,$2,$3,$4,$5,$6,
		$7,$8,$9,$10,
		$11,$12,$13,$14,$15,$16,$17,
		$18,$19,$20,$21,
		$22,$23,$24,$25,$26,$27,$28)`
	_, err = r.Pool.Exec(ctx, q,
		id, j.UserID, j.Platform, j.ProcessingMode, j.CropPixels, j.CropPosition,
		j.InputURL, j.InputFilename, j.InputSizeBytes, j.InputDurationSec,
		domain.JobQueued, 0, "", j.StartedAt, j.CompletedAt, j.ProcessingTimeMS, j.Attempts,
		j.OutputURL, j.OutputFilename, j.OutputSizeBytes, j.ExpiresAt,
		j.ErrorMessage, j.ErrorCode, j.WebhookURL, j.BatchID, meta, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// UpdateProgress loads the job row for update inside a transaction, applies fn,
// and writes the result back. It refuses to overwrite a terminal status with a
// non-terminal one, honoring the idempotent-terminal-write invariant: a
// second write to an already-terminal job is only accepted when it targets
// the same terminal status (spec.md §3 invariant J5).
func (r *JobRepo) UpdateProgress(ctx domain.Context, id string, fn func(j *domain.Job) error) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateProgress")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=job.update_progress.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("failed to rollback job update transaction",
					slog.String("job_id", id), slog.Any("error", rbErr))
			}
		}
	}()

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1 FOR UPDATE`, id)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("op=job.update_progress: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=job.update_progress.select: %w", err)
	}

	wasTerminal := isTerminal(j.Status)
	prevStatus := j.Status
	if err := fn(&j); err != nil {
		return err
	}
	if wasTerminal && j.Status != prevStatus {
		slog.Warn("refusing to overwrite terminal job status",
			slog.String("job_id", id),
			slog.String("from", string(prevStatus)),
			slog.String("to", string(j.Status)))
		return fmt.Errorf("op=job.update_progress: %w: job %s already in terminal status %s", domain.ErrConflict, id, prevStatus)
	}

	meta, err := json.Marshal(j.Metadata)
	if err != nil {
		return fmt.Errorf("op=job.update_progress.marshal_metadata: %w", err)
	}
	j.UpdatedAt = time.Now().UTC()
	q := `UPDATE jobs SET
		platform=$2, processing_mode=$3, crop_pixels=$4, crop_position=$5,
		status=$6, progress=$7, current_step=$8, started_at=$9, completed_at=$10,
		processing_time_ms=$11, attempts=$12,
		output_url=$13, output_filename=$14, output_size_bytes=$15, expires_at=$16,
		error_message=$17, error_code=$18, webhook_url=$19, metadata=$20, updated_at=$21
		WHERE id=$1`
	_, err = tx.Exec(ctx, q,
		id, j.Platform, j.ProcessingMode, j.CropPixels, j.CropPosition,
		j.Status, j.Progress, j.CurrentStep, j.StartedAt, j.CompletedAt,
		j.ProcessingTimeMS, j.Attempts,
		j.OutputURL, j.OutputFilename, j.OutputSizeBytes, j.ExpiresAt,
		j.ErrorMessage, j.ErrorCode, j.WebhookURL, meta, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("op=job.update_progress.exec: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=job.update_progress.commit: %w", err)
	}
	committed = true
	return nil
}

func isTerminal(s domain.JobStatus) bool {
	switch s {
	case domain.JobCompleted, domain.JobFailed, domain.JobCancelled:
		return true
	default:
		return false
	}
}

// Get loads a job by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	row := r.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// Delete removes a job row. SubmitService calls it to undo the insert when
// the enqueue fails; the DELETE /api/v1/jobs/:id route cancels through
// CancelService instead, which keeps the row and marks it cancelled.
func (r *JobRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "jobs"),
	)
	tag, err := r.Pool.Exec(ctx, `DELETE FROM jobs WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=job.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// ListStale returns jobs stuck in status older than olderThan, used by the
// stale-job sweeper to detect workers that died mid-pipeline.
func (r *JobRepo) ListStale(ctx domain.Context, status domain.JobStatus, olderThan time.Time, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.ListStale")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE status=$1 AND updated_at < $2 ORDER BY updated_at ASC LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, status, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("op=job.list_stale: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.list_stale_scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.list_stale_rows: %w", err)
	}
	return jobs, nil
}

// Count returns the total number of jobs.
func (r *JobRepo) Count(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Count")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "COUNT"),
		attribute.String("db.sql.table", "jobs"),
	)
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=job.count: %w", err)
	}
	return count, nil
}

// CountByStatus returns the number of jobs by status.
func (r *JobRepo) CountByStatus(ctx domain.Context, status domain.JobStatus) (int64, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.CountByStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "COUNT"),
		attribute.String("db.sql.table", "jobs"),
	)
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE status = $1`, status)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=job.count_by_status: %w", err)
	}
	return count, nil
}

// rowScanner abstracts pgx.Row and pgx.Rows so scanJob serves both Get (single
// row) and ListStale (row set) without duplicating the column list.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var meta []byte
	if err := row.Scan(
		&j.ID, &j.UserID, &j.Platform, &j.ProcessingMode, &j.CropPixels, &j.CropPosition,
		&j.InputURL, &j.InputFilename, &j.InputSizeBytes, &j.InputDurationSec,
		&j.Status, &j.Progress, &j.CurrentStep, &j.StartedAt, &j.CompletedAt, &j.ProcessingTimeMS, &j.Attempts,
		&j.OutputURL, &j.OutputFilename, &j.OutputSizeBytes, &j.ExpiresAt,
		&j.ErrorMessage, &j.ErrorCode, &j.WebhookURL, &j.BatchID, &meta, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return domain.Job{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &j.Metadata); err != nil {
			return domain.Job{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return j, nil
}

// Package worker implements the job pipeline (a claim followed by the five
// stages download, probe, transform, upload, finalize) that turns a queued watermark-removal
// job into a completed one, plus the stale-job sweeper that re-enqueues
// jobs abandoned mid-attempt.
package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/watermark-removal/internal/adapter/observability"
	"github.com/fairyhunter13/watermark-removal/internal/config"
	"github.com/fairyhunter13/watermark-removal/internal/domain"
	"github.com/fairyhunter13/watermark-removal/internal/worker/download"
	"github.com/fairyhunter13/watermark-removal/internal/worker/transform"
)

// reachableInpaint is satisfied by transform.InpaintClient; kept as a small
// interface so the pipeline can be tested without a real circuit breaker.
type reachableInpaint interface {
	domain.TransformBackend
	Reachable() bool
}

// fetcher is satisfied by *download.Chain; narrowed to an interface so the
// pipeline can be tested without shelling out to curl/yt-dlp/ffmpeg.
type fetcher interface {
	Fetch(ctx domain.Context, sourceURL string) (download.Result, error)
}

// prober is satisfied by *transform.Prober; narrowed to an interface so the
// pipeline can be tested without an ffprobe binary.
type prober interface {
	Probe(ctx domain.Context, scratchDir string, body []byte) (transform.MediaInfo, error)
}

// Runner implements asynqadp.Pipeline: it owns every external collaborator
// needed to take a job from "queued" to a terminal state.
type Runner struct {
	Jobs       domain.JobRepository
	Ledger     domain.LedgerRepository
	Blob       domain.BlobStore
	Mailer     domain.Mailer
	NotifPrefs domain.NotificationPreferences

	Downloader fetcher
	Prober     prober
	Cropper    domain.TransformBackend
	Inpaint    reachableInpaint // nil when no inpaint backend is configured

	Config config.Config
	Logger *slog.Logger

	HTTPClient *http.Client
}

const (
	inputBucket     = "inputs"
	processedBucket = "processed"
)

// Run executes the full pipeline for one dequeued job. Transient errors are
// returned so the queue retries with backoff; deterministic errors mark the
// job failed, release its reserved credits, and return nil so the queue does
// not retry.
func (r *Runner) Run(ctx domain.Context, payload domain.JobTaskPayload) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job_id", payload.JobID), slog.String("user_id", payload.UserID))

	observability.StartProcessingJob("watermark_removal")

	scratchDir, err := os.MkdirTemp("", "watermark-job-*")
	if err != nil {
		return fmt.Errorf("op=pipeline.scratch_dir job_id=%s: %w", payload.JobID, err)
	}
	defer func() { _ = os.RemoveAll(scratchDir) }()

	start := time.Now()
	if err := r.claim(ctx, payload); err != nil {
		observability.FailJob("watermark_removal")
		return err
	}

	body, err := r.download(ctx, payload, logger)
	if err != nil {
		return r.finishFailed(ctx, payload, logger, err)
	}

	info, err := r.probe(ctx, payload, scratchDir, body, logger)
	if err != nil {
		return r.finishFailed(ctx, payload, logger, err)
	}

	processed, mode, err := r.transformStage(ctx, payload, info, body, logger)
	if err != nil {
		return r.finishFailed(ctx, payload, logger, err)
	}

	outputURL, outputFilename, err := r.uploadProcessed(ctx, payload, processed, logger)
	if err != nil {
		return r.finishFailed(ctx, payload, logger, err)
	}

	if err := r.finalize(ctx, payload, mode, outputURL, outputFilename, int64(len(processed)), time.Since(start), logger); err != nil {
		return err
	}

	observability.CompleteJob("watermark_removal")
	return nil
}

// claim transitions the job to processing (progress 5) and persists input
// identity so it survives later failures (spec.md §5 "Claim/begin").
func (r *Runner) claim(ctx domain.Context, payload domain.JobTaskPayload) error {
	now := time.Now().UTC()
	err := r.Jobs.UpdateProgress(ctx, payload.JobID, func(j *domain.Job) error {
		j.Status = domain.JobProcessing
		j.StartedAt = &now
		j.Progress = 5
		j.CurrentStep = "claim"
		j.InputURL = payload.InputURL
		j.InputFilename = payload.InputFilename
		j.Attempts++
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=pipeline.claim job_id=%s: %w", payload.JobID, err)
	}
	return nil
}

// download runs the fall-through chain (§4.4) and advances progress 10→30.
func (r *Runner) download(ctx domain.Context, payload domain.JobTaskPayload, logger *slog.Logger) ([]byte, error) {
	_ = r.setStep(ctx, payload.JobID, "download", 10)

	result, err := r.Downloader.Fetch(ctx, payload.InputURL)
	if err != nil {
		logger.Warn("download chain exhausted", slog.Any("error", err))
		return nil, fmt.Errorf("%w: download failed: %v", domain.ErrContent, err)
	}

	_ = r.setStep(ctx, payload.JobID, "download", 30)
	return result.Body, nil
}

// probe runs the media-toolchain probe, validates the container, uploads the
// original input for before/after comparison, and advances progress 30→40.
func (r *Runner) probe(ctx domain.Context, payload domain.JobTaskPayload, scratchDir string, body []byte, logger *slog.Logger) (transform.MediaInfo, error) {
	_ = r.setStep(ctx, payload.JobID, "probe", 30)

	info, err := r.Prober.Probe(ctx, scratchDir, body)
	if err != nil {
		return transform.MediaInfo{}, fmt.Errorf("%w: probe failed: %v", domain.ErrContent, err)
	}
	if !transform.RecognizedContainer(info.FormatName) {
		return transform.MediaInfo{}, fmt.Errorf("%w: unrecognized container %q", domain.ErrContent, info.FormatName)
	}

	key := fmt.Sprintf("original/%s/%s", payload.JobID, payload.InputFilename)
	if _, err := r.Blob.Put(ctx, inputBucket, key, body, "application/octet-stream"); err != nil {
		return transform.MediaInfo{}, fmt.Errorf("op=pipeline.probe.upload_original job_id=%s: %w", payload.JobID, err)
	}

	err = r.Jobs.UpdateProgress(ctx, payload.JobID, func(j *domain.Job) error {
		j.Progress = 40
		j.CurrentStep = "probe"
		j.InputSizeBytes = int64(len(body))
		j.InputDurationSec = info.DurationS
		return nil
	})
	if err != nil {
		return transform.MediaInfo{}, fmt.Errorf("op=pipeline.probe.persist job_id=%s: %w", payload.JobID, err)
	}
	logger.Info("probe complete", slog.Int("width", info.Width), slog.Int("height", info.Height), slog.Float64("duration_s", info.DurationS))
	return info, nil
}

// transformStage dispatches to the inpaint backend or the crop backend per
// the effective mode, falling through from inpaint to crop on any error when
// mode is auto, and advances progress 40→70. It returns the processed bytes
// and the name of the backend that actually ran (for charging).
func (r *Runner) transformStage(ctx domain.Context, payload domain.JobTaskPayload, info transform.MediaInfo, body []byte, logger *slog.Logger) ([]byte, domain.ProcessingMode, error) {
	_ = r.setStep(ctx, payload.JobID, "transform", 40)

	job := domain.Job{
		ID:           payload.JobID,
		CropPixels:   payload.CropPixels,
		CropPosition: payload.CropPosition,
	}

	wantInpaint := payload.ProcessingMode == domain.ModeInpaint || payload.ProcessingMode == domain.ModeAuto
	if wantInpaint && r.Inpaint != nil && r.Inpaint.Reachable() {
		out, err := r.Inpaint.Transform(ctx, body, job, info.Width, info.Height)
		if err == nil {
			_ = r.setStep(ctx, payload.JobID, "transform", 70)
			return out, domain.ModeInpaint, nil
		}
		logger.Warn("inpaint backend failed", slog.Any("error", err))
		if payload.ProcessingMode != domain.ModeAuto {
			return nil, "", fmt.Errorf("%w: inpaint backend error: %v", domain.ErrInfraTransient, err)
		}
		// mode=auto: fall through to crop below.
	}

	out, err := r.Cropper.Transform(ctx, body, job, info.Width, info.Height)
	if err != nil {
		return nil, "", fmt.Errorf("op=pipeline.transform.crop job_id=%s: %w", payload.JobID, err)
	}
	_ = r.setStep(ctx, payload.JobID, "transform", 70)
	return out, domain.ModeCrop, nil
}

// uploadProcessed writes the processed bytes to the blob store under
// processed/<job_id>/<filename>.mp4 and advances progress 70→90.
func (r *Runner) uploadProcessed(ctx domain.Context, payload domain.JobTaskPayload, processed []byte, logger *slog.Logger) (string, string, error) {
	_ = r.setStep(ctx, payload.JobID, "upload", 70)

	filename := mp4Filename(payload.InputFilename)
	key := fmt.Sprintf("%s/%s/%s", processedBucket, payload.JobID, filename)
	url, err := r.Blob.Put(ctx, processedBucket, key, processed, "video/mp4")
	if err != nil {
		return "", "", fmt.Errorf("op=pipeline.upload job_id=%s: %w", payload.JobID, err)
	}

	_ = r.setStep(ctx, payload.JobID, "upload", 90)
	logger.Info("processed output uploaded", slog.String("url", url))
	return url, filename, nil
}

// mp4Filename strips any existing extension and appends .mp4, per spec.md §5
// ("strip and re-add extension rather than concatenating").
func mp4Filename(original string) string {
	base := strings.TrimSuffix(original, filepath.Ext(original))
	if base == "" {
		base = "output"
	}
	return base + ".mp4"
}

// finalize marks the job completed, charges credits for the backend that
// actually ran, sets expiry, and fans out the webhook/notification/callback
// side effects (progress 90→100).
func (r *Runner) finalize(ctx domain.Context, payload domain.JobTaskPayload, mode domain.ProcessingMode, outputURL, outputFilename string, outputSize int64, elapsed time.Duration, logger *slog.Logger) error {
	now := time.Now().UTC()
	expires := now.Add(time.Duration(r.Config.RetentionDays) * 24 * time.Hour)

	err := r.Jobs.UpdateProgress(ctx, payload.JobID, func(j *domain.Job) error {
		j.Status = domain.JobCompleted
		j.Progress = 100
		j.CurrentStep = "finalize"
		j.CompletedAt = &now
		j.ExpiresAt = &expires
		j.OutputURL = outputURL
		j.OutputFilename = outputFilename
		j.OutputSizeBytes = outputSize
		j.ProcessingTimeMS = elapsed.Milliseconds()
		return nil
	})
	if err != nil {
		return fmt.Errorf("op=pipeline.finalize.persist job_id=%s: %w", payload.JobID, err)
	}

	r.finalizeCreditsWithRetry(ctx, payload, mode, logger)
	r.deliverWebhook(ctx, payload, domain.JobCompleted, outputURL, elapsed, "", logger)
	r.notify(ctx, payload, domain.JobCompleted, logger)
	return nil
}

// finalizeCreditsWithRetry charges for the backend that actually ran,
// retrying a bounded number of times with exponential backoff; failures are
// logged durably but never revert the job's completed status (spec.md §5
// "Finalize").
func (r *Runner) finalizeCreditsWithRetry(ctx domain.Context, payload domain.JobTaskPayload, mode domain.ProcessingMode, logger *slog.Logger) {
	amount := domain.CreditCost(mode)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 4 * time.Second
	bounded := backoff.WithMaxRetries(bo, 2)

	var lastErr error
	op := func() error {
		if err := r.Ledger.Finalize(ctx, payload.UserID, payload.JobID, amount); err != nil {
			lastErr = err
			observability.RecordLedgerOp("finalize", "failure")
			return err
		}
		observability.RecordLedgerOp("finalize", "success")
		return nil
	}
	if err := backoff.Retry(op, bounded); err != nil {
		logger.Error("credit finalize failed after retries", slog.Any("error", lastErr), slog.Int64("amount", amount))
	}
}

// finishFailed decides whether the queue should retry the attempt.
// Deterministic errors mark the job failed, release its reserved credits,
// and return nil (no retry); transient errors are returned unwrapped, with
// the job row and credits left untouched, so asynq retries with backoff
// (spec.md §5 "Failure semantics").
func (r *Runner) finishFailed(ctx domain.Context, payload domain.JobTaskPayload, logger *slog.Logger, cause error) error {
	observability.FailJob("watermark_removal")
	logger.Error("job attempt failed", slog.Any("error", cause))

	deterministic := errors.Is(cause, domain.ErrContent) ||
		errors.Is(cause, domain.ErrValidation) ||
		errors.Is(cause, domain.ErrSSRFBlocked)

	if !deterministic {
		return cause
	}

	message := cause.Error()
	err := r.Jobs.UpdateProgress(ctx, payload.JobID, func(j *domain.Job) error {
		j.Status = domain.JobFailed
		j.ErrorMessage = message
		return nil
	})
	if err != nil {
		logger.Error("failed to persist failed status", slog.Any("error", err))
	}

	if err := r.Ledger.Release(ctx, payload.UserID, payload.JobID); err != nil {
		observability.RecordLedgerOp("release", "failure")
		logger.Error("credit release failed", slog.Any("error", err))
	} else {
		observability.RecordLedgerOp("release", "success")
	}

	r.deliverWebhook(ctx, payload, domain.JobFailed, "", 0, message, logger)
	r.notify(ctx, payload, domain.JobFailed, logger)
	return nil
}

// setStep writes current_step and progress without changing status.
func (r *Runner) setStep(ctx domain.Context, jobID, step string, progress int) error {
	return r.Jobs.UpdateProgress(ctx, jobID, func(j *domain.Job) error {
		j.CurrentStep = step
		j.Progress = progress
		return nil
	})
}

type webhookBody struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	OutputURL        string `json:"output_url,omitempty"`
	ProcessingTimeMS int64  `json:"processing_time_ms,omitempty"`
	Error            string `json:"error,omitempty"`
}

// deliverWebhook POSTs the terminal-state body to payload.WebhookURL, if
// set. Delivery failures are logged and never block the pipeline (spec.md
// §5 "Webhook fan-out").
func (r *Runner) deliverWebhook(ctx domain.Context, payload domain.JobTaskPayload, status domain.JobStatus, outputURL string, elapsed time.Duration, errMsg string, logger *slog.Logger) {
	if payload.WebhookURL == "" {
		return
	}
	body := webhookBody{JobID: payload.JobID, Status: string(status), OutputURL: outputURL, Error: errMsg}
	if elapsed > 0 {
		body.ProcessingTimeMS = elapsed.Milliseconds()
	}
	b, err := json.Marshal(body)
	if err != nil {
		logger.Warn("webhook marshal failed", slog.Any("error", err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.WebhookURL, bytes.NewReader(b))
	if err != nil {
		logger.Warn("webhook request build failed", slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient().Do(req)
	if err != nil {
		logger.Warn("webhook delivery failed", slog.Any("error", err))
		return
	}
	_ = resp.Body.Close()
}

// notify consults per-user notification preferences and emits an email via
// the mail collaborator on terminal status; failures are logged and never
// block (spec.md §5 "Notification fan-out").
func (r *Runner) notify(ctx domain.Context, payload domain.JobTaskPayload, status domain.JobStatus, logger *slog.Logger) {
	if r.Mailer == nil || r.NotifPrefs == nil {
		return
	}
	enabled, err := r.NotifPrefs.Enabled(ctx, payload.UserID, string(status))
	if err != nil {
		logger.Warn("notification preference lookup failed", slog.Any("error", err))
		return
	}
	if !enabled {
		return
	}
	if err := r.Mailer.SendJobNotification(ctx, payload.UserID, domain.Job{ID: payload.JobID, Status: status}); err != nil {
		logger.Warn("notification delivery failed", slog.Any("error", err))
	}
}

func (r *Runner) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return http.DefaultClient
}

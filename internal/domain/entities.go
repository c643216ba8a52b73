// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error taxonomy (sentinels). Each HTTP/job-terminal error is classified by
// wrapping one of these; see httpserver/responses.go and worker/pipeline.go
// for how each sentinel maps to a status code or a terminal job outcome.
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrQuota          = errors.New("insufficient credits")
	ErrInfraTransient = errors.New("transient infrastructure error")
	ErrInfraPermanent = errors.New("permanent infrastructure error")
	ErrContent        = errors.New("invalid content")
	ErrTimeout        = errors.New("operation timed out")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrSSRFBlocked    = errors.New("blocked URL")
	ErrNotCancellable = errors.New("job is not cancellable")
)

// InsufficientCreditsError carries the required/available balances behind an
// ErrQuota failure, so callers can surface a structured 402 payload (spec.md
// §4.1 "fail with INSUFFICIENT_CREDITS carrying required and available
// balances") rather than a bare message.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// Unwrap lets errors.Is(err, domain.ErrQuota) keep working through this type.
func (e *InsufficientCreditsError) Unwrap() error { return ErrQuota }

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// JobStatus captures the lifecycle state of a watermark-removal job.
type JobStatus string

// Job status values (spec.md §3).
const (
	JobQueued     JobStatus = "queued"
	JobValidating JobStatus = "validating"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// ProcessingMode selects the transform backend used for a job.
type ProcessingMode string

// Processing modes (spec.md §3).
const (
	ModeCrop    ProcessingMode = "crop"
	ModeInpaint ProcessingMode = "inpaint"
	ModeAuto    ProcessingMode = "auto"
)

// CropPosition identifies the edge a crop band is removed from.
type CropPosition string

// Crop positions (spec.md §3).
const (
	CropTop    CropPosition = "top"
	CropBottom CropPosition = "bottom"
	CropLeft   CropPosition = "left"
	CropRight  CropPosition = "right"
)

// CreditCost returns the ledger cost, in credits, charged for the backend
// that actually ran (spec.md §4.2 "Charging rule" — the worker charges for
// what ran, not what was requested).
func CreditCost(mode ProcessingMode) int64 {
	if mode == ModeInpaint {
		return 2
	}
	return 1
}

// Job is the central durable entity (spec.md §3).
type Job struct {
	ID     string
	UserID string

	Platform       string
	ProcessingMode ProcessingMode
	CropPixels     int
	CropPosition   CropPosition

	InputURL         string
	InputFilename    string
	InputSizeBytes   int64
	InputDurationSec float64

	Status           JobStatus
	Progress         int
	CurrentStep      string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ProcessingTimeMS int64
	Attempts         int

	OutputURL       string
	OutputFilename  string
	OutputSizeBytes int64
	ExpiresAt       *time.Time

	ErrorMessage string
	ErrorCode    string

	WebhookURL string
	BatchID    string
	Metadata   map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DerivedProgress returns Progress when set, otherwise a status-derived
// estimate per spec.md §4.1's job-query contract.
func (j Job) DerivedProgress() int {
	if j.Progress > 0 {
		return j.Progress
	}
	switch j.Status {
	case JobProcessing:
		return 50
	case JobCompleted:
		return 100
	default:
		return 0
	}
}

// LedgerEntryKind enumerates the append-only credit ledger entry kinds.
type LedgerEntryKind string

// Ledger entry kinds (spec.md §3).
const (
	LedgerGrant    LedgerEntryKind = "grant"
	LedgerPurchase LedgerEntryKind = "purchase"
	LedgerReserve  LedgerEntryKind = "reserve"
	LedgerRelease  LedgerEntryKind = "release"
	LedgerFinalize LedgerEntryKind = "finalize"
)

// LedgerEntry is one append-only row in the credit ledger.
type LedgerEntry struct {
	ID        int64
	UserID    string
	JobID     string
	Kind      LedgerEntryKind
	Delta     int64
	CreatedAt time.Time
}

// PlatformPreset is a closed-map default (crop_pixels, crop_position) for a
// known source platform (spec.md §3, §6 "/api/v1/platforms").
type PlatformPreset struct {
	Name         string       `json:"name"`
	CropPixels   int          `json:"crop_pixels"`
	CropPosition CropPosition `json:"crop_position"`
}

// Dependency describes one declared external dependency in the capabilities
// descriptor (spec.md §3).
type Dependency struct {
	Name               string `json:"name"`
	Required           bool   `json:"required"`
	MinProtocolVersion int    `json:"min_protocol_version"`
}

// BuildInfo carries build provenance for the capabilities descriptor.
type BuildInfo struct {
	Version string    `json:"version"`
	Commit  string    `json:"commit"`
	BuiltAt time.Time `json:"built_at"`
}

// ProtocolInfo names the wire protocol and its integer version.
type ProtocolInfo struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Limits are the declared operational ceilings of a service instance.
type Limits struct {
	MaxPayloadBytes int64 `json:"max_payload_bytes"`
	RateLimitPerMin int   `json:"rate_limit_per_min"`
	MaxVideoSizeMB  int64 `json:"max_video_size_mb"`
}

// CapabilitiesDescriptor is the unit of compatibility checking between
// services (spec.md §3). It is a process-local value; lifecycle.Controller
// owns mutation and re-announcement on feature-flag changes.
type CapabilitiesDescriptor struct {
	SchemaVersion  int            `json:"schema_version"`
	Service        string         `json:"service"`
	RunID          string         `json:"run_id"`
	InstanceID     string         `json:"instance_id"`
	Build          BuildInfo      `json:"build"`
	Protocol       ProtocolInfo   `json:"protocol"`
	Endpoints      []string       `json:"endpoints"`
	Features       map[string]any `json:"features"`
	EventsProduced []string       `json:"events_produced"`
	EventsConsumed []string       `json:"events_consumed"`
	Dependencies   []Dependency   `json:"dependencies"`
	Limits         Limits         `json:"limits"`
}

// Repositories (ports)

// JobRepository persists and loads jobs, matching the teacher's repository
// port shape (internal/domain JobRepository) generalized to the video
// watermark-removal job schema.
type JobRepository interface {
	Create(ctx Context, j Job) (string, error)
	Get(ctx Context, id string) (Job, error)
	// UpdateProgress performs a stage-transition write; it must refuse to
	// overwrite a job whose status is already terminal unless the update
	// targets the same terminal status (idempotent terminal re-write,
	// invariant J5).
	UpdateProgress(ctx Context, id string, fn func(j *Job) error) error
	Delete(ctx Context, id string) error
	ListStale(ctx Context, status JobStatus, olderThan time.Time, limit int) ([]Job, error)
	Count(ctx Context) (int64, error)
	CountByStatus(ctx Context, status JobStatus) (int64, error)
}

// LedgerRepository implements reserve/release/finalize/balance (spec.md §3),
// each idempotent on (user_id, job_id) per spec.md §6.
type LedgerRepository interface {
	Reserve(ctx Context, userID, jobID string, amount int64) error
	Release(ctx Context, userID, jobID string) error
	Finalize(ctx Context, userID, jobID string, finalAmount int64) error
	Balance(ctx Context, userID string) (int64, error)
}

// BlobStore (port) abstracts the object-store client (spec.md §6).
type BlobStore interface {
	Put(ctx Context, bucket, key string, body []byte, contentType string) (string, error)
	Get(ctx Context, bucket, key string) ([]byte, error)
	URL(bucket, key string) string
}

// Queue (port) abstracts the work-queue broker client.
type Queue interface {
	EnqueueJob(ctx Context, payload JobTaskPayload) (string, error)
}

// JobTaskPayload is the full job descriptor carried on the queue (spec.md §6).
type JobTaskPayload struct {
	JobID          string            `json:"job_id"`
	UserID         string            `json:"user_id"`
	InputURL       string            `json:"input_url"`
	InputFilename  string            `json:"input_filename"`
	CropPixels     int               `json:"crop_pixels"`
	CropPosition   CropPosition      `json:"crop_position"`
	Platform       string            `json:"platform"`
	ProcessingMode ProcessingMode    `json:"processing_mode"`
	WebhookURL     string            `json:"webhook_url,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TransformBackend (port) is given bytes + parameters and returns processed
// bytes (spec.md §2 "Transform Backend").
type TransformBackend interface {
	Transform(ctx Context, input []byte, j Job, width, height int) ([]byte, error)
	Name() string
}

// NotificationPreferences (port) resolves per-user notification settings.
type NotificationPreferences interface {
	Enabled(ctx Context, userID string, event string) (bool, error)
}

// Mailer (port) abstracts the external mail collaborator.
type Mailer interface {
	SendJobNotification(ctx Context, userID string, j Job) error
}

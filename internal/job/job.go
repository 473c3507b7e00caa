// Package job provides the Job aggregate for video processing jobs.
// It includes the Job entity, the lifecycle state machine that decides which
// transitions spend or refund credits, and repository ports for persistence.
package job

import (
	"sync"
	"time"

	"github.com/maauso/autocut-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job was created and nothing has happened yet.
	StatusPending Status = "PENDING"
	// StatusUploading indicates the source video is being uploaded.
	StatusUploading Status = "UPLOADING"
	// StatusQueued indicates credits were spent and the job awaits processing.
	StatusQueued Status = "QUEUED"
	// StatusTranscribing indicates the transcription service is working on the job.
	StatusTranscribing Status = "TRANSCRIBING"
	// StatusAnalyzing indicates the analysis service is working on the job.
	StatusAnalyzing Status = "ANALYZING"
	// StatusRendering indicates the remote renderer is producing the output.
	StatusRendering Status = "RENDERING"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the job failed. It may be retried.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled.
	StatusCancelled Status = "CANCELLED"
)

// IsValid returns true if the status is a known job status.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true for COMPLETED, FAILED and CANCELLED.
// A FAILED job may still leave its terminal state through a retry.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// AcceptsVideo returns true for the states before the job is queued, in which
// the source video may still be uploaded or replaced.
func (s Status) AcceptsVideo() bool {
	return s == StatusPending || s == StatusUploading
}

// Job represents a video processing job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// UserID is the owning user.
	UserID string
	// Name is a human readable label.
	Name string
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100).
	Progress int
	// CurrentStep describes what the processing services are doing.
	CurrentStep string
	// Priority orders queued work; higher is more urgent.
	Priority int
	// CreditsCost is fixed at creation and charged when the job is queued.
	CreditsCost int64
	// RetryCount is the number of times the job re-entered QUEUED from FAILED.
	RetryCount int
	// MaxRetries bounds RetryCount.
	MaxRetries int
	// ErrorMessage is the failure or cancellation reason.
	ErrorMessage string
	// VideoPath is the storage path of the uploaded source video.
	VideoPath string
	// OutputPath is the storage path of the rendered result, reported on completion.
	OutputPath string

	// Charged is true while a USAGE entry for this job has not been refunded.
	Charged bool
	// ChargeAttempt is the attempt number of the last USAGE entry.
	ChargeAttempt int
	// Charges counts USAGE entries recorded for this job.
	Charges int
	// Queued is true once the job has entered QUEUED.
	Queued bool

	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing of the current attempt started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a PENDING job with a generated ID.
func New(userID, name string, creditsCost int64) *Job {
	return NewWithID(id.Generate(), userID, name, creditsCost)
}

// NewWithID creates a PENDING job with the specified ID.
// Useful for testing or when the ID is generated externally.
func NewWithID(jobID, userID, name string, creditsCost int64) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          jobID,
		UserID:      userID,
		Name:        name,
		Status:      StatusPending,
		CreditsCost: creditsCost,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetVideoPath records where the uploaded source video was stored.
func (j *Job) SetVideoPath(path string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.VideoPath = path
	j.UpdatedAt = time.Now().UTC()
}

// CanRetry returns true if a FAILED job still has retries left.
func (j *Job) CanRetry() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.canRetry()
}

func (j *Job) canRetry() bool {
	return j.Status == StatusFailed && j.RetryCount < j.MaxRetries
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:            j.ID,
		UserID:        j.UserID,
		Name:          j.Name,
		Status:        j.Status,
		Progress:      j.Progress,
		CurrentStep:   j.CurrentStep,
		Priority:      j.Priority,
		CreditsCost:   j.CreditsCost,
		RetryCount:    j.RetryCount,
		MaxRetries:    j.MaxRetries,
		ErrorMessage:  j.ErrorMessage,
		VideoPath:     j.VideoPath,
		OutputPath:    j.OutputPath,
		Charged:       j.Charged,
		ChargeAttempt: j.ChargeAttempt,
		Charges:       j.Charges,
		Queued:        j.Queued,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}

func clampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}

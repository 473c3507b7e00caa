package job

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

var (
	// ErrUnknownStatus is returned for a target status that does not exist.
	ErrUnknownStatus = fmt.Errorf("%w: unknown status", ErrInvalidTransition)
	// ErrRetryLimitReached is returned when a FAILED job has no retries left.
	ErrRetryLimitReached = fmt.Errorf("%w: retry limit reached", ErrInvalidTransition)
	// ErrRetryRefunded is returned under RetryReject when the job's charge was already refunded.
	ErrRetryRefunded = fmt.Errorf("%w: credits for this job were refunded", ErrInvalidTransition)
)

// validTransitions defines which state transitions are allowed.
// A status listed as its own successor accepts progress updates.
var validTransitions = map[Status][]Status{
	StatusPending:      {StatusUploading, StatusQueued, StatusFailed, StatusCancelled},
	StatusUploading:    {StatusUploading, StatusQueued, StatusFailed, StatusCancelled},
	StatusQueued:       {StatusTranscribing, StatusFailed, StatusCancelled},
	StatusTranscribing: {StatusTranscribing, StatusAnalyzing, StatusFailed, StatusCancelled},
	StatusAnalyzing:    {StatusAnalyzing, StatusRendering, StatusFailed, StatusCancelled},
	StatusRendering:    {StatusRendering, StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:    {},
	StatusFailed:       {StatusQueued},
	StatusCancelled:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// RetryPolicy decides what re-queuing a refunded job costs.
type RetryPolicy string

const (
	// RetryReject refuses to re-queue a job whose charge was refunded.
	// A job then never carries more than one USAGE and one REFUND entry.
	RetryReject RetryPolicy = "reject"
	// RetryRespend charges the job again for the new attempt.
	RetryRespend RetryPolicy = "respend"
)

// ParseRetryPolicy converts a configuration value into a RetryPolicy.
func ParseRetryPolicy(s string) (RetryPolicy, error) {
	switch p := RetryPolicy(s); p {
	case RetryReject, RetryRespend:
		return p, nil
	case "":
		return RetryReject, nil
	default:
		return "", fmt.Errorf("unknown retry policy %q", s)
	}
}

// Metadata carries optional fields reported alongside a transition.
type Metadata struct {
	Progress     *int
	ErrorMessage string
	CurrentStep  string
	// OutputPath is recorded only on the transition to COMPLETED.
	OutputPath string
}

// Decision is the outcome of planning a transition: the new status and the
// ledger effect the caller must record before applying it.
type Decision struct {
	From Status
	To   Status
	// Charge requires a USAGE entry of -CreditsCost for Attempt.
	Charge bool
	// Refund requires a REFUND entry of +CreditsCost for Attempt.
	Refund bool
	// Attempt is the job attempt the ledger entry belongs to.
	Attempt int
	// Retry is set when a FAILED job re-enters QUEUED.
	Retry bool
	// Update is set for a same-status progress update.
	Update bool
}

// Plan validates moving j to status to and reports the required ledger effect.
// It does not modify j.
func Plan(j *Job, to Status, policy RetryPolicy) (Decision, error) {
	if !to.IsValid() {
		return Decision{}, fmt.Errorf("%w %q", ErrUnknownStatus, to)
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	from := j.Status
	if !canTransition(from, to) {
		return Decision{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	d := Decision{From: from, To: to, Attempt: j.RetryCount}

	switch {
	case from == to:
		d.Update = true

	case to == StatusQueued:
		if from == StatusFailed {
			if !j.canRetry() {
				return Decision{}, fmt.Errorf("%w (%d/%d)", ErrRetryLimitReached, j.RetryCount, j.MaxRetries)
			}
			d.Retry = true
			d.Attempt = j.RetryCount + 1
		} else if j.Queued {
			return Decision{}, fmt.Errorf("%w: job was already queued", ErrInvalidTransition)
		}

		switch {
		case j.Charged:
			// The outstanding charge carries over to the new attempt.
			d.Attempt = j.ChargeAttempt
		case j.Charges > 0 && policy != RetryRespend:
			return Decision{}, ErrRetryRefunded
		default:
			d.Charge = true
		}

	case to == StatusFailed, to == StatusCancelled:
		if j.Charged {
			d.Refund = true
			d.Attempt = j.ChargeAttempt
		}
	}

	return d, nil
}

// Apply moves j to the decided status and records metadata and timestamps.
// The caller must have recorded the ledger effect of d first.
func (j *Job) Apply(d Decision, meta Metadata, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Status = d.To
	j.UpdatedAt = now

	if d.Retry {
		j.RetryCount++
		j.ErrorMessage = ""
		j.Progress = 0
		j.StartedAt = time.Time{}
		j.CompletedAt = time.Time{}
	}
	if d.Charge {
		j.Charged = true
		j.ChargeAttempt = d.Attempt
		j.Charges++
	}
	if d.Refund {
		j.Charged = false
	}

	if meta.Progress != nil {
		j.Progress = clampProgress(*meta.Progress)
	}
	if meta.CurrentStep != "" {
		j.CurrentStep = meta.CurrentStep
	}

	switch d.To {
	case StatusQueued:
		j.Queued = true
	case StatusTranscribing:
		if j.StartedAt.IsZero() {
			j.StartedAt = now
		}
	case StatusCompleted:
		j.Progress = 100
		if meta.OutputPath != "" {
			j.OutputPath = meta.OutputPath
		}
	case StatusFailed, StatusCancelled:
		j.ErrorMessage = meta.ErrorMessage
	}
	if d.To.IsTerminal() {
		j.CompletedAt = now
	}
}

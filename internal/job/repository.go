package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository defines the read side of job persistence.
type Repository interface {
	// FindByID retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// ListByUser returns the user's jobs, newest first.
	ListByUser(ctx context.Context, userID string) ([]*Job, error)
}

// Tx is the transactional view of job persistence.
// LockJob must serialize transitions of the same job until the surrounding
// transaction ends, and returns ErrJobNotFound for unknown IDs.
type Tx interface {
	LockJob(ctx context.Context, id string) (*Job, error)
	SaveJob(ctx context.Context, j *Job) error
}

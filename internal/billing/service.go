// Package billing ties the job state machine to the credit ledger.
// Every job transition and its ledger entry commit in one store transaction:
// either the status change and the debit or refund both happen, or neither does.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maauso/autocut-api/internal/balance"
	"github.com/maauso/autocut-api/internal/job"
	"github.com/maauso/autocut-api/internal/job/id"
	"github.com/maauso/autocut-api/internal/ledger"
	"github.com/maauso/autocut-api/internal/metrics"
	"github.com/maauso/autocut-api/internal/notify"
	"github.com/maauso/autocut-api/internal/store"
)

var (
	// ErrInvalidInput is returned when a request fails basic validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBalanceMismatch is returned by VerifyBalance when the cached account
	// differs from the ledger replay.
	ErrBalanceMismatch = errors.New("cached balance does not match ledger")
)

// DefaultMaxRetries is used when neither the request nor the service sets one.
const DefaultMaxRetries = 3

// Service is the billing use case: job creation, transitions and credit bookkeeping.
type Service struct {
	store     store.Store
	ledger    *ledger.Ledger
	projector *balance.Projector
	notifier  notify.Notifier
	logger    *slog.Logger

	policy     job.RetryPolicy
	maxRetries int
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy sets what re-queuing a refunded job does.
func WithRetryPolicy(p job.RetryPolicy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// WithDefaultMaxRetries sets max_retries for jobs created without one.
func WithDefaultMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithNotifier sets the status change notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a billing Service over st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:      st,
		projector:  balance.NewProjector(),
		notifier:   notify.Noop{},
		logger:     slog.Default(),
		policy:     job.RetryReject,
		maxRetries: DefaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = ledger.New(ledger.WithClock(s.now))
	return s
}

// CreateJobInput contains the parameters of a new job.
type CreateJobInput struct {
	UserID      string
	Name        string
	CreditsCost int64
	Priority    int
	// MaxRetries overrides the service default when set.
	MaxRetries *int
}

// CreateJob persists a new PENDING job. Creating a job has no ledger effect.
func (s *Service) CreateJob(ctx context.Context, in CreateJobInput) (*job.Job, error) {
	if in.UserID == "" || in.Name == "" {
		return nil, fmt.Errorf("%w: user id and name are required", ErrInvalidInput)
	}
	if in.CreditsCost <= 0 {
		return nil, fmt.Errorf("%w: credits cost must be positive", ErrInvalidInput)
	}
	maxRetries := s.maxRetries
	if in.MaxRetries != nil {
		if *in.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: max retries must not be negative", ErrInvalidInput)
		}
		maxRetries = *in.MaxRetries
	}

	j := job.New(in.UserID, in.Name, in.CreditsCost)
	j.Priority = in.Priority
	j.MaxRetries = maxRetries
	now := s.now().UTC()
	j.CreatedAt, j.UpdatedAt = now, now

	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SaveJob(ctx, j)
	})
	if err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("save job: %w", err)
	}

	s.logger.Info("job created",
		slog.String("job_id", j.ID),
		slog.String("user_id", j.UserID),
		slog.Int64("credits_cost", j.CreditsCost),
	)
	return j, nil
}

// TransitionJob moves a job to status to. Entering QUEUED debits the job's
// cost; FAILED and CANCELLED refund an outstanding debit. The job is locked for
// the whole transaction so concurrent reports for the same job are serialized.
func (s *Service) TransitionJob(ctx context.Context, jobID string, to job.Status, meta job.Metadata) (*job.Job, error) {
	if !id.Valid(jobID) {
		return nil, job.ErrJobNotFound
	}

	var (
		result *job.Job
		from   job.Status
	)

	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		from = j.Status

		d, err := job.Plan(j, to, s.policy)
		if err != nil {
			return err
		}

		switch {
		case d.Charge:
			_, err := s.post(ctx, tx, ledger.Request{
				UserID:      j.UserID,
				Kind:        ledger.KindUsage,
				Amount:      -j.CreditsCost,
				JobID:       j.ID,
				JobAttempt:  d.Attempt,
				Description: fmt.Sprintf("job %q queued", j.Name),
			})
			if err != nil {
				return err
			}
		case d.Refund:
			_, err := s.post(ctx, tx, ledger.Request{
				UserID:      j.UserID,
				Kind:        ledger.KindRefund,
				Amount:      j.CreditsCost,
				JobID:       j.ID,
				JobAttempt:  d.Attempt,
				Description: fmt.Sprintf("job %q %s", j.Name, strings.ToLower(string(d.To))),
			})
			if errors.Is(err, ledger.ErrDuplicateRefund) {
				metrics.DuplicateRefundsTotal.Inc()
				s.logger.Warn("refund already recorded, skipping",
					slog.String("job_id", j.ID),
					slog.Int("attempt", d.Attempt),
				)
			} else if err != nil {
				return err
			}
		}

		j.Apply(d, meta, s.now().UTC())
		if err := tx.SaveJob(ctx, j); err != nil {
			return fmt.Errorf("save job: %w", err)
		}
		result = j
		return nil
	})
	if err != nil {
		metrics.JobTransitionsRejected.WithLabelValues(rejectReason(err)).Inc()
		s.logger.Info("job transition rejected",
			slog.String("job_id", jobID),
			slog.String("to", string(to)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	metrics.JobTransitionsTotal.WithLabelValues(string(from), string(result.Status)).Inc()
	s.logger.Info("job transitioned",
		slog.String("job_id", result.ID),
		slog.String("from", string(from)),
		slog.String("to", string(result.Status)),
	)
	s.publish(ctx, notify.StatusChanged(result, from))
	return result, nil
}

// AttachVideo records the storage path of a job's uploaded source video.
// Only jobs that have not been queued yet accept a video.
func (s *Service) AttachVideo(ctx context.Context, jobID, path string) (*job.Job, error) {
	if !id.Valid(jobID) {
		return nil, job.ErrJobNotFound
	}
	if path == "" {
		return nil, fmt.Errorf("%w: video path is required", ErrInvalidInput)
	}
	var result *job.Job
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		j, err := tx.LockJob(ctx, jobID)
		if err != nil {
			return err
		}
		if st := j.GetStatus(); !st.AcceptsVideo() {
			return fmt.Errorf("%w: cannot attach video to %s job", job.ErrInvalidTransition, st)
		}
		j.SetVideoPath(path)
		if err := tx.SaveJob(ctx, j); err != nil {
			return fmt.Errorf("save job: %w", err)
		}
		result = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetJob retrieves a job by ID. Malformed IDs are reported as not found
// without a store lookup.
func (s *Service) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	if !id.Valid(jobID) {
		return nil, job.ErrJobNotFound
	}
	return s.store.FindByID(ctx, jobID)
}

// ListJobs returns the user's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, userID string) ([]*job.Job, error) {
	return s.store.ListByUser(ctx, userID)
}

func (s *Service) publish(ctx context.Context, e notify.Event) {
	if err := s.notifier.Notify(ctx, e); err != nil {
		metrics.NotificationsFailed.Inc()
		s.logger.Warn("failed to publish job event",
			slog.String("job_id", e.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, job.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, job.ErrJobNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Package server provides the HTTP server for the AutoCut API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/autocut-api/internal/balance"
	"github.com/maauso/autocut-api/internal/job"
	"github.com/maauso/autocut-api/internal/ledger"
)

// CreateJobRequest is the HTTP request body for creating a new job.
type CreateJobRequest struct {
	// UserID is the owner charged for the job.
	UserID string `json:"user_id" validate:"required,max=128"`
	// Name is a human readable label.
	Name string `json:"name" validate:"required,max=255"`
	// CreditsCost is the price of the job, charged when it is queued.
	CreditsCost int64 `json:"credits_cost" validate:"required,min=1"`
	// Priority orders queued work; higher is more urgent.
	Priority int `json:"priority" validate:"min=0,max=100"`
	// MaxRetries overrides the server default when set.
	MaxRetries *int `json:"max_retries,omitempty" validate:"omitempty,min=0,max=100"`
}

// TransitionRequest is the HTTP request body for moving a job to a new status.
type TransitionRequest struct {
	Status       string `json:"status" validate:"required,oneof=PENDING UPLOADING QUEUED TRANSCRIBING ANALYZING RENDERING COMPLETED FAILED CANCELLED"`
	Progress     *int   `json:"progress,omitempty" validate:"omitempty,min=0,max=100"`
	CurrentStep  string `json:"current_step,omitempty" validate:"max=255"`
	ErrorMessage string `json:"error_message,omitempty" validate:"max=2000"`
	OutputPath   string `json:"output_path,omitempty" validate:"max=1024"`
}

// JobResponse is the HTTP response for job details.
type JobResponse struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"current_step,omitempty"`
	Priority    int        `json:"priority"`
	CreditsCost int64      `json:"credits_cost"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	CanRetry    bool       `json:"can_retry"`
	Charged     bool       `json:"charged"`
	Error       string     `json:"error,omitempty"`
	VideoPath   string     `json:"video_path,omitempty"`
	OutputPath  string     `json:"output_path,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is the HTTP response for a user's jobs.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// PurchaseRequest is the HTTP request body for a completed payment.
type PurchaseRequest struct {
	Credits     int64  `json:"credits" validate:"required,min=1"`
	PaymentRef  string `json:"payment_ref" validate:"required,max=255"`
	Provider    string `json:"provider" validate:"max=64"`
	AmountCents int64  `json:"amount_cents" validate:"min=0"`
}

// BonusRequest is the HTTP request body for a promotional credit.
type BonusRequest struct {
	Amount      int64  `json:"amount" validate:"required,min=1"`
	Description string `json:"description" validate:"max=500"`
}

// AdjustmentRequest is the HTTP request body for a signed manual correction.
type AdjustmentRequest struct {
	// Amount must not be zero; negative values debit the user.
	Amount      int64  `json:"amount" validate:"required"`
	Description string `json:"description" validate:"required,max=500"`
}

// BalanceResponse is the HTTP response for a user's cached balance.
type BalanceResponse struct {
	UserID         string    `json:"user_id"`
	Balance        int64     `json:"balance"`
	TotalPurchased int64     `json:"total_purchased"`
	TotalUsed      int64     `json:"total_used"`
	LastSeq        int64     `json:"last_seq"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// LedgerResponse is the HTTP response for a user's ledger.
type LedgerResponse struct {
	UserID  string         `json:"user_id"`
	Entries []ledger.Entry `json:"entries"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func toJobResponse(j *job.Job) JobResponse {
	c := j.Clone()
	return JobResponse{
		ID:          c.ID,
		UserID:      c.UserID,
		Name:        c.Name,
		Status:      string(c.Status),
		Progress:    c.Progress,
		CurrentStep: c.CurrentStep,
		Priority:    c.Priority,
		CreditsCost: c.CreditsCost,
		RetryCount:  c.RetryCount,
		MaxRetries:  c.MaxRetries,
		CanRetry:    c.CanRetry(),
		Charged:     c.Charged,
		Error:       c.ErrorMessage,
		VideoPath:   c.VideoPath,
		OutputPath:  c.OutputPath,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		StartedAt:   optionalTime(c.StartedAt),
		CompletedAt: optionalTime(c.CompletedAt),
	}
}

func toBalanceResponse(a balance.Account) BalanceResponse {
	return BalanceResponse{
		UserID:         a.UserID,
		Balance:        a.Balance,
		TotalPurchased: a.TotalPurchased,
		TotalUsed:      a.TotalUsed,
		LastSeq:        a.LastSeq,
		UpdatedAt:      a.UpdatedAt,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

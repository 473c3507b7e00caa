// Package payment defines the payment record that backs PURCHASE ledger entries.
package payment

import (
	"context"
	"errors"
	"time"
)

// ErrPaymentNotFound is returned when no payment has the given reference.
var ErrPaymentNotFound = errors.New("payment not found")

// Status is the provider-side state of a payment.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRefunded  Status = "REFUNDED"
	StatusCancelled Status = "CANCELLED"
)

// Payment is a purchase of credits through an external provider.
// A COMPLETED payment has exactly one PURCHASE ledger entry.
type Payment struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// Provider names the payment processor, e.g. "stripe".
	Provider string `json:"provider"`
	// ExternalID is the provider's transaction id and the ledger payment reference.
	ExternalID string `json:"external_id"`
	// AmountCents is the money paid.
	AmountCents      int64     `json:"amount_cents"`
	CreditsPurchased int64     `json:"credits_purchased"`
	Status           Status    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Tx is the transactional view of payment persistence.
type Tx interface {
	FindPayment(ctx context.Context, externalID string) (*Payment, error)
	SavePayment(ctx context.Context, p *Payment) error
}

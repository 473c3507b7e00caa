// Package store provides the unit of work that makes a job status change and
// its ledger entry commit or roll back together.
package store

import (
	"context"

	"github.com/maauso/autocut-api/internal/balance"
	"github.com/maauso/autocut-api/internal/job"
	"github.com/maauso/autocut-api/internal/ledger"
	"github.com/maauso/autocut-api/internal/payment"
)

// Tx is everything a single transactional operation may touch.
// Locks taken through LockJob and LockUser are held until the transaction ends.
// Callers that need both must lock the job first.
type Tx interface {
	job.Tx
	ledger.Tx
	balance.Tx
	payment.Tx
}

// Store runs transactions and serves committed reads.
type Store interface {
	job.Repository

	// InTx runs fn in a transaction. If fn returns an error nothing it wrote
	// becomes visible.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Entries returns the user's ledger entries ordered by sequence number.
	Entries(ctx context.Context, userID string) ([]ledger.Entry, error)

	// Account returns the cached balance record.
	// Returns balance.ErrAccountNotFound when the user has no entries.
	Account(ctx context.Context, userID string) (balance.Account, error)

	// Payment returns a payment by its external id.
	Payment(ctx context.Context, externalID string) (*payment.Payment, error)
}

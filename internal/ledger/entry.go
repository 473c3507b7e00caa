// Package ledger provides the append-only credit ledger.
// The ledger is the only source of truth for a user's balance: every credit
// movement is an immutable Entry, and corrections are new ADJUSTMENT entries.
package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the business reason for a ledger entry.
type Kind string

const (
	// KindPurchase credits the user for a completed payment.
	KindPurchase Kind = "PURCHASE"
	// KindUsage debits the user when a job starts consuming credits.
	KindUsage Kind = "USAGE"
	// KindRefund returns a job's credits after it failed or was cancelled.
	KindRefund Kind = "REFUND"
	// KindBonus is a promotional credit.
	KindBonus Kind = "BONUS"
	// KindAdjustment is a signed manual correction.
	KindAdjustment Kind = "ADJUSTMENT"
)

// IsValid returns true if the kind is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindPurchase, KindUsage, KindRefund, KindBonus, KindAdjustment:
		return true
	}
	return false
}

var (
	// ErrInsufficientFunds is returned when a debit would make the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateRefund is returned when a refund already references the job attempt.
	ErrDuplicateRefund = errors.New("refund already recorded for job")
	// ErrDuplicateEntry is returned when an entry with the same job attempt
	// or payment reference already exists.
	ErrDuplicateEntry = errors.New("ledger entry already exists")
	// ErrInvalidAmount is returned when the amount sign does not match the kind.
	ErrInvalidAmount = errors.New("invalid ledger amount")
	// ErrMissingReference is returned when a kind requires a job or payment reference.
	ErrMissingReference = errors.New("missing ledger reference")
	// ErrBrokenChain is returned by Verify when balance_after values do not
	// follow from the amounts.
	ErrBrokenChain = errors.New("ledger chain is inconsistent")
)

// Entry is a single immutable ledger row.
type Entry struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// Seq is the per-user sequence number, starting at 1.
	Seq  int64 `json:"seq"`
	Kind Kind  `json:"kind"`
	// Amount is signed: positive credits the user, negative debits.
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	JobID        string `json:"job_id,omitempty"`
	// JobAttempt is the job's retry count when the entry was recorded.
	JobAttempt  int       `json:"job_attempt"`
	PaymentRef  string    `json:"payment_ref,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Balance folds entries into a balance. Entries must belong to one user.
func Balance(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Amount
	}
	return total
}

// Verify checks that entries, ordered by Seq, form a consistent chain:
// each balance_after equals the previous one plus the amount, and none is negative.
func Verify(entries []Entry) error {
	var prev int64
	for i, e := range entries {
		if e.Seq != int64(i+1) {
			return fmt.Errorf("%w: entry %s has seq %d, want %d", ErrBrokenChain, e.ID, e.Seq, i+1)
		}
		if e.BalanceAfter != prev+e.Amount {
			return fmt.Errorf("%w: entry %s balance_after %d, want %d", ErrBrokenChain, e.ID, e.BalanceAfter, prev+e.Amount)
		}
		if e.BalanceAfter < 0 {
			return fmt.Errorf("%w: entry %s has negative balance %d", ErrBrokenChain, e.ID, e.BalanceAfter)
		}
		prev = e.BalanceAfter
	}
	return nil
}

// Package balance maintains the cached per-user balance derived from the ledger.
// The cache is disposable: it can always be rebuilt by replaying ledger entries.
package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maauso/autocut-api/internal/ledger"
)

// ErrAccountNotFound is returned when no balance record exists for a user.
var ErrAccountNotFound = errors.New("account not found")

// Account is the cached balance record for a user.
type Account struct {
	UserID         string `json:"user_id"`
	Balance        int64  `json:"balance"`
	TotalPurchased int64  `json:"total_purchased"`
	TotalUsed      int64  `json:"total_used"`
	// LastEntryID and LastSeq identify the last ledger entry applied.
	LastEntryID string    `json:"last_entry_id,omitempty"`
	LastSeq     int64     `json:"last_seq"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tx is the transactional view of the balance cache.
// GetAccount returns ErrAccountNotFound when no record exists yet.
type Tx interface {
	GetAccount(ctx context.Context, userID string) (Account, error)
	PutAccount(ctx context.Context, a Account) error
}

// Projector applies ledger entries to the cached balance.
type Projector struct{}

// NewProjector creates a Projector.
func NewProjector() *Projector {
	return &Projector{}
}

// Apply folds e into the user's cached account. Applying an entry whose
// sequence number is not newer than the last applied one is a no-op, so
// re-delivery of the same entry never double counts.
func (p *Projector) Apply(ctx context.Context, tx Tx, e ledger.Entry) (Account, bool, error) {
	acct, err := tx.GetAccount(ctx, e.UserID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return Account{}, false, fmt.Errorf("get account: %w", err)
		}
		acct = Account{UserID: e.UserID}
	}

	if e.Seq <= acct.LastSeq {
		return acct, false, nil
	}

	acct = fold(acct, e)
	if err := tx.PutAccount(ctx, acct); err != nil {
		return Account{}, false, fmt.Errorf("put account: %w", err)
	}
	return acct, true, nil
}

// Replay derives an account from scratch out of the user's full entry history.
func Replay(userID string, entries []ledger.Entry) Account {
	acct := Account{UserID: userID}
	for _, e := range entries {
		if e.Seq <= acct.LastSeq {
			continue
		}
		acct = fold(acct, e)
	}
	return acct
}

func fold(acct Account, e ledger.Entry) Account {
	acct.Balance = e.BalanceAfter
	switch e.Kind {
	case ledger.KindPurchase:
		acct.TotalPurchased += e.Amount
	case ledger.KindUsage:
		acct.TotalUsed += -e.Amount
	}
	acct.LastEntryID = e.ID
	acct.LastSeq = e.Seq
	acct.UpdatedAt = e.CreatedAt
	return acct
}

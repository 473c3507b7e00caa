package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Tx is the transactional view of ledger storage.
// LockUser must serialize all recordings for the user until the surrounding
// transaction commits or rolls back. AppendEntry returns ErrDuplicateEntry when
// the (job, kind, attempt) or payment reference uniqueness is violated.
type Tx interface {
	LockUser(ctx context.Context, userID string) error
	LastEntry(ctx context.Context, userID string) (*Entry, error)
	AppendEntry(ctx context.Context, e Entry) error
	FindJobEntry(ctx context.Context, jobID string, kind Kind, attempt int) (*Entry, error)
	FindPaymentEntry(ctx context.Context, paymentRef string) (*Entry, error)
}

// Request describes a ledger recording.
type Request struct {
	UserID      string
	Kind        Kind
	Amount      int64
	JobID       string
	JobAttempt  int
	PaymentRef  string
	Description string
}

// Ledger records credit movements. It holds no state of its own; all state
// lives behind the Tx it is given.
type Ledger struct {
	now   func() time.Time
	newID func() string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a Ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends an entry for req inside tx.
// The user is locked first, so computing balance_after from the last entry and
// appending the new one cannot interleave with another recording for the same user.
func (l *Ledger) Record(ctx context.Context, tx Tx, req Request) (Entry, error) {
	if err := validate(req); err != nil {
		return Entry{}, err
	}

	if err := tx.LockUser(ctx, req.UserID); err != nil {
		return Entry{}, fmt.Errorf("lock user %s: %w", req.UserID, err)
	}

	switch req.Kind {
	case KindUsage, KindRefund:
		existing, err := tx.FindJobEntry(ctx, req.JobID, req.Kind, req.JobAttempt)
		if err != nil {
			return Entry{}, fmt.Errorf("find job entry: %w", err)
		}
		if existing != nil {
			return *existing, duplicateErr(req.Kind)
		}
	case KindPurchase:
		existing, err := tx.FindPaymentEntry(ctx, req.PaymentRef)
		if err != nil {
			return Entry{}, fmt.Errorf("find payment entry: %w", err)
		}
		if existing != nil {
			return *existing, ErrDuplicateEntry
		}
	}

	last, err := tx.LastEntry(ctx, req.UserID)
	if err != nil {
		return Entry{}, fmt.Errorf("read last entry: %w", err)
	}

	var before, seq int64
	if last != nil {
		before = last.BalanceAfter
		seq = last.Seq
	}

	after := before + req.Amount
	if after < 0 {
		return Entry{}, fmt.Errorf("%w: balance %d, debit %d", ErrInsufficientFunds, before, -req.Amount)
	}

	entry := Entry{
		ID:           l.newID(),
		UserID:       req.UserID,
		Seq:          seq + 1,
		Kind:         req.Kind,
		Amount:       req.Amount,
		BalanceAfter: after,
		JobID:        req.JobID,
		JobAttempt:   req.JobAttempt,
		PaymentRef:   req.PaymentRef,
		Description:  req.Description,
		CreatedAt:    l.now().UTC(),
	}

	if err := tx.AppendEntry(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			return Entry{}, duplicateErr(req.Kind)
		}
		return Entry{}, fmt.Errorf("append entry: %w", err)
	}
	return entry, nil
}

func duplicateErr(kind Kind) error {
	if kind == KindRefund {
		return ErrDuplicateRefund
	}
	return ErrDuplicateEntry
}

func validate(req Request) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrMissingReference)
	}
	if !req.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAmount, req.Kind)
	}
	if req.Amount == 0 {
		return fmt.Errorf("%w: amount must not be zero", ErrInvalidAmount)
	}

	switch req.Kind {
	case KindUsage:
		if req.Amount > 0 {
			return fmt.Errorf("%w: usage must be negative", ErrInvalidAmount)
		}
	case KindPurchase, KindRefund, KindBonus:
		if req.Amount < 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, req.Kind)
		}
	}

	switch req.Kind {
	case KindUsage, KindRefund:
		if req.JobID == "" {
			return fmt.Errorf("%w: %s requires a job", ErrMissingReference, req.Kind)
		}
	case KindPurchase:
		if req.PaymentRef == "" {
			return fmt.Errorf("%w: purchase requires a payment reference", ErrMissingReference)
		}
	}
	return nil
}

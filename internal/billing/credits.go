package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/maauso/autocut-api/internal/balance"
	"github.com/maauso/autocut-api/internal/ledger"
	"github.com/maauso/autocut-api/internal/metrics"
	"github.com/maauso/autocut-api/internal/payment"
	"github.com/maauso/autocut-api/internal/store"
)

// post records req and folds the new entry into the cached balance inside tx.
func (s *Service) post(ctx context.Context, tx store.Tx, req ledger.Request) (ledger.Entry, error) {
	e, err := s.ledger.Record(ctx, tx, req)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			metrics.InsufficientFundsTotal.Inc()
		}
		return e, err
	}
	if _, _, err := s.projector.Apply(ctx, tx, e); err != nil {
		return ledger.Entry{}, fmt.Errorf("project balance: %w", err)
	}

	metrics.LedgerEntriesTotal.WithLabelValues(string(e.Kind)).Inc()
	amount := e.Amount
	if amount < 0 {
		amount = -amount
	}
	metrics.LedgerCreditsTotal.WithLabelValues(string(e.Kind)).Add(float64(amount))
	return e, nil
}

// PurchaseInput describes a completed payment.
type PurchaseInput struct {
	UserID string
	// Credits is the number of credits bought.
	Credits int64
	// PaymentRef is the provider's transaction id.
	PaymentRef  string
	Provider    string
	AmountCents int64
}

// RecordPurchase credits the user for a completed payment. Submitting the same
// payment reference again returns the original entry without crediting twice.
func (s *Service) RecordPurchase(ctx context.Context, in PurchaseInput) (ledger.Entry, error) {
	if in.UserID == "" || in.PaymentRef == "" {
		return ledger.Entry{}, fmt.Errorf("%w: user id and payment reference are required", ErrInvalidInput)
	}
	if in.Credits <= 0 {
		return ledger.Entry{}, fmt.Errorf("%w: credits must be positive", ErrInvalidInput)
	}

	var (
		entry     ledger.Entry
		duplicate bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := s.post(ctx, tx, ledger.Request{
			UserID:      in.UserID,
			Kind:        ledger.KindPurchase,
			Amount:      in.Credits,
			PaymentRef:  in.PaymentRef,
			Description: fmt.Sprintf("purchase of %d credits", in.Credits),
		})
		if errors.Is(err, ledger.ErrDuplicateEntry) && e.ID != "" {
			if e.UserID != in.UserID {
				return fmt.Errorf("%w: payment reference belongs to another user", ErrInvalidInput)
			}
			entry, duplicate = e, true
			return nil
		}
		if err != nil {
			return err
		}
		entry = e

		p, err := tx.FindPayment(ctx, in.PaymentRef)
		if errors.Is(err, payment.ErrPaymentNotFound) {
			p = &payment.Payment{
				ID:         uuid.NewString(),
				UserID:     in.UserID,
				ExternalID: in.PaymentRef,
				CreatedAt:  e.CreatedAt,
			}
		} else if err != nil {
			return fmt.Errorf("find payment: %w", err)
		}
		p.Provider = in.Provider
		p.AmountCents = in.AmountCents
		p.CreditsPurchased = in.Credits
		p.Status = payment.StatusCompleted
		p.UpdatedAt = e.CreatedAt
		if err := tx.SavePayment(ctx, p); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return ledger.Entry{}, err
	}

	if duplicate {
		s.logger.Info("purchase already recorded",
			slog.String("user_id", in.UserID),
			slog.String("payment_ref", in.PaymentRef),
		)
	} else {
		s.logger.Info("purchase recorded",
			slog.String("user_id", in.UserID),
			slog.String("payment_ref", in.PaymentRef),
			slog.Int64("credits", in.Credits),
			slog.Int64("balance", entry.BalanceAfter),
		)
	}
	return entry, nil
}

// GrantBonus credits a promotional amount.
func (s *Service) GrantBonus(ctx context.Context, userID string, amount int64, description string) (ledger.Entry, error) {
	if amount <= 0 {
		return ledger.Entry{}, fmt.Errorf("%w: bonus must be positive", ErrInvalidInput)
	}
	return s.record(ctx, ledger.Request{
		UserID:      userID,
		Kind:        ledger.KindBonus,
		Amount:      amount,
		Description: description,
	})
}

// Adjust records a signed manual correction. A negative adjustment fails with
// ledger.ErrInsufficientFunds if it would overdraw the balance.
func (s *Service) Adjust(ctx context.Context, userID string, amount int64, description string) (ledger.Entry, error) {
	if amount == 0 {
		return ledger.Entry{}, fmt.Errorf("%w: adjustment must not be zero", ErrInvalidInput)
	}
	if description == "" {
		return ledger.Entry{}, fmt.Errorf("%w: adjustment requires a description", ErrInvalidInput)
	}
	return s.record(ctx, ledger.Request{
		UserID:      userID,
		Kind:        ledger.KindAdjustment,
		Amount:      amount,
		Description: description,
	})
}

func (s *Service) record(ctx context.Context, req ledger.Request) (ledger.Entry, error) {
	if req.UserID == "" {
		return ledger.Entry{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	var entry ledger.Entry
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := s.post(ctx, tx, req)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return ledger.Entry{}, err
	}
	s.logger.Info("ledger entry recorded",
		slog.String("user_id", entry.UserID),
		slog.String("kind", string(entry.Kind)),
		slog.Int64("amount", entry.Amount),
		slog.Int64("balance", entry.BalanceAfter),
	)
	return entry, nil
}

// GetBalance returns the user's cached balance.
// Returns balance.ErrAccountNotFound for users without ledger entries.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	acct, err := s.store.Account(ctx, userID)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// GetAccount returns the user's cached balance record.
func (s *Service) GetAccount(ctx context.Context, userID string) (balance.Account, error) {
	return s.store.Account(ctx, userID)
}

// LedgerBalance computes the balance by folding every ledger entry.
func (s *Service) LedgerBalance(ctx context.Context, userID string) (int64, error) {
	entries, err := s.store.Entries(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, balance.ErrAccountNotFound
	}
	return ledger.Balance(entries), nil
}

// ListEntries returns the user's ledger in sequence order.
func (s *Service) ListEntries(ctx context.Context, userID string) ([]ledger.Entry, error) {
	return s.store.Entries(ctx, userID)
}

// VerifyBalance checks the ledger chain and that the cached account equals a
// full replay of the ledger.
func (s *Service) VerifyBalance(ctx context.Context, userID string) error {
	entries, err := s.store.Entries(ctx, userID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return balance.ErrAccountNotFound
	}
	if err := ledger.Verify(entries); err != nil {
		return err
	}

	cached, err := s.store.Account(ctx, userID)
	if err != nil {
		return err
	}
	want := balance.Replay(userID, entries)
	if cached.Balance != want.Balance ||
		cached.TotalPurchased != want.TotalPurchased ||
		cached.TotalUsed != want.TotalUsed ||
		cached.LastSeq != want.LastSeq {
		return fmt.Errorf("%w: cached %d at seq %d, ledger %d at seq %d",
			ErrBalanceMismatch, cached.Balance, cached.LastSeq, want.Balance, want.LastSeq)
	}
	return nil
}

// RebuildBalance discards the cached account and replays it from the ledger.
func (s *Service) RebuildBalance(ctx context.Context, userID string) (balance.Account, error) {
	var acct balance.Account
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.LockUser(ctx, userID); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}
		entries, err := s.store.Entries(ctx, userID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return balance.ErrAccountNotFound
		}
		acct = balance.Replay(userID, entries)
		return tx.PutAccount(ctx, acct)
	})
	if err != nil {
		return balance.Account{}, err
	}
	s.logger.Info("balance rebuilt",
		slog.String("user_id", userID),
		slog.Int64("balance", acct.Balance),
		slog.Int64("last_seq", acct.LastSeq),
	)
	return acct, nil
}

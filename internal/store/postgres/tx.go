package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maauso/autocut-api/internal/balance"
	"github.com/maauso/autocut-api/internal/job"
	"github.com/maauso/autocut-api/internal/ledger"
	"github.com/maauso/autocut-api/internal/payment"
)

const selectJob = `SELECT id, user_id, name, status, progress, current_step, priority,
	credits_cost, retry_count, max_retries, COALESCE(error_message, ''), video_path, output_path,
	charged, charge_attempt, charges, queued, created_at, updated_at, started_at, completed_at
	FROM jobs`

const selectEntry = `SELECT id, user_id, seq, kind, amount, balance_after, COALESCE(job_id, ''),
	job_attempt, COALESCE(payment_ref, ''), description, created_at
	FROM ledger_entries`

const selectPayment = `SELECT id, user_id, provider, external_id, amount_cents, credits_purchased,
	status, created_at, updated_at
	FROM payments`

// pgTx adapts a pgx.Tx to store.Tx.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockJob(ctx context.Context, id string) (*job.Job, error) {
	return findJob(ctx, t.tx, id, true)
}

func (t *pgTx) SaveJob(ctx context.Context, j *job.Job) error {
	c := j.Clone()
	_, err := t.tx.Exec(ctx, `
		INSERT INTO jobs (id, user_id, name, status, progress, current_step, priority,
			credits_cost, retry_count, max_retries, error_message, video_path, output_path,
			charged, charge_attempt, charges, queued, created_at, updated_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			current_step = EXCLUDED.current_step,
			priority = EXCLUDED.priority,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			error_message = EXCLUDED.error_message,
			video_path = EXCLUDED.video_path,
			output_path = EXCLUDED.output_path,
			charged = EXCLUDED.charged,
			charge_attempt = EXCLUDED.charge_attempt,
			charges = EXCLUDED.charges,
			queued = EXCLUDED.queued,
			updated_at = EXCLUDED.updated_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		c.ID, c.UserID, c.Name, string(c.Status), c.Progress, c.CurrentStep, c.Priority,
		c.CreditsCost, c.RetryCount, c.MaxRetries, nullString(c.ErrorMessage), c.VideoPath, c.OutputPath,
		c.Charged, c.ChargeAttempt, c.Charges, c.Queued, c.CreatedAt, c.UpdatedAt,
		nullTime(c.StartedAt), nullTime(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", c.ID, err)
	}
	return nil
}

// LockUser creates the user's balance row if needed and locks it.
func (t *pgTx) LockUser(ctx context.Context, userID string) error {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO user_balances (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return fmt.Errorf("ensure balance row: %w", err)
	}
	var locked string
	if err := t.tx.QueryRow(ctx,
		`SELECT user_id FROM user_balances WHERE user_id = $1 FOR UPDATE`, userID).Scan(&locked); err != nil {
		return fmt.Errorf("lock balance row: %w", err)
	}
	return nil
}

func (t *pgTx) LastEntry(ctx context.Context, userID string) (*ledger.Entry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx, selectEntry+` WHERE user_id = $1 ORDER BY seq DESC LIMIT 1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, seq, kind, amount, balance_after,
			job_id, job_attempt, payment_ref, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING`,
		e.ID, e.UserID, e.Seq, string(e.Kind), e.Amount, e.BalanceAfter,
		nullString(e.JobID), e.JobAttempt, nullString(e.PaymentRef), e.Description, e.CreatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrDuplicateEntry
	}
	return nil
}

func (t *pgTx) FindJobEntry(ctx context.Context, jobID string, kind ledger.Kind, attempt int) (*ledger.Entry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx,
		selectEntry+` WHERE job_id = $1 AND kind = $2 AND job_attempt = $3`, jobID, string(kind), attempt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) FindPaymentEntry(ctx context.Context, paymentRef string) (*ledger.Entry, error) {
	e, err := scanEntry(t.tx.QueryRow(ctx,
		selectEntry+` WHERE payment_ref = $1 AND kind = 'PURCHASE'`, paymentRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) GetAccount(ctx context.Context, userID string) (balance.Account, error) {
	return getAccount(ctx, t.tx, userID)
}

func (t *pgTx) PutAccount(ctx context.Context, a balance.Account) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_balances (user_id, balance, total_purchased, total_used, last_entry_id, last_seq, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			total_purchased = EXCLUDED.total_purchased,
			total_used = EXCLUDED.total_used,
			last_entry_id = EXCLUDED.last_entry_id,
			last_seq = EXCLUDED.last_seq,
			updated_at = EXCLUDED.updated_at`,
		a.UserID, a.Balance, a.TotalPurchased, a.TotalUsed, nullString(a.LastEntryID), a.LastSeq, updatedAt(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert balance: %w", mapError(err))
	}
	return nil
}

func (t *pgTx) FindPayment(ctx context.Context, externalID string) (*payment.Payment, error) {
	return findPayment(ctx, t.tx, externalID)
}

func (t *pgTx) SavePayment(ctx context.Context, p *payment.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, user_id, provider, external_id, amount_cents, credits_purchased, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			amount_cents = EXCLUDED.amount_cents,
			credits_purchased = EXCLUDED.credits_purchased,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.Provider, p.ExternalID, p.AmountCents, p.CreditsPurchased, string(p.Status),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert payment: %w", err)
	}
	return nil
}

func findJob(ctx context.Context, q querier, id string, forUpdate bool) (*job.Job, error) {
	sql := selectJob + ` WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	j, err := scanJob(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	return j, err
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                    job.Job
		status               string
		started, completedAt *time.Time
	)
	err := row.Scan(&j.ID, &j.UserID, &j.Name, &status, &j.Progress, &j.CurrentStep, &j.Priority,
		&j.CreditsCost, &j.RetryCount, &j.MaxRetries, &j.ErrorMessage, &j.VideoPath, &j.OutputPath,
		&j.Charged, &j.ChargeAttempt, &j.Charges, &j.Queued, &j.CreatedAt, &j.UpdatedAt, &started, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Status = job.Status(status)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	j.StartedAt = timeOrZero(started)
	j.CompletedAt = timeOrZero(completedAt)
	return &j, nil
}

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		e    ledger.Entry
		kind string
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Seq, &kind, &e.Amount, &e.BalanceAfter, &e.JobID,
		&e.JobAttempt, &e.PaymentRef, &e.Description, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Entry{}, err
		}
		return ledger.Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Kind = ledger.Kind(kind)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// getAccount treats a balance row without applied entries as missing: such a
// row only exists while a transaction holds the user lock.
func getAccount(ctx context.Context, q querier, userID string) (balance.Account, error) {
	var (
		a           balance.Account
		lastEntryID *string
	)
	err := q.QueryRow(ctx, `
		SELECT user_id, balance, total_purchased, total_used, last_entry_id, last_seq, updated_at
		FROM user_balances WHERE user_id = $1 AND last_seq > 0`, userID,
	).Scan(&a.UserID, &a.Balance, &a.TotalPurchased, &a.TotalUsed, &lastEntryID, &a.LastSeq, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return balance.Account{}, balance.ErrAccountNotFound
	}
	if err != nil {
		return balance.Account{}, fmt.Errorf("get balance: %w", err)
	}
	if lastEntryID != nil {
		a.LastEntryID = *lastEntryID
	}
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

func findPayment(ctx context.Context, q querier, externalID string) (*payment.Payment, error) {
	var (
		p      payment.Payment
		status string
	)
	err := q.QueryRow(ctx, selectPayment+` WHERE external_id = $1`, externalID).Scan(
		&p.ID, &p.UserID, &p.Provider, &p.ExternalID, &p.AmountCents, &p.CreditsPurchased,
		&status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	p.Status = payment.Status(status)
	return &p, nil
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

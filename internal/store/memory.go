package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/maauso/autocut-api/internal/balance"
	"github.com/maauso/autocut-api/internal/job"
	"github.com/maauso/autocut-api/internal/ledger"
	"github.com/maauso/autocut-api/internal/payment"
)

// Compile-time check that Memory implements Store.
var _ Store = (*Memory)(nil)

type jobEntryKey struct {
	jobID   string
	kind    ledger.Kind
	attempt int
}

// Memory is an in-process Store. Transactions take per-job and per-user
// locks lazily and stage their writes; commit publishes all staged writes at
// once under the store lock.
type Memory struct {
	jobs *job.MemoryRepository

	mu         sync.RWMutex
	entries    map[string][]ledger.Entry
	jobEntries map[jobEntryKey]ledger.Entry
	paymentRef map[string]ledger.Entry
	accounts   map[string]balance.Account
	payments   map[string]*payment.Payment

	userLocks *keyedLocks
	jobLocks  *keyedLocks
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:       job.NewMemoryRepository(),
		entries:    make(map[string][]ledger.Entry),
		jobEntries: make(map[jobEntryKey]ledger.Entry),
		paymentRef: make(map[string]ledger.Entry),
		accounts:   make(map[string]balance.Account),
		payments:   make(map[string]*payment.Payment),
		userLocks:  newKeyedLocks(),
		jobLocks:   newKeyedLocks(),
	}
}

// InTx runs fn with a fresh transaction and commits if it returns nil.
func (s *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newMemTx(s)
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

// FindByID returns the committed version of a job.
func (s *Memory) FindByID(ctx context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs.FindByID(ctx, id)
}

// ListByUser returns the user's committed jobs, newest first.
func (s *Memory) ListByUser(ctx context.Context, userID string) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs.ListByUser(ctx, userID)
}

// Entries returns a copy of the user's ledger.
func (s *Memory) Entries(_ context.Context, userID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Entry, len(s.entries[userID]))
	copy(out, s.entries[userID])
	return out, nil
}

// Account returns the cached balance record.
func (s *Memory) Account(_ context.Context, userID string) (balance.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return balance.Account{}, balance.ErrAccountNotFound
	}
	return acct, nil
}

// Payment returns a payment by external id.
func (s *Memory) Payment(_ context.Context, externalID string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[externalID]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

// memTx stages writes until commit. It is used by one goroutine at a time.
type memTx struct {
	s       *Memory
	unlocks []func()
	users   map[string]bool
	locked  map[string]bool

	entries  []ledger.Entry
	jobs     map[string]*job.Job
	accounts map[string]balance.Account
	payments map[string]*payment.Payment
}

func newMemTx(s *Memory) *memTx {
	return &memTx{
		s:        s,
		users:    make(map[string]bool),
		locked:   make(map[string]bool),
		jobs:     make(map[string]*job.Job),
		accounts: make(map[string]balance.Account),
		payments: make(map[string]*payment.Payment),
	}
}

func (tx *memTx) release() {
	for i := len(tx.unlocks) - 1; i >= 0; i-- {
		tx.unlocks[i]()
	}
	tx.unlocks = nil
}

func (tx *memTx) commit(ctx context.Context) error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range tx.entries {
		s.entries[e.UserID] = append(s.entries[e.UserID], e)
		switch e.Kind {
		case ledger.KindUsage, ledger.KindRefund:
			s.jobEntries[jobEntryKey{e.JobID, e.Kind, e.JobAttempt}] = e
		case ledger.KindPurchase:
			s.paymentRef[e.PaymentRef] = e
		}
	}
	for id, a := range tx.accounts {
		s.accounts[id] = a
	}
	for id, p := range tx.payments {
		s.payments[id] = p
	}
	for _, j := range tx.jobs {
		if err := s.jobs.Save(ctx, j); err != nil {
			return fmt.Errorf("save job %s: %w", j.ID, err)
		}
	}
	return nil
}

// LockJob locks the job for the rest of the transaction and returns a private copy.
func (tx *memTx) LockJob(ctx context.Context, id string) (*job.Job, error) {
	if !tx.locked[id] {
		tx.unlocks = append(tx.unlocks, tx.s.jobLocks.lock(id))
		tx.locked[id] = true
	}
	if j, ok := tx.jobs[id]; ok {
		return j.Clone(), nil
	}
	return tx.s.FindByID(ctx, id)
}

// SaveJob stages j. New jobs need no lock: nobody else can see them yet.
func (tx *memTx) SaveJob(_ context.Context, j *job.Job) error {
	tx.jobs[j.ID] = j.Clone()
	return nil
}

func (tx *memTx) LockUser(_ context.Context, userID string) error {
	if tx.users[userID] {
		return nil
	}
	tx.unlocks = append(tx.unlocks, tx.s.userLocks.lock(userID))
	tx.users[userID] = true
	return nil
}

func (tx *memTx) LastEntry(_ context.Context, userID string) (*ledger.Entry, error) {
	for i := len(tx.entries) - 1; i >= 0; i-- {
		if tx.entries[i].UserID == userID {
			e := tx.entries[i]
			return &e, nil
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	committed := tx.s.entries[userID]
	if len(committed) == 0 {
		return nil, nil
	}
	e := committed[len(committed)-1]
	return &e, nil
}

func (tx *memTx) AppendEntry(ctx context.Context, e ledger.Entry) error {
	switch e.Kind {
	case ledger.KindUsage, ledger.KindRefund:
		existing, err := tx.FindJobEntry(ctx, e.JobID, e.Kind, e.JobAttempt)
		if err != nil {
			return err
		}
		if existing != nil {
			return ledger.ErrDuplicateEntry
		}
	case ledger.KindPurchase:
		existing, err := tx.FindPaymentEntry(ctx, e.PaymentRef)
		if err != nil {
			return err
		}
		if existing != nil {
			return ledger.ErrDuplicateEntry
		}
	}

	last, err := tx.LastEntry(ctx, e.UserID)
	if err != nil {
		return err
	}
	var seq int64
	if last != nil {
		seq = last.Seq
	}
	if e.Seq != seq+1 {
		return ledger.ErrDuplicateEntry
	}
	if e.BalanceAfter < 0 {
		return ledger.ErrInsufficientFunds
	}
	tx.entries = append(tx.entries, e)
	return nil
}

func (tx *memTx) FindJobEntry(_ context.Context, jobID string, kind ledger.Kind, attempt int) (*ledger.Entry, error) {
	for _, e := range tx.entries {
		if e.JobID == jobID && e.Kind == kind && e.JobAttempt == attempt {
			e := e
			return &e, nil
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	if e, ok := tx.s.jobEntries[jobEntryKey{jobID, kind, attempt}]; ok {
		return &e, nil
	}
	return nil, nil
}

func (tx *memTx) FindPaymentEntry(_ context.Context, paymentRef string) (*ledger.Entry, error) {
	for _, e := range tx.entries {
		if e.Kind == ledger.KindPurchase && e.PaymentRef == paymentRef {
			e := e
			return &e, nil
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	if e, ok := tx.s.paymentRef[paymentRef]; ok {
		return &e, nil
	}
	return nil, nil
}

func (tx *memTx) GetAccount(ctx context.Context, userID string) (balance.Account, error) {
	if a, ok := tx.accounts[userID]; ok {
		return a, nil
	}
	return tx.s.Account(ctx, userID)
}

func (tx *memTx) PutAccount(_ context.Context, a balance.Account) error {
	tx.accounts[a.UserID] = a
	return nil
}

func (tx *memTx) FindPayment(ctx context.Context, externalID string) (*payment.Payment, error) {
	if p, ok := tx.payments[externalID]; ok {
		cp := *p
		return &cp, nil
	}
	return tx.s.Payment(ctx, externalID)
}

func (tx *memTx) SavePayment(_ context.Context, p *payment.Payment) error {
	cp := *p
	tx.payments[p.ExternalID] = &cp
	return nil
}

// Package memory keeps ledger state in process. It backs local
// development and tests; nothing survives a restart.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

// Store holds every table. Use the accessor views to obtain the domain
// interfaces.
type Store struct {
	mu          sync.RWMutex
	accounts    map[solana.PublicKey]domain.Account
	receipts    []domain.Receipt
	receiptIdx  map[string]int
	settlements []domain.Settlement
	audit       []domain.AuditEntry
	now         func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		accounts:   make(map[solana.PublicKey]domain.Account),
		receiptIdx: make(map[string]int),
		now:        time.Now,
	}
}

// Accounts returns the account table.
func (s *Store) Accounts() *Accounts { return &Accounts{s} }

// Receipts returns the receipt table.
func (s *Store) Receipts() *Receipts { return &Receipts{s} }

// Settlements returns the settlement index.
func (s *Store) Settlements() *Settlements { return &Settlements{s} }

// Audit returns the audit log.
func (s *Store) Audit() *Audit { return &Audit{s} }

func cloneAccount(a domain.Account) domain.Account {
	a.Data = bytes.Clone(a.Data)
	if a.Data == nil {
		a.Data = []byte{}
	}
	return a
}

// Accounts implements domain.AccountStore.
type Accounts struct{ s *Store }

func (a *Accounts) Get(_ context.Context, key solana.PublicKey) (domain.Account, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	acct, ok := a.s.accounts[key]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return cloneAccount(acct), nil
}

func (a *Accounts) GetMany(_ context.Context, keys []solana.PublicKey) (map[solana.PublicKey]domain.Account, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := make(map[solana.PublicKey]domain.Account, len(keys))
	for _, k := range keys {
		if acct, ok := a.s.accounts[k]; ok {
			out[k] = cloneAccount(acct)
		}
	}
	return out, nil
}

func (a *Accounts) Allocate(_ context.Context, acct domain.Account) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.accounts[acct.Key]; ok {
		return domain.ErrAlreadyExists
	}
	a.s.accounts[acct.Key] = cloneAccount(acct)
	return nil
}

func (a *Accounts) Commit(_ context.Context, batch domain.CommitBatch) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	for _, acct := range batch.Accounts {
		a.s.accounts[acct.Key] = cloneAccount(acct)
	}
	a.s.putReceipt(batch.Receipt)
	if batch.Settlement != nil {
		a.s.settlements = append(a.s.settlements, *batch.Settlement)
	}
	return nil
}

// ListByOwner orders by slot descending, then key.
func (a *Accounts) ListByOwner(_ context.Context, owner solana.PublicKey, dataLen int, opts domain.ListOpts) ([]domain.Account, error) {
	a.s.mu.RLock()
	var out []domain.Account
	for _, acct := range a.s.accounts {
		if !acct.Owner.Equals(owner) || (dataLen >= 0 && len(acct.Data) != dataLen) {
			continue
		}
		if !inRange(acct.UpdatedAt, opts) {
			continue
		}
		out = append(out, cloneAccount(acct))
	}
	a.s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Slot != out[j].Slot {
			return out[i].Slot > out[j].Slot
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return page(out, opts), nil
}

// Receipts implements domain.ReceiptStore.
type Receipts struct{ s *Store }

func (s *Store) putReceipt(r domain.Receipt) {
	if i, ok := s.receiptIdx[r.ID]; ok {
		s.receipts[i] = r
		return
	}
	s.receiptIdx[r.ID] = len(s.receipts)
	s.receipts = append(s.receipts, r)
}

func (r *Receipts) Insert(_ context.Context, rec domain.Receipt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.putReceipt(rec)
	return nil
}

func (r *Receipts) Get(_ context.Context, id string) (domain.Receipt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	i, ok := r.s.receiptIdx[id]
	if !ok {
		return domain.Receipt{}, domain.ErrNotFound
	}
	return r.s.receipts[i], nil
}

func (r *Receipts) ListRecent(_ context.Context, limit int) ([]domain.Receipt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := len(r.s.receipts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Receipt, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.s.receipts[i])
	}
	return out, nil
}

func (r *Receipts) Head(context.Context) (string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for i := len(r.s.receipts) - 1; i >= 0; i-- {
		if r.s.receipts[i].Succeeded() {
			return r.s.receipts[i].StateHash, nil
		}
	}
	return "", nil
}

// Settlements implements domain.SettlementStore.
type Settlements struct{ s *Store }

func (st *Settlements) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	st.s.mu.RLock()
	var out []domain.Settlement
	for i := len(st.s.settlements) - 1; i >= 0; i-- {
		if inRange(st.s.settlements[i].SettledAt, opts) {
			out = append(out, st.s.settlements[i])
		}
	}
	st.s.mu.RUnlock()
	return page(out, opts), nil
}

func (st *Settlements) ListBefore(_ context.Context, before time.Time) ([]domain.Settlement, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []domain.Settlement
	for _, s := range st.s.settlements {
		if s.SettledAt.Before(before) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Audit implements domain.AuditStore.
type Audit struct{ s *Store }

func (a *Audit) Log(_ context.Context, event string, detail map[string]any) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	a.s.audit = append(a.s.audit, domain.AuditEntry{
		ID:        int64(len(a.s.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: a.s.now().UTC(),
	})
	return nil
}

func (a *Audit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.s.mu.RLock()
	var out []domain.AuditEntry
	for i := len(a.s.audit) - 1; i >= 0; i-- {
		if inRange(a.s.audit[i].CreatedAt, opts) {
			out = append(out, a.s.audit[i])
		}
	}
	a.s.mu.RUnlock()
	return page(out, opts), nil
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](rows []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(rows) {
			return nil
		}
		rows = rows[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(rows) {
		rows = rows[:opts.Limit]
	}
	return rows
}

var (
	_ domain.AccountStore    = (*Accounts)(nil)
	_ domain.ReceiptStore    = (*Receipts)(nil)
	_ domain.SettlementStore = (*Settlements)(nil)
	_ domain.AuditStore      = (*Audit)(nil)
)

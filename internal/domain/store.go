package domain

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountStore persists storage slots.
type AccountStore interface {
	Get(ctx context.Context, key solana.PublicKey) (Account, error)
	GetMany(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey]Account, error)
	// Allocate creates an empty slot. It returns ErrAlreadyExists when the
	// key is taken.
	Allocate(ctx context.Context, acct Account) error
	// Commit applies a successful transaction in a single database
	// transaction.
	Commit(ctx context.Context, batch CommitBatch) error
	// ListByOwner returns slots owned by owner whose data is exactly
	// dataLen bytes. A negative dataLen matches any length.
	ListByOwner(ctx context.Context, owner solana.PublicKey, dataLen int, opts ListOpts) ([]Account, error)
}

// ReceiptStore persists transaction receipts.
type ReceiptStore interface {
	Insert(ctx context.Context, r Receipt) error
	Get(ctx context.Context, id string) (Receipt, error)
	ListRecent(ctx context.Context, limit int) ([]Receipt, error)
	// Head returns the state hash of the most recent successful receipt,
	// or "" when none exists.
	Head(ctx context.Context) (string, error)
}

// SettlementStore indexes resolved predictions.
type SettlementStore interface {
	ListRecent(ctx context.Context, opts ListOpts) ([]Settlement, error)
	ListBefore(ctx context.Context, before time.Time) ([]Settlement, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Account is a persisted storage slot: an address, the program that owns it,
// and the raw bytes it holds.
type Account struct {
	Key       solana.PublicKey `json:"key"`
	Owner     solana.PublicKey `json:"owner"`
	Data      []byte           `json:"data"`
	Slot      uint64           `json:"slot"` // slot of the last write
	UpdatedAt time.Time        `json:"updated_at"`
}

// Empty reports whether the slot holds no data.
func (a Account) Empty() bool { return len(a.Data) == 0 }

// CommitBatch is everything a successful transaction persists. Stores must
// apply it atomically.
type CommitBatch struct {
	Accounts   []Account
	Receipt    Receipt
	Settlement *Settlement
}

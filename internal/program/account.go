package program

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// AccountInfo is a storage slot handed to the processor for the duration of
// one instruction. Handlers replace Data when they persist an entity.
type AccountInfo struct {
	Key        solana.PublicKey
	Owner      solana.PublicKey
	IsSigner   bool
	IsWritable bool
	Data       []byte
}

// DataIsEmpty reports whether the slot holds no bytes.
func (a *AccountInfo) DataIsEmpty() bool {
	return len(a.Data) == 0
}

// Clone returns a deep copy so a caller can discard speculative writes.
func (a *AccountInfo) Clone() *AccountInfo {
	out := *a
	if a.Data != nil {
		out.Data = append([]byte(nil), a.Data...)
	}
	return &out
}

// accountIter hands out accounts in the order the instruction lists them.
type accountIter struct {
	accounts []*AccountInfo
	next     int
}

func (it *accountIter) nextAccount(role string) (*AccountInfo, error) {
	if it.next >= len(it.accounts) {
		return nil, fmt.Errorf("%w: missing %s account", ErrNotEnoughAccountKeys, role)
	}
	a := it.accounts[it.next]
	it.next++
	return a, nil
}

// Clock supplies the current ledger slot.
type Clock interface {
	CurrentSlot() (uint64, error)
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() (uint64, error)

// CurrentSlot implements Clock.
func (f ClockFunc) CurrentSlot() (uint64, error) { return f() }

// FixedClock always reports the same slot.
type FixedClock uint64

// CurrentSlot implements Clock.
func (c FixedClock) CurrentSlot() (uint64, error) { return uint64(c), nil }

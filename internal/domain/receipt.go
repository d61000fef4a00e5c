package domain

import "time"

// TxStatus is the final state of a submitted transaction.
type TxStatus string

const (
	TxSucceeded TxStatus = "succeeded"
	TxFailed    TxStatus = "failed"
)

// TxError describes why a transaction was rejected by the program or the
// host. Code is set only for program errors.
type TxError struct {
	Code      *uint32 `json:"code,omitempty"`
	Name      string  `json:"name,omitempty"`
	Class     string  `json:"class"`
	Message   string  `json:"message"`
	Retryable bool    `json:"retryable"`
}

// Receipt is the durable outcome of one transaction.
type Receipt struct {
	ID          string    `json:"id"`
	Instruction string    `json:"instruction"`
	Status      TxStatus  `json:"status"`
	Slot        uint64    `json:"slot"`
	Accounts    []string  `json:"accounts"`
	Error       *TxError  `json:"error,omitempty"`
	StateHash   string    `json:"state_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Succeeded reports whether the transaction was applied.
func (r Receipt) Succeeded() bool { return r.Status == TxSucceeded }

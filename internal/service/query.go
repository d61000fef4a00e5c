package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/v1xingyue/tokenwords/internal/domain"
	"github.com/v1xingyue/tokenwords/internal/program"
)

const openScanPage = 500

// RoomView is a decoded room account.
type RoomView struct {
	Address solana.PublicKey `json:"address"`
	program.Room
	Slot uint64 `json:"slot"`
}

// PredictionView is a decoded prediction account.
type PredictionView struct {
	Address solana.PublicKey `json:"address"`
	program.Prediction
	Outcome string `json:"outcome"`
	Slot    uint64 `json:"slot"`
}

// PredictionFilter narrows ListPredictions. Zero keys match everything.
type PredictionFilter struct {
	Room     solana.PublicKey
	User     solana.PublicKey
	OpenOnly bool
	Limit    int
	Offset   int
}

// Status summarises the ledger head.
type Status struct {
	ProgramID string `json:"program_id"`
	Slot      uint64 `json:"slot"`
	StateHash string `json:"state_hash"`
}

// QueryService decodes program accounts for the API and the settler.
type QueryService struct {
	programID   solana.PublicKey
	clock       program.Clock
	accounts    domain.AccountStore
	receipts    domain.ReceiptStore
	settlements domain.SettlementStore
}

// NewQueryService creates a QueryService. settlements may be nil.
func NewQueryService(
	programID solana.PublicKey,
	clock program.Clock,
	accounts domain.AccountStore,
	receipts domain.ReceiptStore,
	settlements domain.SettlementStore,
) *QueryService {
	return &QueryService{
		programID:   programID,
		clock:       clock,
		accounts:    accounts,
		receipts:    receipts,
		settlements: settlements,
	}
}

// Account returns a raw account.
func (q *QueryService) Account(ctx context.Context, key solana.PublicKey) (domain.Account, error) {
	return q.accounts.Get(ctx, key)
}

// Room decodes the room at key. Accounts that are not program-owned rooms
// report domain.ErrNotFound.
func (q *QueryService) Room(ctx context.Context, key solana.PublicKey) (RoomView, error) {
	acct, err := q.programAccount(ctx, key, program.RoomSize)
	if err != nil {
		return RoomView{}, err
	}
	room, err := program.DecodeRoom(acct.Data)
	if err != nil {
		return RoomView{}, fmt.Errorf("service: room %s: %w", key, err)
	}
	return RoomView{Address: key, Room: room, Slot: acct.Slot}, nil
}

// Prediction decodes the prediction at key.
func (q *QueryService) Prediction(ctx context.Context, key solana.PublicKey) (PredictionView, error) {
	acct, err := q.programAccount(ctx, key, program.PredictionSize)
	if err != nil {
		return PredictionView{}, err
	}
	return decodePredictionView(acct)
}

func (q *QueryService) programAccount(ctx context.Context, key solana.PublicKey, size int) (domain.Account, error) {
	acct, err := q.accounts.Get(ctx, key)
	if err != nil {
		return domain.Account{}, err
	}
	if !acct.Owner.Equals(q.programID) || len(acct.Data) != size {
		return domain.Account{}, fmt.Errorf("service: account %s: %w", key, domain.ErrNotFound)
	}
	return acct, nil
}

// ListPredictions returns program predictions matching f, newest first.
func (q *QueryService) ListPredictions(ctx context.Context, f PredictionFilter) ([]PredictionView, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var (
		out     []PredictionView
		skipped int
	)
	err := q.scanPredictions(ctx, func(v PredictionView) bool {
		if !f.Room.IsZero() && !v.Room.Equals(f.Room) {
			return true
		}
		if !f.User.IsZero() && !v.User.Equals(f.User) {
			return true
		}
		if f.OpenOnly && v.Resolved {
			return true
		}
		if skipped < f.Offset {
			skipped++
			return true
		}
		out = append(out, v)
		return len(out) < limit
	})
	return out, err
}

// OpenPredictions returns every unresolved prediction.
func (q *QueryService) OpenPredictions(ctx context.Context) ([]PredictionView, error) {
	var out []PredictionView
	err := q.scanPredictions(ctx, func(v PredictionView) bool {
		if !v.Resolved {
			out = append(out, v)
		}
		return true
	})
	return out, err
}

// scanPredictions pages through program accounts of prediction size until
// fn returns false.
func (q *QueryService) scanPredictions(ctx context.Context, fn func(PredictionView) bool) error {
	for offset := 0; ; offset += openScanPage {
		page, err := q.accounts.ListByOwner(ctx, q.programID, program.PredictionSize,
			domain.ListOpts{Limit: openScanPage, Offset: offset})
		if err != nil {
			return fmt.Errorf("service: list predictions: %w", err)
		}
		for _, acct := range page {
			v, err := decodePredictionView(acct)
			if err != nil {
				// Same size as a prediction but not one.
				continue
			}
			if !fn(v) {
				return nil
			}
		}
		if len(page) < openScanPage {
			return nil
		}
	}
}

func decodePredictionView(acct domain.Account) (PredictionView, error) {
	p, err := program.DecodePrediction(acct.Data)
	if err != nil {
		return PredictionView{}, fmt.Errorf("service: prediction %s: %w", acct.Key, err)
	}
	return PredictionView{Address: acct.Key, Prediction: p, Outcome: p.Outcome(), Slot: acct.Slot}, nil
}

// Receipt returns a transaction receipt.
func (q *QueryService) Receipt(ctx context.Context, id string) (domain.Receipt, error) {
	return q.receipts.Get(ctx, id)
}

// RecentReceipts returns the newest receipts.
func (q *QueryService) RecentReceipts(ctx context.Context, limit int) ([]domain.Receipt, error) {
	return q.receipts.ListRecent(ctx, limit)
}

// Settlements returns recent settlements.
func (q *QueryService) Settlements(ctx context.Context, opts domain.ListOpts) ([]domain.Settlement, error) {
	if q.settlements == nil {
		return nil, errors.New("service: settlement index not configured")
	}
	return q.settlements.ListRecent(ctx, opts)
}

// Status reports the current slot and state hash head.
func (q *QueryService) Status(ctx context.Context) (Status, error) {
	slot, err := q.clock.CurrentSlot()
	if err != nil {
		return Status{}, fmt.Errorf("service: %w: %v", program.ErrClockUnavailable, err)
	}
	head, err := q.receipts.Head(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("service: head: %w", err)
	}
	return Status{ProgramID: q.programID.String(), Slot: slot, StateHash: head}, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

// ReceiptStore implements domain.ReceiptStore.
type ReceiptStore struct {
	pool *pgxpool.Pool
}

// NewReceiptStore creates a ReceiptStore backed by pool.
func NewReceiptStore(pool *pgxpool.Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

const receiptSelectCols = `id, instruction, status, slot, accounts, error, state_hash, created_at`

func scanReceipt(row pgx.Row) (domain.Receipt, error) {
	var (
		r       domain.Receipt
		status  string
		slot    int64
		errJSON []byte
	)
	if err := row.Scan(&r.ID, &r.Instruction, &status, &slot, &r.Accounts, &errJSON, &r.StateHash, &r.CreatedAt); err != nil {
		return domain.Receipt{}, err
	}
	r.Status = domain.TxStatus(status)
	r.Slot = uint64(slot)
	if len(errJSON) > 0 {
		r.Error = &domain.TxError{}
		if err := json.Unmarshal(errJSON, r.Error); err != nil {
			return domain.Receipt{}, fmt.Errorf("unmarshal receipt error: %w", err)
		}
	}
	return r, nil
}

// Insert stores a receipt outside of an account commit. Failed
// transactions land here. A receipt id that already exists is overwritten.
func (s *ReceiptStore) Insert(ctx context.Context, r domain.Receipt) error {
	b := &pgx.Batch{}
	if err := queueReceipt(b, r); err != nil {
		return err
	}
	if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("postgres: insert receipt %s: %w", r.ID, err)
	}
	return nil
}

// Get returns a receipt by transaction id.
func (s *ReceiptStore) Get(ctx context.Context, id string) (domain.Receipt, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+receiptSelectCols+` FROM receipts WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Receipt{}, domain.ErrNotFound
		}
		return domain.Receipt{}, fmt.Errorf("postgres: get receipt %s: %w", id, err)
	}
	return r, nil
}

// ListRecent returns the newest receipts first.
func (s *ReceiptStore) ListRecent(ctx context.Context, limit int) ([]domain.Receipt, error) {
	q := newQuery(`SELECT ` + receiptSelectCols + ` FROM receipts WHERE TRUE`)
	q.order("seq DESC")
	q.page(domain.ListOpts{Limit: limit})

	rows, err := s.pool.Query(ctx, q.sql, q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts: %w", err)
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan receipt: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list receipts rows: %w", err)
	}
	return out, nil
}

// Head returns the state hash of the latest successful receipt.
func (s *ReceiptStore) Head(ctx context.Context) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `
		SELECT state_hash FROM receipts
		WHERE status = $1
		ORDER BY seq DESC
		LIMIT 1`, string(domain.TxSucceeded),
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("postgres: receipt head: %w", err)
	}
	return hash, nil
}

var _ domain.ReceiptStore = (*ReceiptStore)(nil)
